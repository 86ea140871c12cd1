package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/atelierhq/atelier/internal/apperr"
	"github.com/atelierhq/atelier/internal/cache"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/model"
	"github.com/atelierhq/atelier/internal/repository"
	"github.com/atelierhq/atelier/internal/storage"
	"github.com/atelierhq/atelier/internal/validation"
)

// UploadPolicy carries the tunable limits of the upload protocol.
type UploadPolicy struct {
	Constraints    validation.UploadConstraints
	URLExpiry      time.Duration // Also the pending record TTL
	DownloadExpiry time.Duration
}

// PreparedUpload is the capability handed to the client: where to PUT the
// bytes and until when.
type PreparedUpload struct {
	AssetID   string
	UploadURL string
	ExpiresAt time.Time
}

// pendingUpload is the cache-side half of a prepared upload. Its absence
// after the TTL is the signal that the upload is abandonable.
type pendingUpload struct {
	WorkspaceID string    `json:"workspace_id"`
	Checksum    string    `json:"checksum,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func pendingKey(assetID string) string {
	return "upload:pending:" + assetID
}

// UploadService coordinates direct-to-storage uploads: the asset row in the
// durable store and the object in the bucket must never disagree about what
// exists, across crashes, abandonment, and concurrent confirms.
type UploadService struct {
	assets repository.AssetRepository
	cache  cache.Cache
	store  storage.Gateway
	policy UploadPolicy

	// now is swappable so tests can age pending uploads.
	now func() time.Time
}

func NewUploadService(assets repository.AssetRepository, c cache.Cache, store storage.Gateway, policy UploadPolicy) *UploadService {
	return &UploadService{
		assets: assets,
		cache:  c,
		store:  store,
		policy: policy,
		now:    time.Now,
	}
}

// Prepare reserves the upload intent. The asset row and the pending record
// are the two halves of the prepare phase: if the second write fails, the
// first is rolled back so no orphan PENDING_UPLOAD row survives without a
// pending record to expire it.
func (s *UploadService) Prepare(ctx context.Context, workspaceID, uploaderID, filename, mimeType string, size int64, declaredChecksum string) (*PreparedUpload, error) {
	err := validation.ValidateUpload(filename, mimeType, size, s.policy.Constraints)
	if err != nil {
		return nil, err
	}

	now := s.now()
	asset := &model.Asset{
		ID:          uuid.New().String(),
		WorkspaceID: workspaceID,
		Name:        filename,
		MimeType:    mimeType,
		Size:        size,
		Status:      model.AssetStatusPendingUpload,
		UploadedBy:  uploaderID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	// Storage path embeds the asset id so each signed URL is scoped to one asset.
	asset.StoragePath = model.AssetStoragePath(workspaceID, asset.ID, filename)

	err = s.assets.Create(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("failed to create asset record: %w", err)
	}

	url, err := s.store.MintUploadURL(ctx, asset.StoragePath, s.policy.URLExpiry)
	if err != nil {
		s.rollbackPrepare(ctx, asset.ID)
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}

	record, err := json.Marshal(pendingUpload{
		WorkspaceID: workspaceID,
		Checksum:    declaredChecksum,
		CreatedAt:   now,
	})
	if err != nil {
		s.rollbackPrepare(ctx, asset.ID)
		return nil, fmt.Errorf("failed to encode pending record: %w", err)
	}

	err = s.cache.Set(ctx, pendingKey(asset.ID), string(record), s.policy.URLExpiry)
	if err != nil {
		s.rollbackPrepare(ctx, asset.ID)
		return nil, fmt.Errorf("%w: %v", apperr.ErrCacheUnavailable, err)
	}

	metrics.UploadsPrepared.Inc()
	slog.Info("upload prepared",
		"asset_id", asset.ID,
		"workspace_id", workspaceID,
		"size", size,
		"expires_at", now.Add(s.policy.URLExpiry),
	)

	return &PreparedUpload{
		AssetID:   asset.ID,
		UploadURL: url,
		ExpiresAt: now.Add(s.policy.URLExpiry),
	}, nil
}

func (s *UploadService) rollbackPrepare(ctx context.Context, assetID string) {
	err := s.assets.Rollback(ctx, assetID)
	if err != nil {
		// The sweeper will fail the row once its window lapses.
		slog.Error("failed to roll back prepared asset", "asset_id", assetID, "error", err)
	}
}

// Confirm is the commit point of the upload transaction. The client's claim
// that the upload succeeded is never trusted: the object must actually exist
// at the asset's storage path with the declared size. Safe to call twice; a
// retried confirm on an already-uploaded asset returns the row unchanged.
func (s *UploadService) Confirm(ctx context.Context, assetID, reportedChecksum string) (*model.Asset, error) {
	asset, err := s.assets.ByID(ctx, assetID)
	if err != nil {
		if errors.Is(err, repository.ErrAssetNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load asset: %w", err)
	}

	switch asset.Status {
	case model.AssetStatusUploaded:
		return asset, nil // Retried confirm after a dropped response
	case model.AssetStatusDeleted:
		return nil, apperr.ErrNotFound
	case model.AssetStatusFailed:
		return nil, &apperr.ExpiredUploadError{AssetID: assetID}
	}

	pending, err := s.readPending(ctx, assetID)
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, &apperr.ExpiredUploadError{AssetID: assetID}
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrCacheUnavailable, err)
	}

	if pending.Checksum != "" && reportedChecksum != pending.Checksum {
		s.resolveFailed(ctx, assetID, "checksum mismatch against declared value")
		return nil, &apperr.IntegrityError{AssetID: assetID, Reason: "checksum mismatch"}
	}

	info, err := s.store.Stat(ctx, asset.StoragePath)
	if err != nil {
		// Transient: leave the asset open so a retry can still settle it.
		return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}
	if !info.Exists {
		s.resolveFailed(ctx, assetID, "no object found at storage path")
		return nil, &apperr.IntegrityError{AssetID: assetID, Reason: "object missing from storage"}
	}
	if info.Size != asset.Size {
		s.resolveFailed(ctx, assetID, fmt.Sprintf("object size %d does not match declared size %d", info.Size, asset.Size))
		return nil, &apperr.IntegrityError{AssetID: assetID, Reason: "size mismatch"}
	}

	var checksum *string
	if reportedChecksum != "" {
		checksum = &reportedChecksum
	}

	ok, err := s.assets.Resolve(ctx, assetID, model.AssetStatusUploaded, checksum, nil, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to mark asset uploaded: %w", err)
	}
	if !ok {
		// Lost the race: a concurrent confirm or sweeper resolved the row
		// first. Settle on whatever it decided.
		settled, err := s.assets.ByID(ctx, assetID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload asset: %w", err)
		}
		if settled.Status == model.AssetStatusUploaded {
			return settled, nil
		}
		return nil, &apperr.ExpiredUploadError{AssetID: assetID}
	}

	s.deletePending(ctx, assetID)
	metrics.UploadsConfirmed.Inc()
	slog.Info("upload confirmed", "asset_id", assetID, "workspace_id", asset.WorkspaceID, "size", info.Size)

	asset.Status = model.AssetStatusUploaded
	asset.Checksum = checksum
	asset.UpdatedAt = s.now()
	return asset, nil
}

// resolveFailed settles an open asset as failed with a human-readable reason.
// The asset stays visible so the owner can see why and retry from a fresh
// prepare. Losing the conditional update means the row already settled, which
// is fine either way.
func (s *UploadService) resolveFailed(ctx context.Context, assetID, reason string) {
	ok, err := s.assets.Resolve(ctx, assetID, model.AssetStatusFailed, nil, &reason, s.now())
	if err != nil {
		slog.Error("failed to mark asset failed", "asset_id", assetID, "error", err)
		return
	}
	if ok {
		metrics.UploadsFailed.Inc()
	}
	s.deletePending(ctx, assetID)
}

func (s *UploadService) readPending(ctx context.Context, assetID string) (*pendingUpload, error) {
	raw, err := s.cache.Get(ctx, pendingKey(assetID))
	if err != nil {
		return nil, err
	}

	var pending pendingUpload
	err = json.Unmarshal([]byte(raw), &pending)
	if err != nil {
		return nil, fmt.Errorf("corrupt pending record: %w", err)
	}

	return &pending, nil
}

func (s *UploadService) deletePending(ctx context.Context, assetID string) {
	err := s.cache.Delete(ctx, pendingKey(assetID))
	if err != nil {
		// Harmless: the record expires on its own TTL.
		slog.Warn("failed to delete pending upload record", "asset_id", assetID, "error", err)
	}
}

// DownloadURL mints a time-limited signed GET URL for an uploaded asset.
// Assets outside the caller's workspace are reported as not found rather than
// forbidden, so asset ids do not leak across tenants.
func (s *UploadService) DownloadURL(ctx context.Context, workspaceID, assetID string) (string, error) {
	asset, err := s.assets.ByID(ctx, assetID)
	if err != nil {
		if errors.Is(err, repository.ErrAssetNotFound) {
			return "", apperr.ErrNotFound
		}
		return "", fmt.Errorf("failed to load asset: %w", err)
	}
	if asset.WorkspaceID != workspaceID || asset.Status != model.AssetStatusUploaded {
		return "", apperr.ErrNotFound
	}

	url, err := s.store.MintDownloadURL(ctx, asset.StoragePath, s.policy.DownloadExpiry)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
	}

	return url, nil
}

// BatchDownloadURLs mints download URLs for the workspace's uploaded assets
// among ids. Unknown, foreign, and non-uploaded ids are silently omitted.
func (s *UploadService) BatchDownloadURLs(ctx context.Context, workspaceID string, ids []string) (map[string]string, error) {
	assets, err := s.assets.ByWorkspaceIDs(ctx, workspaceID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load assets: %w", err)
	}

	urls := make(map[string]string, len(assets))
	for _, asset := range assets {
		if asset.Status != model.AssetStatusUploaded {
			continue
		}
		url, err := s.store.MintDownloadURL(ctx, asset.StoragePath, s.policy.DownloadExpiry)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrStorageUnavailable, err)
		}
		urls[asset.ID] = url
	}

	return urls, nil
}

// Delete soft-deletes an uploaded or failed asset and removes the object from
// storage on a best-effort basis. Deleting an already-deleted asset is a
// no-op; deleting an in-flight upload is rejected.
func (s *UploadService) Delete(ctx context.Context, workspaceID, assetID string) error {
	asset, err := s.assets.ByID(ctx, assetID)
	if err != nil {
		if errors.Is(err, repository.ErrAssetNotFound) {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("failed to load asset: %w", err)
	}
	if asset.WorkspaceID != workspaceID {
		return apperr.ErrNotFound
	}

	ok, err := s.assets.SoftDelete(ctx, assetID, s.now())
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}
	if !ok {
		if asset.Status == model.AssetStatusDeleted {
			return nil
		}
		return &apperr.ValidationError{Field: "asset", Reason: "upload still in flight"}
	}

	if asset.Status == model.AssetStatusUploaded {
		err = s.store.Delete(ctx, asset.StoragePath)
		if err != nil {
			slog.Warn("failed to delete object from storage", "asset_id", assetID, "path", asset.StoragePath, "error", err)
		}
	}

	return nil
}
