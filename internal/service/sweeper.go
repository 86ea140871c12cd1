package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/atelierhq/atelier/internal/cache"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/model"
	"github.com/atelierhq/atelier/internal/repository"
	"github.com/atelierhq/atelier/internal/storage"
)

// SweepReport summarizes one reconciliation pass.
type SweepReport struct {
	Scanned   int
	Recovered int // Object present despite a lost confirm; marked uploaded
	Failed    int // Nothing ever arrived; marked failed
	Skipped   int // Pending record still live, upload window not over
}

// Sweeper repairs divergence between the durable store and the object store:
// uploads whose signed URL lapsed without a confirm, and confirms whose
// response was lost after the object was written. Each run is stateless and
// idempotent; because every mutation is a conditional update keyed on the
// open status set, overlapping runs and in-flight confirms cannot
// double-process a row.
type Sweeper struct {
	assets repository.AssetRepository
	cache  cache.Cache
	store  storage.Gateway

	// uploadWindow matches the signed URL lifetime; rows older than this
	// with no pending record are abandonable.
	uploadWindow time.Duration

	// retention bounds how long FAILED rows are kept for audit before the
	// purge pass hard-deletes them.
	retention time.Duration

	batchSize int

	now func() time.Time
}

func NewSweeper(assets repository.AssetRepository, c cache.Cache, store storage.Gateway, uploadWindow, retention time.Duration, batchSize int) *Sweeper {
	return &Sweeper{
		assets:       assets,
		cache:        c,
		store:        store,
		uploadWindow: uploadWindow,
		retention:    retention,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

// Run reconciles expired open uploads. For each candidate the object store is
// the tiebreaker: an object at the storage path means the upload actually
// finished and only the confirm response was lost.
func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	now := s.now()
	report := &SweepReport{}

	candidates, err := s.assets.OpenOlderThan(ctx, now.Add(-s.uploadWindow), s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to scan open assets: %w", err)
	}

	for _, asset := range candidates {
		report.Scanned++

		// A live pending record means the client may still be uploading.
		_, err := s.cache.Get(ctx, pendingKey(asset.ID))
		if err == nil {
			report.Skipped++
			continue
		}
		if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("sweeper cache read failed, skipping asset", "asset_id", asset.ID, "error", err)
			report.Skipped++
			continue
		}

		err = s.reconcile(ctx, asset, report)
		if err != nil {
			slog.Error("failed to reconcile asset", "asset_id", asset.ID, "error", err)
		}
	}

	if report.Recovered > 0 || report.Failed > 0 {
		slog.Info("sweep completed",
			"scanned", report.Scanned,
			"recovered", report.Recovered,
			"failed", report.Failed,
			"skipped", report.Skipped,
		)
	}

	return report, nil
}

func (s *Sweeper) reconcile(ctx context.Context, asset *model.Asset, report *SweepReport) error {
	info, err := s.store.Stat(ctx, asset.StoragePath)
	if err != nil {
		return fmt.Errorf("failed to stat object: %w", err)
	}

	if info.Exists {
		ok, err := s.assets.Resolve(ctx, asset.ID, model.AssetStatusUploaded, nil, nil, s.now())
		if err != nil {
			return err
		}
		if ok {
			report.Recovered++
			metrics.SweeperReconciled.WithLabelValues("recovered").Inc()
			slog.Info("recovered upload with lost confirm", "asset_id", asset.ID, "workspace_id", asset.WorkspaceID)
		}
		return nil
	}

	reason := "upload expired before completion"
	ok, err := s.assets.Resolve(ctx, asset.ID, model.AssetStatusFailed, nil, &reason, s.now())
	if err != nil {
		return err
	}
	if ok {
		report.Failed++
		metrics.SweeperReconciled.WithLabelValues("failed").Inc()
	}
	return nil
}

// Purge hard-deletes FAILED rows past the retention window. They occupy no
// storage bytes and have no recovery value by then.
func (s *Sweeper) Purge(ctx context.Context) (int64, error) {
	purged, err := s.assets.PurgeFailedBefore(ctx, s.now().Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge failed assets: %w", err)
	}

	if purged > 0 {
		metrics.SweeperPurged.Add(float64(purged))
		slog.Info("purged failed assets past retention", "count", purged)
	}

	return purged, nil
}
