package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/atelierhq/atelier/internal/model"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
)

type AssetRepository interface {
	Create(ctx context.Context, asset *model.Asset) error
	ByID(ctx context.Context, id string) (*model.Asset, error)
	ByWorkspaceIDs(ctx context.Context, workspaceID string, ids []string) ([]*model.Asset, error)

	// Resolve conditionally moves an asset out of the open status set. It
	// reports false when the row was already resolved by a concurrent
	// confirm or sweeper pass, in which case nothing was written.
	Resolve(ctx context.Context, id string, to model.AssetStatus, checksum, errorMessage *string, now time.Time) (bool, error)

	// SoftDelete marks an uploaded or failed asset deleted. Audit history
	// is retained; the row is never removed here.
	SoftDelete(ctx context.Context, id string, now time.Time) (bool, error)

	// Rollback removes a row created by a prepare whose second phase never
	// became durable. Only callers that just created the row may use it.
	Rollback(ctx context.Context, id string) error

	OpenOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Asset, error)
	PurgeFailedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type assetRepository struct {
	db *sqlx.DB
}

func NewAssetRepository(db *sqlx.DB) *assetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) Create(ctx context.Context, asset *model.Asset) error {
	query := `INSERT INTO assets (id, workspace_id, name, mime_type, size, storage_path, checksum, storage_status, uploaded_by, error_message, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.ExecContext(ctx, query,
		asset.ID,
		asset.WorkspaceID,
		asset.Name,
		asset.MimeType,
		asset.Size,
		asset.StoragePath,
		asset.Checksum,
		asset.Status,
		asset.UploadedBy,
		asset.ErrorMessage,
		asset.CreatedAt,
		asset.UpdatedAt,
	)

	return err
}

func (r *assetRepository) ByID(ctx context.Context, id string) (*model.Asset, error) {
	asset := &model.Asset{}
	query := `SELECT * FROM assets WHERE id = $1`

	err := r.db.GetContext(ctx, asset, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrAssetNotFound
	}

	return asset, err
}

func (r *assetRepository) ByWorkspaceIDs(ctx context.Context, workspaceID string, ids []string) ([]*model.Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM assets WHERE workspace_id = ? AND id IN (?)`, workspaceID, ids)
	if err != nil {
		return nil, err
	}

	var assets []*model.Asset
	err = r.db.SelectContext(ctx, &assets, r.db.Rebind(query), args...)
	if err != nil {
		return nil, err
	}

	return assets, nil
}

// Resolve is the commit point of the upload transaction. The status predicate
// makes concurrent resolvers settle on exactly one outcome: whichever update
// lands first wins and the loser observes zero affected rows.
func (r *assetRepository) Resolve(ctx context.Context, id string, to model.AssetStatus, checksum, errorMessage *string, now time.Time) (bool, error) {
	query := `UPDATE assets
	          SET storage_status = $1, checksum = $2, error_message = $3, updated_at = $4
	          WHERE id = $5 AND storage_status IN ($6, $7)`

	res, err := r.db.ExecContext(ctx, query,
		to,
		checksum,
		errorMessage,
		now,
		id,
		model.AssetStatusPendingUpload,
		model.AssetStatusUploading,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *assetRepository) SoftDelete(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `UPDATE assets
	          SET storage_status = $1, updated_at = $2
	          WHERE id = $3 AND storage_status IN ($4, $5)`

	res, err := r.db.ExecContext(ctx, query,
		model.AssetStatusDeleted,
		now,
		id,
		model.AssetStatusUploaded,
		model.AssetStatusFailed,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *assetRepository) Rollback(ctx context.Context, id string) error {
	query := `DELETE FROM assets WHERE id = $1 AND storage_status = $2`
	_, err := r.db.ExecContext(ctx, query, id, model.AssetStatusPendingUpload)
	return err
}

func (r *assetRepository) OpenOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*model.Asset, error) {
	var assets []*model.Asset
	query := `SELECT * FROM assets
	          WHERE storage_status IN ($1, $2) AND created_at < $3
	          ORDER BY created_at ASC
	          LIMIT $4`

	err := r.db.SelectContext(ctx, &assets, query,
		model.AssetStatusPendingUpload,
		model.AssetStatusUploading,
		cutoff,
		limit,
	)
	if err != nil {
		return nil, err
	}

	return assets, nil
}

func (r *assetRepository) PurgeFailedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM assets WHERE storage_status = $1 AND updated_at < $2`

	res, err := r.db.ExecContext(ctx, query, model.AssetStatusFailed, cutoff)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
