package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/internal/model"
	"github.com/atelierhq/atelier/internal/testutil"
)

func newAsset(workspaceID string, status model.AssetStatus, createdAt time.Time) *model.Asset {
	id := uuid.New().String()
	return &model.Asset{
		ID:          id,
		WorkspaceID: workspaceID,
		Name:        "a.png",
		MimeType:    "image/png",
		Size:        1024,
		StoragePath: model.AssetStoragePath(workspaceID, id, "a.png"),
		Status:      status,
		UploadedBy:  "user-1",
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestAssetCreateAndByID(t *testing.T) {
	repo := NewAssetRepository(testutil.NewDB(t))
	ctx := context.Background()

	asset := newAsset("ws-1", model.AssetStatusPendingUpload, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, asset))

	got, err := repo.ByID(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.ID, got.ID)
	assert.Equal(t, "ws-1", got.WorkspaceID)
	assert.Equal(t, model.AssetStatusPendingUpload, got.Status)
	assert.Nil(t, got.Checksum)
	assert.Nil(t, got.ErrorMessage)
}

func TestAssetByIDNotFound(t *testing.T) {
	repo := NewAssetRepository(testutil.NewDB(t))

	_, err := repo.ByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestResolveWinsOnceOnly(t *testing.T) {
	repo := NewAssetRepository(testutil.NewDB(t))
	ctx := context.Background()

	asset := newAsset("ws-1", model.AssetStatusPendingUpload, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, asset))

	checksum := "abc"
	ok, err := repo.Resolve(ctx, asset.ID, model.AssetStatusUploaded, &checksum, nil, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	// Second resolver loses: the row left the open set.
	reason := "too late"
	ok, err = repo.Resolve(ctx, asset.ID, model.AssetStatusFailed, nil, &reason, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repo.ByID(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetStatusUploaded, got.Status)
	require.NotNil(t, got.Checksum)
	assert.Equal(t, "abc", *got.Checksum)
	assert.Nil(t, got.ErrorMessage)
}

func TestResolveOnlyTouchesOpenStatuses(t *testing.T) {
	repo := NewAssetRepository(testutil.NewDB(t))
	ctx := context.Background()

	tests := []struct {
		status model.AssetStatus
		wantOK bool
	}{
		{model.AssetStatusPendingUpload, true},
		{model.AssetStatusUploading, true},
		{model.AssetStatusUploaded, false},
		{model.AssetStatusFailed, false},
		{model.AssetStatusDeleted, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			asset := newAsset("ws-1", tt.status, time.Now().UTC())
			require.NoError(t, repo.Create(ctx, asset))

			ok, err := repo.Resolve(ctx, asset.ID, model.AssetStatusUploaded, nil, nil, time.Now().UTC())
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestResolveFailedStoresReason(t *testing.T) {
	repo := NewAssetRepository(testutil.NewDB(t))
	ctx := context.Background()

	asset := newAsset("ws-1", model.AssetStatusUploading, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, asset))

	reason := "upload expired before completion"
	ok, err := repo.Resolve(ctx, asset.ID, model.AssetStatusFailed, nil, &reason, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.ByID(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, reason, *got.ErrorMessage)
}

func TestSoftDelete(t *testing.T) {
	repo := NewAssetRepository(testutil.NewDB(t))
	ctx := context.Background()

	uploaded := newAsset("ws-1", model.AssetStatusUploaded, time.Now().UTC())
	pending := newAsset("ws-1", model.AssetStatusPendingUpload, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, uploaded))
	require.NoError(t, repo.Create(ctx, pending))

	ok, err := repo.SoftDelete(ctx, uploaded.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.ByID(ctx, uploaded.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetStatusDeleted, got.Status)

	// In-flight uploads cannot be deleted.
	ok, err = repo.SoftDelete(ctx, pending.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRollbackOnlyRemovesPendingRows(t *testing.T) {
	repo := NewAssetRepository(testutil.NewDB(t))
	ctx := context.Background()

	pending := newAsset("ws-1", model.AssetStatusPendingUpload, time.Now().UTC())
	uploaded := newAsset("ws-1", model.AssetStatusUploaded, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, pending))
	require.NoError(t, repo.Create(ctx, uploaded))

	require.NoError(t, repo.Rollback(ctx, pending.ID))
	_, err := repo.ByID(ctx, pending.ID)
	assert.ErrorIs(t, err, ErrAssetNotFound)

	require.NoError(t, repo.Rollback(ctx, uploaded.ID))
	_, err = repo.ByID(ctx, uploaded.ID)
	assert.NoError(t, err)
}

func TestOpenOlderThan(t *testing.T) {
	repo := NewAssetRepository(testutil.NewDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	old := newAsset("ws-1", model.AssetStatusPendingUpload, now.Add(-2*time.Hour))
	fresh := newAsset("ws-1", model.AssetStatusPendingUpload, now)
	oldButResolved := newAsset("ws-1", model.AssetStatusUploaded, now.Add(-2*time.Hour))
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, fresh))
	require.NoError(t, repo.Create(ctx, oldButResolved))

	got, err := repo.OpenOlderThan(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, old.ID, got[0].ID)
}

func TestPurgeFailedBefore(t *testing.T) {
	repo := NewAssetRepository(testutil.NewDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	stale := newAsset("ws-1", model.AssetStatusFailed, now.Add(-60*24*time.Hour))
	recent := newAsset("ws-1", model.AssetStatusFailed, now)
	require.NoError(t, repo.Create(ctx, stale))
	require.NoError(t, repo.Create(ctx, recent))

	purged, err := repo.PurgeFailedBefore(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = repo.ByID(ctx, stale.ID)
	assert.ErrorIs(t, err, ErrAssetNotFound)
	_, err = repo.ByID(ctx, recent.ID)
	assert.NoError(t, err)
}

func TestByWorkspaceIDs(t *testing.T) {
	repo := NewAssetRepository(testutil.NewDB(t))
	ctx := context.Background()

	mine := newAsset("ws-1", model.AssetStatusUploaded, time.Now().UTC())
	theirs := newAsset("ws-2", model.AssetStatusUploaded, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, mine))
	require.NoError(t, repo.Create(ctx, theirs))

	got, err := repo.ByWorkspaceIDs(ctx, "ws-1", []string{mine.ID, theirs.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)

	got, err = repo.ByWorkspaceIDs(ctx, "ws-1", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
