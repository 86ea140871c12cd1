package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/internal/cache"
	"github.com/atelierhq/atelier/internal/model"
	"github.com/atelierhq/atelier/internal/repository"
)

type sweepEnv struct {
	sweeper *Sweeper
	upload  *UploadService
	assets  repository.AssetRepository
	cache   cache.Cache
	gw      *fakeGateway
}

func newSweepEnv(t *testing.T) *sweepEnv {
	t.Helper()
	env := newUploadEnv(t, cache.NewMemory())
	sweeper := NewSweeper(env.assets, env.cache, env.gw, 30*time.Minute, 7*24*time.Hour, 100)
	return &sweepEnv{sweeper: sweeper, upload: env.svc, assets: env.assets, cache: env.cache, gw: env.gw}
}

// prepareAged sets up an upload whose window lapsed, with the pending record
// already gone from the cache.
func (e *sweepEnv) prepareAged(t *testing.T, filename string, age time.Duration) string {
	t.Helper()
	ctx := context.Background()

	prepared, err := e.upload.Prepare(ctx, "ws-1", "user-1", filename, "image/png", 1024, "")
	require.NoError(t, err)
	require.NoError(t, e.cache.Delete(ctx, pendingKey(prepared.AssetID)))

	e.sweeper.now = func() time.Time { return time.Now().Add(age) }
	return prepared.AssetID
}

func TestSweepFailsAbandonedUpload(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	id := env.prepareAged(t, "a.png", time.Hour)

	report, err := env.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 0, report.Recovered)

	row, err := env.assets.ByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AssetStatusFailed, row.Status)
	require.NotNil(t, row.ErrorMessage)
	assert.Equal(t, "upload expired before completion", *row.ErrorMessage)
}

func TestSweepRecoversLostConfirm(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	id := env.prepareAged(t, "a.png", time.Hour)

	// The bytes arrived; only the confirm never happened.
	env.gw.put(model.AssetStoragePath("ws-1", id, "a.png"), 1024)

	report, err := env.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, 0, report.Failed)

	row, err := env.assets.ByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.AssetStatusUploaded, row.Status)
}

func TestSweepSkipsLivePendingRecord(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	prepared, err := env.upload.Prepare(ctx, "ws-1", "user-1", "a.png", "image/png", 1024, "")
	require.NoError(t, err)

	// Row looks old to the sweeper but the pending record is still live, so
	// the client may still be uploading.
	env.sweeper.now = func() time.Time { return time.Now().Add(time.Hour) }

	report, err := env.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Skipped)

	row, err := env.assets.ByID(ctx, prepared.AssetID)
	require.NoError(t, err)
	assert.Equal(t, model.AssetStatusPendingUpload, row.Status)
}

func TestSweepIgnoresFreshUploads(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	_, err := env.upload.Prepare(ctx, "ws-1", "user-1", "a.png", "image/png", 1024, "")
	require.NoError(t, err)

	report, err := env.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
}

func TestSweepIsIdempotent(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	env.prepareAged(t, "a.png", time.Hour)

	first, err := env.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Failed)

	second, err := env.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Scanned)
	assert.Equal(t, 0, second.Failed)
}

func TestPurgeRemovesOldFailedRows(t *testing.T) {
	env := newSweepEnv(t)
	ctx := context.Background()

	id := env.prepareAged(t, "a.png", time.Hour)
	_, err := env.sweeper.Run(ctx)
	require.NoError(t, err)

	// Inside retention: kept.
	purged, err := env.sweeper.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)

	// Past retention: gone.
	env.sweeper.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	purged, err = env.sweeper.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)

	_, err = env.assets.ByID(ctx, id)
	assert.ErrorIs(t, err, repository.ErrAssetNotFound)
}
