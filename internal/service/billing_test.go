package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/atelier/internal/apperr"
	"github.com/atelierhq/atelier/internal/cache"
	"github.com/atelierhq/atelier/internal/model"
	"github.com/atelierhq/atelier/internal/repository"
	"github.com/atelierhq/atelier/internal/testutil"
)

type billingEnv struct {
	svc     *BillingService
	billing repository.BillingRepository
	cache   cache.Cache
}

func newBillingEnv(t *testing.T, startingCredits int) *billingEnv {
	t.Helper()
	billing := repository.NewBillingRepository(testutil.NewDB(t))
	mem := cache.NewMemory()
	svc := NewBillingService(billing, mem, 30*time.Second, startingCredits)
	return &billingEnv{svc: svc, billing: billing, cache: mem}
}

func TestCreditsLazilyCreatesLedger(t *testing.T) {
	env := newBillingEnv(t, 50)
	ctx := context.Background()

	credits, err := env.svc.Credits(ctx, "ws-new")
	require.NoError(t, err)
	assert.Equal(t, 50, credits)

	row, err := env.billing.ByWorkspaceID(ctx, "ws-new")
	require.NoError(t, err)
	assert.Equal(t, model.TierFree, row.Tier)
	assert.Equal(t, 50, row.CreditsRemaining)
}

func TestCreditsServedFromCache(t *testing.T) {
	env := newBillingEnv(t, 50)
	ctx := context.Background()

	_, err := env.svc.Credits(ctx, "ws-1")
	require.NoError(t, err)

	// A stale cached value wins until its TTL lapses.
	require.NoError(t, env.cache.Set(ctx, balanceKey("ws-1"), "7", time.Minute))
	credits, err := env.svc.Credits(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 7, credits)
}

func TestTryDeductUntilExhausted(t *testing.T) {
	env := newBillingEnv(t, 30)
	ctx := context.Background()

	for want := 20; want >= 0; want -= 10 {
		remaining, err := env.svc.TryDeduct(ctx, "ws-1", 10)
		require.NoError(t, err)
		assert.Equal(t, want, remaining)
	}

	remaining, err := env.svc.TryDeduct(ctx, "ws-1", 10)
	var insufficient *apperr.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 10, insufficient.Required)
	assert.Equal(t, 0, insufficient.Remaining)
	assert.Equal(t, 0, remaining)
}

func TestTryDeductZeroCostIsReadOnly(t *testing.T) {
	env := newBillingEnv(t, 50)
	ctx := context.Background()

	remaining, err := env.svc.TryDeduct(ctx, "ws-1", 0)
	require.NoError(t, err)
	assert.Equal(t, 50, remaining)

	row, err := env.billing.ByWorkspaceID(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 50, row.CreditsRemaining)
}

func TestTryDeductNegativeCostRejected(t *testing.T) {
	env := newBillingEnv(t, 50)

	_, err := env.svc.TryDeduct(context.Background(), "ws-1", -1)
	var validationErr *apperr.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestTryDeductRefreshesCache(t *testing.T) {
	env := newBillingEnv(t, 50)
	ctx := context.Background()

	_, err := env.svc.TryDeduct(ctx, "ws-1", 10)
	require.NoError(t, err)

	val, err := env.cache.Get(ctx, balanceKey("ws-1"))
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(40), val)
}

func TestTryDeductIgnoresStaleCache(t *testing.T) {
	env := newBillingEnv(t, 5)
	ctx := context.Background()

	_, err := env.svc.Credits(ctx, "ws-1")
	require.NoError(t, err)

	// Cache claims plenty; the durable ledger says otherwise. The deduction
	// path must side with the ledger.
	require.NoError(t, env.cache.Set(ctx, balanceKey("ws-1"), "1000", time.Minute))

	_, err = env.svc.TryDeduct(ctx, "ws-1", 100)
	var insufficient *apperr.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 5, insufficient.Remaining)
}

func TestTryDeductConcurrentNeverOverspends(t *testing.T) {
	env := newBillingEnv(t, 3)
	ctx := context.Background()

	// Warm the ledger row so the workers race on the deduction alone.
	_, err := env.svc.Credits(ctx, "ws-1")
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	granted := make(chan int, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			remaining, err := env.svc.TryDeduct(ctx, "ws-1", 1)
			if err != nil {
				errs <- err
				return
			}
			granted <- remaining
		}()
	}
	wg.Wait()
	close(granted)
	close(errs)

	assert.Len(t, granted, 3)
	for err := range errs {
		var insufficient *apperr.InsufficientCreditsError
		assert.ErrorAs(t, err, &insufficient)
	}

	row, err := env.billing.ByWorkspaceID(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 0, row.CreditsRemaining)
}

func TestResetPeriod(t *testing.T) {
	env := newBillingEnv(t, 50)
	ctx := context.Background()

	_, err := env.svc.TryDeduct(ctx, "ws-1", 50)
	require.NoError(t, err)

	// Not due yet.
	require.NoError(t, env.svc.ResetPeriod(ctx, "ws-1"))
	credits, err := env.svc.Credits(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, 0, credits)

	// Jump past the reset date.
	env.svc.now = func() time.Time { return time.Now().UTC().AddDate(0, 2, 0) }
	require.NoError(t, env.svc.ResetPeriod(ctx, "ws-1"))

	credits, err = env.svc.Credits(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, model.TierCreditLimit(model.TierFree), credits)
}

func TestResetDue(t *testing.T) {
	env := newBillingEnv(t, 50)
	ctx := context.Background()

	for _, ws := range []string{"ws-1", "ws-2", "ws-3"} {
		_, err := env.svc.TryDeduct(ctx, ws, 10)
		require.NoError(t, err)
	}

	env.svc.now = func() time.Time { return time.Now().UTC().AddDate(0, 2, 0) }
	reset, err := env.svc.ResetDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, reset)

	for _, ws := range []string{"ws-1", "ws-2", "ws-3"} {
		credits, err := env.svc.Credits(ctx, ws)
		require.NoError(t, err)
		assert.Equal(t, model.TierCreditLimit(model.TierFree), credits, ws)
	}
}

func TestSetTier(t *testing.T) {
	env := newBillingEnv(t, 50)
	ctx := context.Background()

	require.NoError(t, env.svc.SetTier(ctx, "ws-1", model.TierPro))

	row, err := env.svc.Workspace(ctx, "ws-1")
	require.NoError(t, err)
	assert.Equal(t, model.TierPro, row.Tier)
	assert.Equal(t, model.TierCreditLimit(model.TierPro), row.CreditsLimit)

	// Downgrade clamps the balance to the smaller limit.
	require.NoError(t, env.svc.SetTier(ctx, "ws-1", model.TierFree))
	credits, err := env.svc.Credits(ctx, "ws-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, credits, model.TierCreditLimit(model.TierFree))

	err = env.svc.SetTier(ctx, "ws-1", "platinum")
	var validationErr *apperr.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}
