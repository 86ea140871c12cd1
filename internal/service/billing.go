package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/atelierhq/atelier/internal/apperr"
	"github.com/atelierhq/atelier/internal/cache"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/model"
	"github.com/atelierhq/atelier/internal/repository"
)

func balanceKey(workspaceID string) string {
	return "billing:credits:" + workspaceID
}

// BillingService meters generation credits per workspace. The durable ledger
// row is authoritative; the cache is a short-TTL read accelerator that may lag
// by at most the TTL, which is acceptable because credit checks are advisory
// and the deduction path re-validates against the durable store.
type BillingService struct {
	billing  repository.BillingRepository
	cache    cache.Cache
	cacheTTL time.Duration

	// startingCredits seeds lazily-created free-tier ledger rows.
	startingCredits int

	now func() time.Time
}

func NewBillingService(billing repository.BillingRepository, c cache.Cache, cacheTTL time.Duration, startingCredits int) *BillingService {
	return &BillingService{
		billing:         billing,
		cache:           c,
		cacheTTL:        cacheTTL,
		startingCredits: startingCredits,
		now:             time.Now,
	}
}

// Credits returns the workspace balance, cache-aside. A workspace seen for
// the first time gets a free-tier ledger row.
func (s *BillingService) Credits(ctx context.Context, workspaceID string) (int, error) {
	val, err := s.cache.Get(ctx, balanceKey(workspaceID))
	if err == nil {
		credits, parseErr := strconv.Atoi(val)
		if parseErr == nil {
			metrics.BalanceCacheHits.WithLabelValues("hit").Inc()
			return credits, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		slog.Warn("balance cache unreachable, reading durable store", "workspace_id", workspaceID, "error", err)
	}
	metrics.BalanceCacheHits.WithLabelValues("miss").Inc()

	billing, err := s.ledgerRow(ctx, workspaceID)
	if err != nil {
		return 0, err
	}

	s.cacheBalance(ctx, workspaceID, billing.CreditsRemaining)
	return billing.CreditsRemaining, nil
}

// Workspace returns the full ledger row, lazily creating it.
func (s *BillingService) Workspace(ctx context.Context, workspaceID string) (*model.WorkspaceBilling, error) {
	return s.ledgerRow(ctx, workspaceID)
}

// TryDeduct atomically deducts cost from the workspace balance. The
// read-check-write collapses into one conditional update in the repository;
// concurrent deductions for the same workspace can never overspend. A zero
// cost succeeds without touching the ledger.
func (s *BillingService) TryDeduct(ctx context.Context, workspaceID string, cost int) (int, error) {
	if cost == 0 {
		return s.Credits(ctx, workspaceID)
	}
	if cost < 0 {
		return 0, &apperr.ValidationError{Field: "cost", Reason: "must not be negative"}
	}

	// Lazy-create so a brand-new workspace spends from its free allowance.
	_, err := s.ledgerRow(ctx, workspaceID)
	if err != nil {
		return 0, err
	}

	remaining, ok, err := s.billing.Deduct(ctx, workspaceID, cost, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to deduct credits: %w", err)
	}
	if !ok {
		// Report the true balance, not a possibly-stale cached one.
		row, err := s.billing.ByWorkspaceID(ctx, workspaceID)
		if err != nil {
			return 0, fmt.Errorf("failed to read balance: %w", err)
		}
		metrics.Deductions.WithLabelValues("insufficient").Inc()
		return row.CreditsRemaining, &apperr.InsufficientCreditsError{
			Required:  cost,
			Remaining: row.CreditsRemaining,
		}
	}

	s.cacheBalance(ctx, workspaceID, remaining)
	metrics.Deductions.WithLabelValues("ok").Inc()
	slog.Info("credits deducted", "workspace_id", workspaceID, "cost", cost, "remaining", remaining)

	return remaining, nil
}

// ResetPeriod restores the workspace balance to its period limit. Guarded by
// the stored reset date, so calling it twice within one period is a no-op.
func (s *BillingService) ResetPeriod(ctx context.Context, workspaceID string) error {
	ok, err := s.billing.ResetIfDue(ctx, workspaceID, s.now())
	if err != nil {
		return fmt.Errorf("failed to reset period: %w", err)
	}
	if !ok {
		slog.Debug("period reset skipped, not due", "workspace_id", workspaceID)
		return nil
	}

	s.invalidateBalance(ctx, workspaceID)
	slog.Info("billing period reset", "workspace_id", workspaceID)
	return nil
}

// ResetDue applies the period reset to every workspace whose reset date has
// passed. Invoked by the external scheduler.
func (s *BillingService) ResetDue(ctx context.Context) (int, error) {
	ids, err := s.billing.DueForReset(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to list due workspaces: %w", err)
	}

	reset := 0
	for _, id := range ids {
		err = s.ResetPeriod(ctx, id)
		if err != nil {
			slog.Error("failed to reset workspace period", "workspace_id", id, "error", err)
			continue
		}
		reset++
	}

	return reset, nil
}

// SetTier moves a workspace to a new tier, clamping the balance to the new
// limit.
func (s *BillingService) SetTier(ctx context.Context, workspaceID, tier string) error {
	if tier != model.TierFree && tier != model.TierPro && tier != model.TierEnterprise {
		return &apperr.ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", tier)}
	}

	_, err := s.ledgerRow(ctx, workspaceID)
	if err != nil {
		return err
	}

	_, err = s.billing.SetTier(ctx, workspaceID, tier, model.TierCreditLimit(tier), s.now())
	if err != nil {
		return fmt.Errorf("failed to set tier: %w", err)
	}

	s.invalidateBalance(ctx, workspaceID)
	slog.Info("workspace tier changed", "workspace_id", workspaceID, "tier", tier)
	return nil
}

// ledgerRow reads the ledger row, creating the free-tier default on first
// contact with a workspace.
func (s *BillingService) ledgerRow(ctx context.Context, workspaceID string) (*model.WorkspaceBilling, error) {
	billing, err := s.billing.ByWorkspaceID(ctx, workspaceID)
	if err == nil {
		return billing, nil
	}
	if !errors.Is(err, repository.ErrBillingNotFound) {
		return nil, fmt.Errorf("failed to read billing: %w", err)
	}

	err = s.billing.EnsureDefault(ctx, model.DefaultBilling(workspaceID, s.startingCredits, s.now()))
	if err != nil {
		return nil, fmt.Errorf("failed to create default billing: %w", err)
	}

	billing, err = s.billing.ByWorkspaceID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read billing: %w", err)
	}

	return billing, nil
}

func (s *BillingService) cacheBalance(ctx context.Context, workspaceID string, credits int) {
	err := s.cache.Set(ctx, balanceKey(workspaceID), strconv.Itoa(credits), s.cacheTTL)
	if err != nil {
		slog.Warn("failed to cache balance", "workspace_id", workspaceID, "error", err)
	}
}

func (s *BillingService) invalidateBalance(ctx context.Context, workspaceID string) {
	err := s.cache.Delete(ctx, balanceKey(workspaceID))
	if err != nil {
		// The short TTL bounds how long the stale value can live.
		slog.Warn("failed to invalidate balance cache", "workspace_id", workspaceID, "error", err)
	}
}
