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
	ErrBillingNotFound = errors.New("workspace billing not found")
)

type BillingRepository interface {
	// EnsureDefault creates the ledger row if the workspace has none.
	// Racing creators are harmless: first insert wins, the rest no-op.
	EnsureDefault(ctx context.Context, billing *model.WorkspaceBilling) error

	ByWorkspaceID(ctx context.Context, workspaceID string) (*model.WorkspaceBilling, error)

	// Deduct subtracts cost from the workspace balance iff the balance
	// covers it, in a single conditional statement, and returns the new
	// balance. ok=false means insufficient credits and nothing was written.
	Deduct(ctx context.Context, workspaceID string, cost int, now time.Time) (remaining int, ok bool, err error)

	// ResetIfDue restores the balance to the period limit when the reset
	// date has passed. The date predicate makes repeat invocations within
	// one period no-ops.
	ResetIfDue(ctx context.Context, workspaceID string, now time.Time) (bool, error)

	DueForReset(ctx context.Context, now time.Time) ([]string, error)

	SetTier(ctx context.Context, workspaceID, tier string, creditsLimit int, now time.Time) (bool, error)
}

type billingRepository struct {
	db *sqlx.DB
}

func NewBillingRepository(db *sqlx.DB) *billingRepository {
	return &billingRepository{db: db}
}

func (r *billingRepository) EnsureDefault(ctx context.Context, billing *model.WorkspaceBilling) error {
	query := `INSERT INTO workspace_billing (workspace_id, tier, credits_remaining, credits_limit, reset_date, active, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          ON CONFLICT (workspace_id) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query,
		billing.WorkspaceID,
		billing.Tier,
		billing.CreditsRemaining,
		billing.CreditsLimit,
		billing.ResetDate,
		billing.Active,
		billing.CreatedAt,
		billing.UpdatedAt,
	)

	return err
}

func (r *billingRepository) ByWorkspaceID(ctx context.Context, workspaceID string) (*model.WorkspaceBilling, error) {
	billing := &model.WorkspaceBilling{}
	query := `SELECT * FROM workspace_billing WHERE workspace_id = $1`

	err := r.db.GetContext(ctx, billing, query, workspaceID)
	if err == sql.ErrNoRows {
		return nil, ErrBillingNotFound
	}

	return billing, err
}

// Deduct collapses read-check-write into one statement. Separating the read
// from the write, even behind an in-process lock, reintroduces the overspend
// race across worker processes.
func (r *billingRepository) Deduct(ctx context.Context, workspaceID string, cost int, now time.Time) (int, bool, error) {
	query := `UPDATE workspace_billing
	          SET credits_remaining = credits_remaining - $1, updated_at = $2
	          WHERE workspace_id = $3 AND active = TRUE AND credits_remaining >= $1
	          RETURNING credits_remaining`

	var remaining int
	err := r.db.QueryRowContext(ctx, query, cost, now, workspaceID).Scan(&remaining)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	return remaining, true, nil
}

func (r *billingRepository) ResetIfDue(ctx context.Context, workspaceID string, now time.Time) (bool, error) {
	query := `UPDATE workspace_billing
	          SET credits_remaining = credits_limit, reset_date = $1, updated_at = $2
	          WHERE workspace_id = $3 AND reset_date <= $2`

	res, err := r.db.ExecContext(ctx, query, model.NextResetDate(now), now, workspaceID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *billingRepository) DueForReset(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	query := `SELECT workspace_id FROM workspace_billing WHERE active = TRUE AND reset_date <= $1`

	err := r.db.SelectContext(ctx, &ids, query, now)
	if err != nil {
		return nil, err
	}

	return ids, nil
}

func (r *billingRepository) SetTier(ctx context.Context, workspaceID, tier string, creditsLimit int, now time.Time) (bool, error) {
	query := `UPDATE workspace_billing
	          SET tier = $1, credits_limit = $2,
	              credits_remaining = CASE WHEN credits_remaining > $2 THEN $2 ELSE credits_remaining END,
	              updated_at = $3
	          WHERE workspace_id = $4`

	res, err := r.db.ExecContext(ctx, query, tier, creditsLimit, now, workspaceID)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}
