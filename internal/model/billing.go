package model

import "time"

const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

const (
	FeatureGenerate        = "generate"
	FeatureBatchDownload   = "batch_download"
	FeaturePrioritySupport = "priority_support"
)

// tierCreditLimits maps a tier to its per-period credit allowance.
var tierCreditLimits = map[string]int{
	TierFree:       50,
	TierPro:        1000,
	TierEnterprise: 10000,
}

// WorkspaceBilling is the authoritative credit ledger, one row per workspace.
type WorkspaceBilling struct {
	WorkspaceID      string    `db:"workspace_id"`
	Tier             string    `db:"tier"`
	CreditsRemaining int       `db:"credits_remaining"`
	CreditsLimit     int       `db:"credits_limit"`
	ResetDate        time.Time `db:"reset_date"`
	Active           bool      `db:"active"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// TierCreditLimit returns the per-period allowance for a tier, defaulting to
// the free allowance for unknown tiers.
func TierCreditLimit(tier string) int {
	limit, ok := tierCreditLimits[tier]
	if ok {
		return limit
	}
	return tierCreditLimits[TierFree]
}

// Features returns the feature set derived from the workspace tier.
func (b *WorkspaceBilling) Features() []string {
	if !b.Active {
		return []string{}
	}

	switch b.Tier {
	case TierPro:
		return []string{FeatureGenerate, FeatureBatchDownload}
	case TierEnterprise:
		return []string{FeatureGenerate, FeatureBatchDownload, FeaturePrioritySupport}
	default:
		return []string{FeatureGenerate}
	}
}

// NextResetDate returns the period boundary following now. Periods are
// calendar months anchored to the first of the month UTC.
func NextResetDate(now time.Time) time.Time {
	year, month, _ := now.UTC().Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// DefaultBilling returns the lazily-created ledger row for a workspace that
// has never been billed: free tier with the configured starting balance.
func DefaultBilling(workspaceID string, startingCredits int, now time.Time) *WorkspaceBilling {
	return &WorkspaceBilling{
		WorkspaceID:      workspaceID,
		Tier:             TierFree,
		CreditsRemaining: startingCredits,
		CreditsLimit:     startingCredits,
		ResetDate:        NextResetDate(now),
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
