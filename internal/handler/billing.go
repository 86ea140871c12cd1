package handler

import (
	"net/http"
	"time"

	"github.com/atelierhq/atelier/internal/ctxkeys"
	"github.com/atelierhq/atelier/internal/service"
)

type BillingHandler struct {
	billingService *service.BillingService
}

func NewBillingHandler(billingService *service.BillingService) *BillingHandler {
	return &BillingHandler{billingService: billingService}
}

type billingResponse struct {
	Tier             string    `json:"tier"`
	CreditsRemaining int       `json:"credits_remaining"`
	CreditsLimit     int       `json:"credits_limit"`
	ResetDate        time.Time `json:"reset_date"`
	Features         []string  `json:"features"`
}

// Show returns the workspace ledger row: tier, balance, next reset, and the
// tier-derived feature set.
func (h *BillingHandler) Show(w http.ResponseWriter, r *http.Request) {
	workspaceID := ctxkeys.WorkspaceID(r.Context())

	billing, err := h.billingService.Workspace(r.Context(), workspaceID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, billingResponse{
		Tier:             billing.Tier,
		CreditsRemaining: billing.CreditsRemaining,
		CreditsLimit:     billing.CreditsLimit,
		ResetDate:        billing.ResetDate,
		Features:         billing.Features(),
	})
}

// Credits returns just the balance, served cache-aside.
func (h *BillingHandler) Credits(w http.ResponseWriter, r *http.Request) {
	workspaceID := ctxkeys.WorkspaceID(r.Context())

	credits, err := h.billingService.Credits(r.Context(), workspaceID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"credits_remaining": credits})
}
