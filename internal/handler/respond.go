package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/atelierhq/atelier/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Required  int    `json:"required,omitempty"`
	Remaining int    `json:"remaining,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

// writeError maps the core error taxonomy to responses. Typed errors carry
// their payloads out; infrastructure faults surface generically so internals
// do not leak.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *apperr.ValidationError
		authzErr      *apperr.AuthzError
		expiredErr    *apperr.ExpiredUploadError
		integrityErr  *apperr.IntegrityError
		creditsErr    *apperr.InsufficientCreditsError
	)

	switch {
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: validationErr.Error()})
	case errors.As(err, &authzErr):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "access denied"})
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.As(err, &expiredErr):
		writeJSON(w, http.StatusGone, errorResponse{
			Error: expiredErr.Error(),
			Hint:  "start a new upload with another prepare call",
		})
	case errors.As(err, &integrityErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: integrityErr.Error(),
			Hint:  "start a new upload with another prepare call",
		})
	case errors.As(err, &creditsErr):
		writeJSON(w, http.StatusPaymentRequired, errorResponse{
			Error:     "insufficient credits",
			Required:  creditsErr.Required,
			Remaining: creditsErr.Remaining,
			Hint:      "upgrade your workspace plan for a larger credit allowance",
		})
	case errors.Is(err, apperr.ErrStorageUnavailable), errors.Is(err, apperr.ErrCacheUnavailable):
		slog.Error("infrastructure fault", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service temporarily unavailable"})
	default:
		slog.Error("unhandled error", "error", err, "path", r.URL.Path)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
