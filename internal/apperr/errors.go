// Package apperr defines the typed error taxonomy shared by the upload
// coordinator, the billing ledger, and the boundary layer. Errors carry enough
// payload for the boundary to map them to responses deterministically.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrStorageUnavailable = errors.New("object storage unavailable")
	ErrCacheUnavailable   = errors.New("cache unavailable")
)

// ValidationError rejects malformed input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthzError rejects a caller not authorized for the workspace.
type AuthzError struct {
	WorkspaceID string
}

func (e *AuthzError) Error() string {
	return fmt.Sprintf("not authorized for workspace %s", e.WorkspaceID)
}

// ExpiredUploadError is terminal for the given asset id: the pending record
// lapsed or the upload already settled as failed. The caller must start a new
// upload with a fresh prepare call.
type ExpiredUploadError struct {
	AssetID string
}

func (e *ExpiredUploadError) Error() string {
	return fmt.Sprintf("upload %s expired, re-prepare required", e.AssetID)
}

// IntegrityError means the uploaded object could not be verified against what
// the client declared. Terminal for the given asset id.
type IntegrityError struct {
	AssetID string
	Reason  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("upload %s failed verification: %s", e.AssetID, e.Reason)
}

// InsufficientCreditsError reports a deduction that would overdraw the
// workspace balance. Remaining is read fresh so the caller can present an
// accurate required-vs-remaining message.
type InsufficientCreditsError struct {
	Required  int
	Remaining int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, remaining %d", e.Required, e.Remaining)
}
