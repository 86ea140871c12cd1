package middleware

import (
	"net/http"

	"github.com/atelierhq/atelier/internal/ctxkeys"
)

// Identity extracts the verified workspace and user identity forwarded by the
// upstream auth gateway. Session and token mechanics live there; by the time
// a request reaches this service the headers are trusted. Requests without an
// identity are refused.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workspaceID := r.Header.Get("X-Workspace-ID")
		userID := r.Header.Get("X-User-ID")

		if workspaceID == "" || userID == "" {
			http.Error(w, "missing identity", http.StatusForbidden)
			return
		}

		ctx := ctxkeys.WithIdentity(r.Context(), workspaceID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
