package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/atelierhq/atelier/internal/ctxkeys"
	"github.com/atelierhq/atelier/internal/ratelimit"
)

// RateLimit gates an action class with the shared sliding-window limiter,
// keyed by workspace. It runs after Identity so the actor is known, and
// before any handler that spends credits or mints URLs.
func RateLimit(limiter *ratelimit.Limiter, action string, limit ratelimit.Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := ctxkeys.WorkspaceID(r.Context())

			res := limiter.Check(r.Context(), action, actor, limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

			if res.Limited {
				slog.Warn("rate limit exceeded",
					"action", action,
					"workspace_id", actor,
					"path", r.URL.Path,
				)
				http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
