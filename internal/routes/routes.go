package routes

import (
	"net/http"

	"github.com/atelierhq/atelier/internal/app"
	"github.com/atelierhq/atelier/internal/handler"
	"github.com/atelierhq/atelier/internal/metrics"
	"github.com/atelierhq/atelier/internal/middleware"
	"github.com/atelierhq/atelier/internal/ratelimit"
)

func SetupRoutes(a *app.App) http.Handler {
	upload := handler.NewUploadHandler(a.UploadService, a.BillingService, a.Cfg.CreditCostUpload)
	billing := handler.NewBillingHandler(a.BillingService)

	uploadLimit := ratelimit.Limit{MaxRequests: a.Cfg.UploadRateMax, Window: a.Cfg.UploadRateWindow}
	limitUploads := middleware.RateLimit(a.Limiter, "upload", uploadLimit)

	mux := http.NewServeMux()

	// Operational endpoints, no identity required
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("GET /metrics", metrics.Handler())

	// Storage: prepare/confirm are the mutating upload path and sit behind
	// the upload rate limit; the credit gate runs inside the handler.
	mux.Handle("POST /api/uploads", limitUploads(http.HandlerFunc(upload.Prepare)))
	mux.Handle("POST /api/uploads/{id}/confirm", limitUploads(http.HandlerFunc(upload.Confirm)))
	mux.HandleFunc("GET /api/assets/{id}/download", upload.Download)
	mux.HandleFunc("POST /api/assets/download-urls", upload.BatchDownload)
	mux.HandleFunc("DELETE /api/assets/{id}", upload.Delete)

	// Billing
	mux.HandleFunc("GET /api/billing", billing.Show)
	mux.HandleFunc("GET /api/billing/credits", billing.Credits)

	return middleware.Chain(mux,
		middleware.RequestLogging,
		identityExceptOps(),
	)
}

// identityExceptOps requires a verified identity for the API surface while
// leaving health and metrics open to the orchestrator.
func identityExceptOps() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		withIdentity := middleware.Identity(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			withIdentity.ServeHTTP(w, r)
		})
	}
}
