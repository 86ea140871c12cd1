// Package metrics provides Prometheus metrics for the upload and billing core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registry for all atelier metrics.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// Upload coordinator
	UploadsPrepared = factory.NewCounter(prometheus.CounterOpts{
		Name: "atelier_uploads_prepared_total",
		Help: "Upload intents created (signed URL issued).",
	})
	UploadsConfirmed = factory.NewCounter(prometheus.CounterOpts{
		Name: "atelier_uploads_confirmed_total",
		Help: "Uploads verified against the object store and marked uploaded.",
	})
	UploadsFailed = factory.NewCounter(prometheus.CounterOpts{
		Name: "atelier_uploads_failed_total",
		Help: "Uploads that settled as failed at confirm time.",
	})

	// Billing ledger
	Deductions = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_credit_deductions_total",
		Help: "Credit deduction attempts by outcome.",
	}, []string{"outcome"}) // ok, insufficient
	BalanceCacheHits = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_balance_cache_total",
		Help: "Balance reads served from cache vs the durable store.",
	}, []string{"result"}) // hit, miss

	// Rate limiter
	RateLimitHits = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_ratelimit_hits_total",
		Help: "Requests refused by the rate limiter, by action class.",
	}, []string{"action"})
	RateLimitDegraded = factory.NewCounter(prometheus.CounterOpts{
		Name: "atelier_ratelimit_degraded_total",
		Help: "Limiter checks that hit an unreachable cache backend.",
	})

	// Reconciliation sweeper
	SweeperReconciled = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_sweeper_reconciled_total",
		Help: "Expired uploads resolved by the sweeper, by outcome.",
	}, []string{"outcome"}) // recovered, failed
	SweeperPurged = factory.NewCounter(prometheus.CounterOpts{
		Name: "atelier_sweeper_purged_total",
		Help: "Failed asset rows hard-deleted after the retention window.",
	})
)

// Handler returns an http.Handler serving the atelier registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
