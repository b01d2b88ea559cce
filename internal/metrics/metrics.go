// Package metrics defines all custom Prometheus metrics for the clinic
// portal client. It is the single source of truth for metric names, labels,
// and help strings; registration happens implicitly via promauto against the
// default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clinicportal"

// ── Session lifecycle ─────────────────────────────────────────────────────────

// LoginAttemptsTotal counts login attempts by outcome.
// Label:
//   - result: "success", "rejected" (server said no) or "unreachable"
var LoginAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_attempts_total",
		Help:      "Total number of login attempts, by outcome.",
	},
	[]string{"result"},
)

// SessionExpiriesTotal counts sessions closed by the inactivity window, the
// only purely time-driven logout path.
var SessionExpiriesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_expiries_total",
		Help:      "Total number of sessions closed after the inactivity window elapsed.",
	},
)

// SessionRestoresTotal counts initializer outcomes.
// Label:
//   - result: "restored", "expired", "mismatch", "rejected", "empty"
var SessionRestoresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_restores_total",
		Help:      "Total number of startup reconciliations, by outcome.",
	},
	[]string{"result"},
)

// ── Request pipeline ──────────────────────────────────────────────────────────

// TokenRenewalsTotal counts one-shot credential renewals triggered by a 401.
// Label:
//   - result: "success" or "failure"
var TokenRenewalsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "token_renewals_total",
		Help:      "Total number of access-token renewal attempts, by outcome.",
	},
	[]string{"result"},
)

// APIRequestsTotal counts outbound portal calls.
// Labels:
//   - method: HTTP method
//   - code: final HTTP status code ("0" when no response was received)
var APIRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Total number of outbound portal API calls, by method and final status.",
	},
	[]string{"method", "code"},
)

// APIRequestDuration measures outbound call latency end-to-end, renewal and
// retry included.
var APIRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "Duration of outbound portal API calls, renewal retries included.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method"},
)
