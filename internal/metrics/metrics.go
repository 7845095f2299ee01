// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ── Relay ─────────────────────────────────────────────────────────────
	RelayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mint_relay_requests_total",
			Help: "Relay requests by operation kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	RelayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mint_relay_duration_seconds",
			Help:    "End-to-end relay latency including confirmation",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 45, 90},
		},
		[]string{"kind"},
	)

	RelayGasUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mint_relay_gas_used_total",
			Help: "Gas consumed by confirmed relay transactions",
		},
		[]string{"chain_id"},
	)

	ClaimPath = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mint_relay_claim_path_total",
			Help: "Claim redemptions by path (direct, legacy)",
		},
		[]string{"path"},
	)

	// ── Relayer ───────────────────────────────────────────────────────────
	RelayerBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mint_relay_relayer_balance_wei",
			Help: "Relayer native balance (float, wei)",
		},
		[]string{"chain_id"},
	)

	// ── HTTP ──────────────────────────────────────────────────────────────
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mint_relay_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mint_relay_http_duration_seconds",
			Help:    "HTTP handler latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// ── Recorder ──────────────────────────────────────────────────────────
	RecorderJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mint_relay_recorder_jobs_total",
			Help: "Recorder jobs by result (stored, duplicate, retried, dead)",
		},
		[]string{"result"},
	)
)

// ObserveRelay records one finished relay request.
func ObserveRelay(kind, outcome string, started time.Time) {
	RelayRequests.WithLabelValues(kind, outcome).Inc()
	RelayDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}
