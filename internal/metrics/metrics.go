package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_requests_latency_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Переводы
	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_transfers_total",
			Help: "Transfers by final outcome of the initiate call",
		},
		[]string{"outcome"}, // completed|failed|processing|replayed|rejected
	)
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wallet_provider_call_seconds",
			Help:    "Latency of calls to the transfer provider",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	// Журнал
	LedgerPostingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_ledger_postings_total",
			Help: "Terminal transitions applied by the ledger",
		},
		[]string{"type", "status"},
	)

	// Вебхуки
	WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_webhooks_total",
			Help: "Provider callbacks by handling result",
		},
		[]string{"kind", "result"}, // applied|duplicate|unknown|conflict|error
	)

	// Сверка
	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_reconciliations_total",
			Help: "Reconciliation runs by status",
		},
		[]string{"status"},
	)
	DriftAmount = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wallet_reconciliation_drift_minor_units",
			Help:    "Absolute discrepancy of drifting wallets by classification",
			Buckets: prometheus.ExponentialBuckets(1, 10, 9),
		},
		[]string{"classification"},
	)
	SweepResolvedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallet_sweep_resolved_total",
			Help: "Stale transactions resolved by the sweep",
		},
		[]string{"status"},
	)

	// События
	EventPublishFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_event_publish_failures_total",
			Help: "Ledger events dropped after retries",
		},
	)
	EventQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "wallet_event_queue_depth",
			Help: "Current depth of the async event queue",
		},
	)

	initOnce sync.Once
)

// /metrics endpoint
var Handler = promhttp.Handler

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPLatency,
			TransfersTotal,
			ProviderLatency,
			LedgerPostingsTotal,
			WebhooksTotal,
			ReconciliationsTotal,
			DriftAmount,
			SweepResolvedTotal,
			EventPublishFailures,
			EventQueueDepth,
		)
	})
}
