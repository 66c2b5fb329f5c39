package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PollsTotal tracks per-address polling ticks by outcome
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwatch_polls_total",
			Help: "Total number of per-address polling ticks",
		},
		[]string{"outcome"}, // ok, empty, error, skipped, backoff
	)

	// TransactionsClassified tracks classified transactions by kind
	TransactionsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwatch_transactions_classified_total",
			Help: "Total number of transactions classified",
		},
		[]string{"kind"},
	)

	// NotificationsTotal tracks notification deliveries by kind and outcome
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwatch_notifications_total",
			Help: "Total number of notification dispatch attempts",
		},
		[]string{"kind", "outcome"}, // delivered, failed, invalid_token
	)

	// DedupSuppressed tracks notifications suppressed as duplicates
	DedupSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dropwatch_dedup_suppressed_total",
			Help: "Total number of notifications suppressed by the dedup ledger",
		},
	)

	// WatchedAddresses tracks the number of addresses being polled
	WatchedAddresses = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropwatch_watched_addresses",
			Help: "Number of distinct watched addresses",
		},
	)

	// TickDuration tracks the duration of one address tick
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dropwatch_tick_duration_seconds",
			Help:    "Duration of a single address polling tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RPCCallsTotal tracks upstream calls per source and method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwatch_rpc_calls_total",
			Help: "Total number of upstream calls",
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks upstream errors per source
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropwatch_rpc_errors_total",
			Help: "Total number of upstream errors",
		},
		[]string{"provider", "error_type"},
	)

	// RPCLatency tracks upstream call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dropwatch_rpc_latency_seconds",
			Help:    "Upstream call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// ChainLatestBlock tracks the latest Base block seen
	ChainLatestBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropwatch_chain_latest_block",
			Help: "Latest block height of the chain",
		},
	)

	// RPCQuotaUsage tracks daily budget usage percentage per source
	RPCQuotaUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dropwatch_rpc_quota_usage_percent",
			Help: "Daily upstream quota usage in percent",
		},
		[]string{"source"},
	)

	// ProviderAvailable reports 1 while an upstream provider is usable
	ProviderAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dropwatch_provider_available",
			Help: "Whether an upstream provider is currently usable",
		},
		[]string{"source", "provider"},
	)

	// DBConnectionPoolUsage tracks the usage of the database pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dropwatch_db_connection_pool_usage_percent",
			Help: "Database connection pool usage in percent",
		},
	)
)
