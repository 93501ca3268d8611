package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsCreated counts bridge transactions created by network
	TransactionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_transactions_created_total",
			Help: "Total number of bridge transaction records created",
		},
		[]string{"network"},
	)

	// TrustViolations counts rejected submissions by reason
	TrustViolations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_trust_violations_total",
			Help: "Total number of submissions rejected by trust verification",
		},
		[]string{"network", "reason"},
	)

	// ReceiptFetches counts receipt lookups issued to chain RPC endpoints
	ReceiptFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_receipt_fetches_total",
			Help: "Total number of transaction receipt fetches",
		},
		[]string{"network"},
	)

	// NegativeCacheHits counts lookups answered from the negative cache
	NegativeCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_negative_cache_hits_total",
			Help: "Total number of lookups short-circuited by the negative cache",
		},
	)

	// RPCDuration tracks chain RPC call latency
	RPCDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bridge_rpc_duration_seconds",
			Help:    "Chain RPC call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network", "method"},
	)

	// FeeEventsProcessed counts referral fee events persisted
	FeeEventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_fee_events_processed_total",
			Help: "Total number of referral fee events processed",
		},
		[]string{"network"},
	)

	// LastIndexedBlock tracks the checkpoint of each fee indexer
	LastIndexedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_last_indexed_block",
			Help: "Last fully processed block number by indexer",
		},
		[]string{"indexer"},
	)

	// IndexerCycles counts indexing cycles by outcome
	IndexerCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_indexer_cycles_total",
			Help: "Total number of indexing cycles",
		},
		[]string{"indexer", "status"},
	)

	// ErrorsTotal counts errors by component
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)
