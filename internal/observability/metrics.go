package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PerpMetrics.
type Metrics struct {
	// --- Pipeline ---
	PipelineRuns      *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec
	TokensNormalized  prometheus.Gauge
	BlendOutcomes     *prometheus.CounterVec
	PositionsValuated prometheus.Counter
	LeverageUndefined prometheus.Counter
	Overleveraged     prometheus.Counter

	// --- Snapshot retrieval ---
	SnapshotFetchDuration *prometheus.HistogramVec
	SnapshotFetchErrors   *prometheus.CounterVec

	// --- Price feed ---
	PriceUpdates    *prometheus.CounterVec
	PriceBookSize   prometheus.Gauge
	NATSPullLatency *prometheus.HistogramVec
	PublishDrops    prometheus.Counter
	PriceFallbacks  *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec

	// --- Persistence ---
	PersistRowsWritten prometheus.Counter
	PersistBatchSize   prometheus.Histogram
	PersistBatchDur    prometheus.Histogram
	PersistErrors      *prometheus.CounterVec
	PersistRetry       prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	computeBuckets := []float64{
		0.00005, 0.0001, 0.00025, 0.0005, 0.001,
		0.0025, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	fetchBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5}

	return &Metrics{
		// Pipeline
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_pipeline_runs_total",
			Help: "Valuation pipeline runs",
		}, []string{"status"}),

		PipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_pipeline_duration_seconds",
			Help:    "Time spent in one pipeline stage",
			Buckets: computeBuckets,
		}, []string{"stage"}),

		TokensNormalized: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perp_tokens_normalized",
			Help: "Tokens in the last normalized map",
		}),

		BlendOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_index_price_blend_total",
			Help: "Index price blending outcomes (blended/divergent/skipped)",
		}, []string{"outcome"}),

		PositionsValuated: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_positions_valuated_total",
			Help: "Positions run through the valuation engine",
		}),

		LeverageUndefined: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_leverage_undefined_total",
			Help: "Positions whose leverage could not be derived",
		}),

		Overleveraged: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_overleveraged_total",
			Help: "Positions whose fees exceed remaining collateral",
		}),

		// Snapshot retrieval
		SnapshotFetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_snapshot_fetch_duration_seconds",
			Help:    "Ledger snapshot fetch latency",
			Buckets: fetchBuckets,
		}, []string{"source"}),

		SnapshotFetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_snapshot_fetch_errors_total",
			Help: "Ledger snapshot fetch failures",
		}, []string{"source"}),

		// Price feed
		PriceUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_price_updates_total",
			Help: "Index price updates received (applied/stale/invalid)",
		}, []string{"status"}),

		PriceBookSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "perp_price_book_size",
			Help: "Tokens with a current index price",
		}),

		NATSPullLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: fetchBuckets,
		}, []string{"subject"}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_publish_drops_total",
			Help: "Valuations dropped due to full publish channel",
		}),

		PriceFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_index_price_fallback_total",
			Help: "Valuations run on contract prices because the index feed failed",
		}, []string{"caller"}),

		// Channel & Backpressure
		ChannelSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		// Persistence
		PersistRowsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_valuations_written_total",
			Help: "Valuation rows written to Postgres",
		}),

		PersistBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_persist_batch_size",
			Help:    "Valuations per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: factory.NewCounter(prometheus.CounterOpts{
			Name: "perp_persist_retry_total",
			Help: "Persistence retries",
		}),

		// Query API
		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5},
		}, []string{"endpoint"}),

		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
