package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Registry is the subset of prometheus.Registerer/Gatherer the runtime
// needs; it is satisfied directly by *prometheus.Registry.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// NewRegistry returns a fresh, unregistered metrics registry. The
// supervisor creates exactly one and passes it to NewMetrics.
func NewRegistry() Registry {
	return prometheus.NewRegistry()
}

// Metrics bundles one counter/histogram family per actor kind named in the
// observability share of the component table: events published/consumed,
// compute jobs queued/completed, aggregation retries, and indexer reorgs.
type Metrics struct {
	EventsPublished *prometheus.CounterVec
	EventsConsumed  *prometheus.CounterVec

	ComputeJobsQueued    *prometheus.CounterVec
	ComputeJobsCompleted *prometheus.CounterVec
	ComputeJobDuration    *prometheus.HistogramVec

	AggregationRetries prometheus.Counter
	AggregationFailed  prometheus.Counter

	IndexerReorgs      prometheus.Counter
	IndexerLastBlock   *prometheus.GaugeVec
}

// NewMetrics registers every collector against reg and returns the bundle.
func NewMetrics(reg Registry) *Metrics {
	m := &Metrics{
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enclave",
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Chain events the indexer published to the event bus, by kind.",
		}, []string{"kind"}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enclave",
			Subsystem: "bus",
			Name:      "events_consumed_total",
			Help:      "Events received from the network and republished to the bus, by kind.",
		}, []string{"kind"}),
		ComputeJobsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enclave",
			Subsystem: "compute",
			Name:      "jobs_queued_total",
			Help:      "HeavyCompute jobs enqueued, by job type.",
		}, []string{"job_type"}),
		ComputeJobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enclave",
			Subsystem: "compute",
			Name:      "jobs_completed_total",
			Help:      "HeavyCompute jobs finished, by job type and outcome.",
		}, []string{"job_type", "outcome"}),
		ComputeJobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "enclave",
			Subsystem: "compute",
			Name:      "job_duration_seconds",
			Help:      "HeavyCompute job wall-clock duration, by job type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job_type"}),
		AggregationRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enclave",
			Subsystem: "aggregator",
			Name:      "submission_retries_total",
			Help:      "On-chain submission retries across all E3s.",
		}),
		AggregationFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enclave",
			Subsystem: "aggregator",
			Name:      "aggregation_failed_total",
			Help:      "E3s marked AggregationFailed: a decode or combine error, or the submission retry cap exceeded.",
		}),
		IndexerReorgs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "enclave",
			Subsystem: "indexer",
			Name:      "reorgs_total",
			Help:      "Chain reorgs observed across all configured chains.",
		}),
		IndexerLastBlock: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "enclave",
			Subsystem: "indexer",
			Name:      "last_processed_block",
			Help:      "Last block height processed, by chain name.",
		}, []string{"chain"}),
	}

	reg.MustRegister(
		m.EventsPublished, m.EventsConsumed,
		m.ComputeJobsQueued, m.ComputeJobsCompleted, m.ComputeJobDuration,
		m.AggregationRetries, m.AggregationFailed,
		m.IndexerReorgs, m.IndexerLastBlock,
	)
	return m
}
