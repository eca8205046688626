package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the ledger process metrics.
type Metrics struct {
	// Core Processing
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge

	// Settlement
	SettlementsApplied prometheus.Counter
	SettledBaseVolume  *prometheus.CounterVec

	// Latency
	IngestToApply       *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// Channel & Backpressure
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	DispatchQueueLength prometheus.Gauge

	// Persistence
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// Snapshots
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// Query
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all ledger metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the ledger metrics on reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_core_events_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_core_events_rejected_total",
			Help: "Commands rejected (duplicate or error code)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shadow_core_event_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_core_journals_generated_total",
			Help: "Journal entries persisted",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "shadow_core_sequence",
			Help: "Next global sequence number",
		}),

		SettlementsApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "shadow_settlements_applied_total",
			Help: "Matches settled",
		}),

		SettledBaseVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_settled_base_volume_total",
			Help: "Base units settled per order book",
		}, []string{"order_book"}),

		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shadow_ingest_to_apply_seconds",
			Help:    "Command receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"event_type"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shadow_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shadow_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shadow_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shadow_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "shadow_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		DispatchQueueLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "shadow_dispatch_queue_length",
			Help: "Requests waiting for the core",
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "shadow_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "shadow_persist_journals_written_total",
			Help: "Journals written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shadow_persist_batch_size",
			Help:    "Outputs per persistence flush",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "shadow_persist_retries_total",
			Help: "Persistence flush retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "shadow_persist_last_sequence",
			Help: "Last sequence committed to Postgres",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "shadow_snapshots_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shadow_snapshot_duration_seconds",
			Help:    "Snapshot creation duration",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "shadow_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "shadow_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "shadow_replay_events_total",
			Help: "Events replayed at startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "shadow_replay_duration_seconds",
			Help: "Duration of the last startup replay",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_query_requests_total",
			Help: "Query API requests",
		}, []string{"method"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shadow_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"method"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_query_errors_total",
			Help: "Query API errors",
		}, []string{"method", "code"}),
	}
}

// UpdateChannelMetrics records channel depth and capacity.
func (m *Metrics) UpdateChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
}

// KeeperMetrics holds the settlement keeper metrics.
type KeeperMetrics struct {
	Cycles          *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
	Phase           *prometheus.GaugeVec
	OrdersFetched   prometheus.Gauge
	DecryptRequests *prometheus.CounterVec
	DecryptInFlight prometheus.Gauge
	DecryptDuration prometheus.Histogram
	MatchesFound    prometheus.Counter
	Submissions     *prometheus.CounterVec
	SubmitRetries   prometheus.Counter
	SubmitDuration  prometheus.Histogram
	Quarantined     prometheus.Counter
	AuditPublished  prometheus.Counter
	AuditErrors     prometheus.Counter
	OutboxPending   prometheus.Gauge
}

// NewKeeperMetrics registers the keeper metrics on reg.
func NewKeeperMetrics(reg prometheus.Registerer) *KeeperMetrics {
	f := promauto.With(reg)

	return &KeeperMetrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_keeper_cycles_total",
			Help: "Matching cycles by outcome",
		}, []string{"outcome"}),

		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shadow_keeper_cycle_duration_seconds",
			Help:    "Duration of one matching cycle",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),

		Phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shadow_keeper_phase",
			Help: "1 for the phase the keeper is in",
		}, []string{"phase"}),

		OrdersFetched: f.NewGauge(prometheus.GaugeOpts{
			Name: "shadow_keeper_orders_fetched",
			Help: "Open orders fetched in the last cycle",
		}),

		DecryptRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_keeper_decrypt_requests_total",
			Help: "Decryption requests by result",
		}, []string{"result"}),

		DecryptInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "shadow_keeper_decrypt_in_flight",
			Help: "Decryption requests in flight",
		}),

		DecryptDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shadow_keeper_decrypt_duration_seconds",
			Help:    "Latency of a single decryption",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		MatchesFound: f.NewCounter(prometheus.CounterOpts{
			Name: "shadow_keeper_matches_found_total",
			Help: "Matches produced by the engine",
		}),

		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shadow_keeper_submissions_total",
			Help: "Settlement submissions by result",
		}, []string{"result"}),

		SubmitRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "shadow_keeper_submit_retries_total",
			Help: "Transient submission retries",
		}),

		SubmitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shadow_keeper_submit_duration_seconds",
			Help:    "Latency of a settlement submission",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		Quarantined: f.NewCounter(prometheus.CounterOpts{
			Name: "shadow_keeper_orders_quarantined_total",
			Help: "Orders left out of matching after the ledger refused to fill them",
		}),

		AuditPublished: f.NewCounter(prometheus.CounterOpts{
			Name: "shadow_keeper_audit_published_total",
			Help: "Match audit records written to Kafka",
		}),

		AuditErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "shadow_keeper_audit_errors_total",
			Help: "Match audit write failures",
		}),

		OutboxPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "shadow_keeper_outbox_pending",
			Help: "Submissions recorded but not yet resolved",
		}),
	}
}
