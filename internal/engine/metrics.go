package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for one engine.
type Metrics struct {
	Ingested         *prometheus.CounterVec
	Dropped          *prometheus.CounterVec
	Merged           prometheus.Counter
	Classified       *prometheus.CounterVec
	Evicted          prometheus.Counter
	RetentionDeleted *prometheus.CounterVec
	Commands         *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
}

// NewMetrics registers the engine collectors with reg. A nil registerer
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ingested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "beehive_sessions_ingested_total",
			Help: "Sessions accepted into the store",
		}, []string{"origin"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "beehive_sessions_dropped_total",
			Help: "Drone messages rejected or discarded",
		}, []string{"reason"}),
		Merged: f.NewCounter(prometheus.CounterOpts{
			Name: "beehive_sessions_merged_total",
			Help: "Decoy sessions merged into a matching bait session",
		}),
		Classified: f.NewCounterVec(prometheus.CounterOpts{
			Name: "beehive_sessions_classified_total",
			Help: "Sessions that reached a final classification",
		}, []string{"classification"}),
		Evicted: f.NewCounter(prometheus.CounterOpts{
			Name: "beehive_sessions_evicted_total",
			Help: "Sessions evicted to respect max_sessions",
		}),
		RetentionDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "beehive_sessions_retention_deleted_total",
			Help: "Sessions deleted by retention maintenance",
		}, []string{"kind"}),
		Commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "beehive_commands_total",
			Help: "Command channel requests by verb and result",
		}, []string{"command", "result"}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "beehive_sweep_duration_seconds",
			Help:    "Time spent in one classification sweep",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
