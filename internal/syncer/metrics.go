package syncer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"healthtrack/syncd/internal/queue"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	drains        prometheus.Counter
	drainDuration prometheus.Histogram
	operations    *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	online        prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		drains: factory.NewCounter(prometheus.CounterOpts{
			Name: "healthsync_drains_total",
			Help: "Number of drain passes that ran against the remote store",
		}),
		drainDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "healthsync_drain_duration_seconds",
			Help:    "Duration of drain passes in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthsync_operations_total",
				Help: "Queued operations applied, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "healthsync_queue_depth",
			Help: "Operations waiting in the offline queue after the last drain",
		}),
		online: factory.NewGauge(prometheus.GaugeOpts{
			Name: "healthsync_online",
			Help: "1 when the device was last seen online",
		}),
	}
}

func (m *Metrics) observeOperation(kind queue.Kind, outcome string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) observeDrain(result Result, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.drains.Inc()
	m.drainDuration.Observe(elapsed.Seconds())
	m.queueDepth.Set(float64(result.Remaining))
}

func (m *Metrics) setOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
		return
	}
	m.online.Set(0)
}
