package saga

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels of the sends counter.
const (
	outcomeUpdated   = "updated"
	outcomeCompleted = "completed"
	outcomeCreated   = "created"
	outcomeDropped   = "dropped"
	outcomeFailed    = "failed"
)

// Metrics holds the Prometheus collectors of saga repositories. A nil *Metrics records nothing.
type Metrics struct {
	sendsTotal       *prometheus.CounterVec
	conflictsTotal   *prometheus.CounterVec
	duplicatesTotal  *prometheus.CounterVec
	locksTotal       *prometheus.CounterVec
	lockWaitDuration *prometheus.HistogramVec
}

// NewMetrics creates the saga collectors under namespace and registers them with registerer.
// A nil registerer leaves them unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) (*Metrics, error) {
	if namespace == "" {
		namespace = "saga"
	}
	m := &Metrics{
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "sends_total",
			Help:      "Messages sent to saga instances by outcome.",
		}, []string{"saga", "mode", "outcome"}),
		conflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "version_conflicts_total",
			Help:      "Optimistic commits rejected because a newer version was stored.",
		}, []string{"saga"}),
		duplicatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "repository",
			Name:      "duplicate_inserts_total",
			Help:      "Saga creations that found an existing instance.",
		}, []string{"saga"}),
		locksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "acquisitions_total",
			Help:      "Lock acquisitions by result.",
		}, []string{"saga", "result"}),
		lockWaitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for saga locks.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"saga"}),
	}

	if registerer != nil {
		for _, c := range []prometheus.Collector{m.sendsTotal, m.conflictsTotal, m.duplicatesTotal, m.locksTotal, m.lockWaitDuration} {
			if err := registerer.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) send(sagaType string, mode ConcurrencyMode, outcome string) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(sagaType, string(mode), outcome).Inc()
}

func (m *Metrics) conflict(sagaType string) {
	if m == nil {
		return
	}
	m.conflictsTotal.WithLabelValues(sagaType).Inc()
}

func (m *Metrics) duplicate(sagaType string) {
	if m == nil {
		return
	}
	m.duplicatesTotal.WithLabelValues(sagaType).Inc()
}

func (m *Metrics) lock(sagaType string, result string, waited time.Duration) {
	if m == nil {
		return
	}
	m.locksTotal.WithLabelValues(sagaType, result).Inc()
	m.lockWaitDuration.WithLabelValues(sagaType).Observe(waited.Seconds())
}
