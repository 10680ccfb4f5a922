package bus

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "throttler"

// Metrics collects bus counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	published   prometheus.Counter
	delivered   prometheus.Counter
	coalesced   prometheus.Counter
	dropped     prometheus.Counter
	faults      prometheus.Counter
	subscribers prometheus.Gauge
}

// NewMetrics creates the bus collectors and registers them with reg.
// reg may be nil, in which case the collectors are created unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "published_total",
			Help:      "Rate updates accepted from the producer.",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivered_total",
			Help:      "Rate updates subscribers processed without error.",
		}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "coalesced_total",
			Help:      "Undelivered rate updates replaced by a newer value for the same pair.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_total",
			Help:      "Rate updates offered to an already cancelled mailbox.",
		}),
		faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_faults_total",
			Help:      "Subscriber callbacks that returned an error or panicked.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "subscribers",
			Help:      "Currently registered subscribers.",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.published, m.delivered, m.coalesced, m.dropped, m.faults, m.subscribers} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) incPublished() {
	if m != nil {
		m.published.Inc()
	}
}

func (m *Metrics) incDelivered() {
	if m != nil {
		m.delivered.Inc()
	}
}

func (m *Metrics) incCoalesced() {
	if m != nil {
		m.coalesced.Inc()
	}
}

func (m *Metrics) incDropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) incFaults() {
	if m != nil {
		m.faults.Inc()
	}
}

func (m *Metrics) setSubscribers(n int) {
	if m != nil {
		m.subscribers.Set(float64(n))
	}
}
