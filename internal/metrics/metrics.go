package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueMetrics exposes counters for token issuance, queue advancement and
// subscriber fan-out.
type QueueMetrics struct {
	tokensIssued     prometheus.Counter
	advances         *prometheus.CounterVec
	subscriptions    prometheus.Gauge
	subscriberPanics prometheus.Counter
}

func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		tokensIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medcare",
			Subsystem: "queue",
			Name:      "tokens_issued_total",
			Help:      "Total tokens issued across all queues",
		}),
		advances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medcare",
			Subsystem: "queue",
			Name:      "advances_total",
			Help:      "Total queue advancements by origin",
		}, []string{"origin"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "medcare",
			Subsystem: "queue",
			Name:      "active_subscriptions",
			Help:      "Subscriptions currently registered with the tracker",
		}),
		subscriberPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "medcare",
			Subsystem: "queue",
			Name:      "subscriber_panics_total",
			Help:      "Subscriber callbacks that panicked during delivery",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.tokensIssued, m.advances, m.subscriptions, m.subscriberPanics)
	return m
}

func (m *QueueMetrics) ObserveTokenIssued() {
	if m == nil {
		return
	}
	m.tokensIssued.Inc()
}

func (m *QueueMetrics) ObserveAdvance(origin string) {
	if m == nil {
		return
	}
	m.advances.WithLabelValues(origin).Inc()
}

func (m *QueueMetrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subscriptions.Inc()
}

func (m *QueueMetrics) SubscriptionClosed() {
	if m == nil {
		return
	}
	m.subscriptions.Dec()
}

func (m *QueueMetrics) ObserveSubscriberPanic() {
	if m == nil {
		return
	}
	m.subscriberPanics.Inc()
}

// HTTPMetrics tracks request counts and latency per route.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medcare",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medcare",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}

func (m *HTTPMetrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, status).Inc()
	m.latency.WithLabelValues(route).Observe(seconds)
}
