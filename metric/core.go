package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric exported by trafficstreams.
const Namespace = "trafficstreams"

// Metrics contains the stream-core metrics shared by every component
type Metrics struct {
	// Connection manager
	ConnectionsActive prometheus.Gauge
	ConnectionState   *prometheus.GaugeVec
	Subscribers       *prometheus.GaugeVec
	MessagesReceived  *prometheus.CounterVec
	MalformedTotal    *prometheus.CounterVec
	ReconnectAttempts *prometheus.CounterVec

	// Classification
	EventsClassified  *prometheus.CounterVec
	UnrecognizedTotal *prometheus.CounterVec

	// Relay
	EventsPublished *prometheus.CounterVec

	// Snapshot baselines
	SnapshotFetches  *prometheus.CounterVec
	SnapshotDuration *prometheus.HistogramVec

	// NATS
	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "connections_active",
			Help:      "Number of stream connections with at least one subscriber",
		}),

		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "connection_state",
			Help:      "Connection state (0=idle, 1=connecting, 2=open, 3=error, 4=closed)",
		}, []string{"url"}),

		Subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Number of subscribers attached to a stream connection",
		}, []string{"url"}),

		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "messages_received_total",
			Help:      "Total number of well-formed payloads delivered to subscribers",
		}, []string{"url"}),

		MalformedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "malformed_total",
			Help:      "Total number of payloads dropped because they were not a JSON object",
		}, []string{"url"}),

		ReconnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "reconnect_attempts_total",
			Help:      "Total number of reconnect attempts",
		}, []string{"url"}),

		EventsClassified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "events",
			Name:      "classified_total",
			Help:      "Total number of classified events by kind",
		}, []string{"kind"}),

		UnrecognizedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "events",
			Name:      "unrecognized_total",
			Help:      "Total number of payloads that matched no known event shape",
		}, []string{"url"}),

		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "published_total",
			Help:      "Total number of events republished to NATS",
		}, []string{"subject", "status"}),

		SnapshotFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "snapshot",
			Name:      "fetches_total",
			Help:      "Total number of snapshot baseline fetches",
		}, []string{"source", "status"}),

		SnapshotDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "snapshot",
			Name:      "fetch_duration_seconds",
			Help:      "Snapshot baseline fetch duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),

		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),

		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "nats",
			Name:      "circuit_breaker",
			Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
		}),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.ConnectionsActive,
		c.ConnectionState,
		c.Subscribers,
		c.MessagesReceived,
		c.MalformedTotal,
		c.ReconnectAttempts,
		c.EventsClassified,
		c.UnrecognizedTotal,
		c.EventsPublished,
		c.SnapshotFetches,
		c.SnapshotDuration,
		c.NATSConnected,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	}
}

// RecordConnectionState updates the state gauge of a stream connection
func (c *Metrics) RecordConnectionState(url string, state int) {
	c.ConnectionState.WithLabelValues(url).Set(float64(state))
}

// RecordConnectionRemoved drops the per-url series of a torn down connection
func (c *Metrics) RecordConnectionRemoved(url string) {
	c.ConnectionState.DeleteLabelValues(url)
	c.Subscribers.DeleteLabelValues(url)
}

// RecordConnections sets the number of live connections
func (c *Metrics) RecordConnections(n int) {
	c.ConnectionsActive.Set(float64(n))
}

// RecordSubscribers sets the subscriber count of a connection
func (c *Metrics) RecordSubscribers(url string, n int) {
	c.Subscribers.WithLabelValues(url).Set(float64(n))
}

// RecordMessageReceived increments the delivered payload counter
func (c *Metrics) RecordMessageReceived(url string) {
	c.MessagesReceived.WithLabelValues(url).Inc()
}

// RecordMalformed increments the malformed payload counter
func (c *Metrics) RecordMalformed(url string) {
	c.MalformedTotal.WithLabelValues(url).Inc()
}

// RecordReconnectAttempt increments the reconnect counter
func (c *Metrics) RecordReconnectAttempt(url string) {
	c.ReconnectAttempts.WithLabelValues(url).Inc()
}

// RecordClassified increments the classified event counter
func (c *Metrics) RecordClassified(kind string) {
	c.EventsClassified.WithLabelValues(kind).Inc()
}

// RecordUnrecognized increments the unrecognized payload counter
func (c *Metrics) RecordUnrecognized(url string) {
	c.UnrecognizedTotal.WithLabelValues(url).Inc()
}

// RecordPublished counts a relay publish attempt
func (c *Metrics) RecordPublished(subject string, ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	c.EventsPublished.WithLabelValues(subject, status).Inc()
}

// RecordSnapshotFetch counts a snapshot fetch and observes its duration
func (c *Metrics) RecordSnapshotFetch(source string, ok bool, duration time.Duration) {
	status := "success"
	if !ok {
		status = "error"
	}
	c.SnapshotFetches.WithLabelValues(source, status).Inc()
	c.SnapshotDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	c.NATSCircuitBreaker.Set(float64(state))
}
