package stream

import (
	"log/slog"
	"time"

	"github.com/c360/trafficstreams/health"
	"github.com/c360/trafficstreams/metric"
)

const (
	// DefaultRetryInterval is the reconnect delay when no subscriber configures one.
	DefaultRetryInterval = 3 * time.Second
	// DefaultQueueSize bounds the per-connection signal queue.
	DefaultQueueSize = 64
)

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDefaultRetryInterval sets the reconnect delay used when no subscriber sets one.
func WithDefaultRetryInterval(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.retryInterval = d
		}
	}
}

// WithMaxRetries bounds consecutive reconnect attempts. Zero keeps retrying forever.
func WithMaxRetries(n int) ManagerOption {
	return func(m *Manager) {
		if n >= 0 {
			m.maxRetries = n
		}
	}
}

// WithQueueSize sets the capacity of each connection's signal queue.
func WithQueueSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// WithMetrics records connection metrics in registry.
func WithMetrics(registry *metric.MetricsRegistry) ManagerOption {
	return func(m *Manager) {
		if registry != nil {
			m.metrics = registry.CoreMetrics()
		}
	}
}

// WithHealthMonitor reports every connection's state to monitor.
func WithHealthMonitor(monitor *health.Monitor) ManagerOption {
	return func(m *Manager) {
		m.health = monitor
	}
}

// WithServerRetryHint makes SSE "retry:" fields override the reconnect interval.
func WithServerRetryHint(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.honorRetryHint = enabled
	}
}

// WithClock replaces time.Now for message timestamps.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// SubscribeOption configures a single subscription.
type SubscribeOption func(*subscriber)

// WithRetryInterval requests a reconnect delay for the connection. The first
// subscriber that sets one wins.
func WithRetryInterval(d time.Duration) SubscribeOption {
	return func(s *subscriber) {
		if d > 0 {
			s.retryInterval = d
		}
	}
}
