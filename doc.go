// Package trafficstreams consumes live traffic-sensor telemetry from push streams and
// turns it into dashboard state.
//
// # Architecture
//
// One upstream connection per stream URL is shared by every view that subscribes to it:
//
//	┌─────────────────────────────────────┐
//	│        transport (SSE / WS)         │  Dial, frame parsing,
//	│     Signal{Open|Message|Error}      │  stream end detection
//	└─────────────────────────────────────┘
//	           ↓ signals, one queue per URL
//	┌─────────────────────────────────────┐
//	│          stream.Manager             │  Refcounted connections,
//	│  (dispatch goroutine per URL)       │  fan-out, reconnect
//	└─────────────────────────────────────┘
//	           ↓ JSON object messages
//	┌─────────────────────────────────────┐
//	│   subscription.Subscription         │  Classification, bounded
//	│   (one per consuming view)          │  event log, View state
//	└─────────────────────────────────────┘
//	           ↓ typed events
//	┌──────────────┐ ┌──────────┐ ┌──────────┐
//	│  aggregate   │ │  relay   │ │   feed   │
//	│ window/trend │ │  NATS    │ │ WS fans  │
//	└──────────────┘ └──────────┘ └──────────┘
//
// Snapshot baselines from request/response endpoints (package snapshot) are merged
// into the same aggregate.Totals as live events, each metric with a fixed merge
// policy.
//
// # Packages
//
// Stream core:
//   - transport: SSE and WebSocket bindings behind the Dialer interface
//   - stream: connection manager and reconnect policy
//   - event: payload classification into tagged variants
//   - subscription: per-view façade with a bounded event log
//   - aggregate: sliding windows, trend and congestion, dashboard totals
//
// Collaborators:
//   - snapshot: baseline polling with a staleness bound
//   - relay: republishes classified events to NATS subjects
//   - feed: WebSocket fan-out of classified events to dashboard clients
//
// Infrastructure:
//   - config: layered JSON/YAML configuration with env overrides
//   - natsclient: NATS connection with circuit breaker
//   - metric: Prometheus registry and HTTP server
//   - health: health status and monitor
//   - errors: classified errors
//   - pkg/buffer, pkg/cache, pkg/retry, pkg/worker, pkg/timestamp, pkg/tlsutil
//
// # Usage
//
//	manager := stream.NewManager(transport.NewAutoDialer("http://localhost:8080", logger),
//	    stream.WithLogger(logger))
//	defer manager.Close()
//
//	agg, _ := aggregate.TrafficByDirection(aggregate.NewTotals(aggregate.DashboardSchema()))
//	sub, _ := subscription.New(manager, subscription.Options{
//	    URL:         "/api/traffic/stream",
//	    AutoConnect: true,
//	    OnEvent:     func(ev event.Event) { agg.Fold(ev, nil) },
//	})
//	defer sub.Close()
//
// # Binary
//
// cmd/trafficstreams wires the packages from a config file:
//
//	./bin/trafficstreams --config configs/trafficstreams.yaml
//
// It serves /metrics, /health, /api/dashboard, /api/config and the live feed on the
// metrics port.
package trafficstreams
