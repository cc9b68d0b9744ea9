// Package metric provides Prometheus metrics for trafficstreams.
//
// # Overview
//
// MetricsRegistry wraps a private prometheus.Registry. It always carries the core stream
// metrics (Metrics), the Go runtime collector and the process collector. Components add their
// own collectors through the MetricsRegistrar interface, keyed by component and metric name
// so a component cannot register the same metric twice.
//
// Core metrics, all prefixed with the trafficstreams namespace:
//
//	trafficstreams_stream_connections_active        gauge
//	trafficstreams_stream_connection_state{url}      gauge (0=idle .. 4=closed)
//	trafficstreams_stream_subscribers{url}           gauge
//	trafficstreams_stream_messages_received_total    counter
//	trafficstreams_stream_malformed_total{url}       counter
//	trafficstreams_stream_reconnect_attempts_total   counter
//	trafficstreams_events_classified_total{kind}     counter
//	trafficstreams_events_unrecognized_total{url}    counter
//	trafficstreams_relay_published_total             counter
//	trafficstreams_snapshot_fetches_total            counter
//	trafficstreams_snapshot_fetch_duration_seconds   histogram
//	trafficstreams_nats_*                            NATS client status
//
// # Serving
//
// Server exposes the registry on /metrics, a /health endpoint and any extra handlers
// mounted with WithHandler:
//
//	srv := metric.NewServer(9090, "/metrics", registry,
//	    metric.WithHandler("/health", healthHandler),
//	    metric.WithHandler("/api/dashboard", dashboardHandler))
//	go srv.Start()
//	defer srv.Stop()
//
// All metric recording is optional for components: a nil *MetricsRegistry disables it.
package metric
