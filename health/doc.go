// Package health tracks the health of trafficstreams components.
//
// # Health States
//
//   - Healthy: operating normally (a stream connection that is open)
//   - Degraded: recovering (a connection that is connecting or waiting to reconnect)
//   - Unhealthy: stopped (a connection that exhausted its retries)
//
// # Usage
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("stream:/stream/traffic", "open")
//	monitor.Update("nats", health.FromError("nats", err, false))
//
//	status := monitor.AggregateHealth("trafficstreams")
//	http.Handle("/health", health.Handler(monitor, "trafficstreams"))
//
// Aggregation is worst-wins: any unhealthy sub-status makes the aggregate unhealthy,
// otherwise any degraded sub-status makes it degraded.
//
// Messages built with FromError are passed through Sanitize so stream URLs, hosts and
// credentials never leak through the health endpoint.
package health
