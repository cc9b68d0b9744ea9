// Package feed serves classified events to browser dashboards over WebSocket.
//
// A Hub is an http.Handler. Every connected client receives the relay envelope
// (kind, id, source, received_at, observed_at, payload) of each delivered event as a
// text frame, optionally narrowed by query parameters:
//
//	ws://host:9090/ws/events?kinds=traffic,alert&source=/api/traffic/stream
//
// Slow clients do not hold up the stream: each client has a bounded send buffer and
// misses envelopes while it is full. Clients are pinged every PingInterval and dropped
// after two missed pongs.
//
//	hub := feed.NewHub(feed.WithLogger(logger), feed.WithMetrics(registry))
//	sub, _ := subscription.New(mgr, subscription.Options{
//	    URL:     "/api/traffic/stream",
//	    OnEvent: hub.Forward("/api/traffic/stream"),
//	})
package feed
