// Package stream manages shared push-stream connections to traffic telemetry endpoints.
//
// A Manager keeps at most one transport binding per stream URL no matter how many
// views subscribe to it. Subscribers are reference counted: the first Subscribe dials,
// the last unsubscribe closes the binding and drops the connection record.
//
// # Lifecycle
//
//	Idle -> Connecting -> Open -> Error -> Connecting -> ...
//	                                 \-> Closed (retries exhausted)
//
// A transport error moves the connection to Error and schedules exactly one reconnect
// after the retry interval. A successful open resets the retry counter. With
// WithMaxRetries set, exhausting the budget leaves the connection Closed until
// Reconnect is called.
//
// # Ordering
//
// Every connection owns a bounded signal queue and a single dispatch goroutine.
// Transport goroutines and reconnect timers only enqueue, so callbacks for one URL are
// delivered in arrival order. Signals from a superseded binding are recognised by
// their generation and ignored.
//
// # Payloads
//
// The manager only checks that each payload is a JSON object. Anything else is counted
// as malformed, logged at a limited rate and never delivered. Classification belongs
// to the subscription layer.
//
// # Usage
//
//	mgr := stream.NewManager(transport.NewAutoDialer(baseURL, logger),
//	    stream.WithLogger(logger),
//	    stream.WithMetrics(registry),
//	)
//	defer mgr.Close()
//
//	unsubscribe, err := mgr.Subscribe("/stream/traffic", "overview", stream.Callbacks{
//	    OnEvent: func(msg stream.Message) { ... },
//	})
package stream
