// Package natsclient wraps the NATS Go client with circuit breaker protection and
// automatic reconnection. The relay publishes classified traffic events through it.
//
// # Connection lifecycle
//
// A Client moves through Disconnected, Connecting, Connected and Reconnecting.
// Reconnection after a dropped connection is handled by nats.go itself; the client
// mirrors its handlers into Status, the optional callbacks and metrics.
//
// # Circuit breaker
//
// Failed Connect attempts are counted. After the threshold (5 by default) the circuit
// opens and Connect fails fast with ErrCircuitOpen until the backoff elapses. The
// backoff doubles for every round of failures up to the configured maximum (one
// minute by default). A successful connection resets it.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	    natsclient.WithCircuitBreakerThreshold(3),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Publish(ctx, "traffic.events.alert", data)
package natsclient
