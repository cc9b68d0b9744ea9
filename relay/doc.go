// Package relay republishes classified stream events to NATS so other services can
// consume the live feed without opening their own SSE connections.
//
// Every routable event is wrapped in an Envelope and published on "<prefix>.<kind>",
// for example traffic.events.alert. Handshakes and unrecognized payloads never leave
// the process. A Relay is usually attached to a subscription through Forward:
//
//	r, err := relay.New(natsClient, relay.Config{Prefix: "traffic.events"})
//	sub, err := subscription.New(manager, subscription.Options{
//	    URL:     "/stream/traffic",
//	    OnEvent: r.Forward(ctx, "/stream/traffic"),
//	})
//
// Consumers turn a message back into a typed event with Decode and Envelope.Event.
package relay
