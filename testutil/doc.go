// Package testutil provides test doubles and payload fixtures for trafficstreams.
//
// # Mock Implementations
//
// MockTransport - a transport.Dialer driven by the test:
//   - records every Dial per URL
//   - each MockBinding exposes Open, Message, Error to inject signals
//   - signals sent after the consumer closes a binding are dropped
//
// MockNATSClient - in-memory stand-in for natsclient.Client:
//   - stores every published payload per subject
//   - delivers synchronously to subscribers
//   - FailPublish injects publish errors
//
// # Fixtures
//
// data.go holds one payload per classified event kind plus handshake, malformed and
// unrecognized shapes, and a snapshot baseline body.
//
// # Usage
//
//	mt := testutil.NewMockTransport()
//	mgr := stream.NewManager(mt)
//	unsubscribe, _ := mgr.Subscribe("/stream/traffic", "view-1", callbacks)
//	defer unsubscribe()
//
//	b := mt.WaitDial(t, "/stream/traffic", 1, time.Second)
//	b.Open()
//	b.Message(testutil.TrafficPayload)
//
// Wait helpers poll every 10ms; use them only where delivery is asynchronous.
package testutil
