// Package errors provides standardized error handling patterns for trafficstreams components.
//
// # Overview
//
// Every error produced by the stream core falls into one of three classes:
//
//   - Transient: network failures, non-2xx handshakes and server-closed streams. The
//     connection manager recovers from these by scheduling a reconnect.
//   - Invalid: malformed payloads, empty stream URLs, bad subscriber ids. Never retried.
//   - Fatal: exhausted reconnect retries and unusable configuration. Automatic recovery
//     stops; a stream in this state is only revived by an explicit Reconnect.
//
// Classification works with the standard errors.Is and errors.As functions, so sentinels
// survive any number of wrapping layers.
//
// # Wrapping
//
// Errors are wrapped with the component, method and action that failed:
//
//	if err := binding.Close(); err != nil {
//	    return errors.WrapTransient(err, "stream", "Unsubscribe", "close binding")
//	}
//
// which produces "stream.Unsubscribe: close binding failed: <cause>".
//
// # Subscriber-facing messages
//
// Message strips the wrapping prefixes and returns the root cause text, which is what the
// subscription view exposes in its Error field:
//
//	view.Error = errors.Message(err)
package errors
