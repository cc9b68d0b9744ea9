// Package transport binds stream URLs to live upstream connections.
//
// A Dialer turns a URL into a Binding and reports what happens on it through an
// EmitFunc: exactly one SignalOpen when the handshake succeeds, one SignalMessage per
// upstream message, and at most one terminal SignalError. Bindings never reconnect on
// their own; recovery policy belongs to the stream connection manager.
//
// Three dialers are provided:
//
//   - SSEDialer: HTTP GET with Accept: text/event-stream, parsed by Scanner
//     (data lines joined by "\n", event, id and retry fields, comments ignored).
//   - WebSocketDialer: gorilla/websocket client, one frame per message.
//   - AutoDialer: resolves relative paths against a base URL and picks one of the above
//     by scheme.
package transport
