package transport

import (
	"sync"
	"sync/atomic"
	"time"
)

// SignalKind discriminates the notifications a Binding emits.
type SignalKind int

const (
	// SignalOpen reports a completed handshake.
	SignalOpen SignalKind = iota + 1
	// SignalMessage carries one complete upstream message.
	SignalMessage
	// SignalError reports a failed handshake, a network error or the end of the stream.
	// No further signals follow an error.
	SignalError
)

// String returns the signal kind name.
func (k SignalKind) String() string {
	switch k {
	case SignalOpen:
		return "open"
	case SignalMessage:
		return "message"
	case SignalError:
		return "error"
	default:
		return "unknown"
	}
}

// Signal is a single notification from a Binding.
type Signal struct {
	Kind      SignalKind
	Data      string        // message payload (SignalMessage)
	EventType string        // SSE "event:" field, empty for the default type
	ID        string        // SSE "id:" field (last event id)
	Retry     time.Duration // SSE "retry:" hint, zero when absent
	Err       error         // cause (SignalError)
}

// EmitFunc receives signals from a Binding. It may block for backpressure.
type EmitFunc func(Signal)

// Dialer opens bindings to stream URLs.
//
// Dial must return immediately and must not call emit before it returns; the handshake
// and all reads happen on goroutines owned by the binding.
type Dialer interface {
	Dial(url string, emit EmitFunc) Binding
}

// Binding is one live upstream stream. Close stops reading and suppresses further signals.
type Binding interface {
	Close() error
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(url string, emit EmitFunc) Binding

// Dial calls f.
func (f DialerFunc) Dial(url string, emit EmitFunc) Binding {
	return f(url, emit)
}

// guard suppresses emits once the owning binding is closed and makes sure the
// terminal error is emitted at most once.
type guard struct {
	emit     EmitFunc
	closed   atomic.Bool
	errOnce  sync.Once
	doneOnce sync.Once
	done     chan struct{}
}

func newGuard(emit EmitFunc) *guard {
	return &guard{emit: emit, done: make(chan struct{})}
}

func (g *guard) send(s Signal) {
	if g.closed.Load() {
		return
	}
	if s.Kind == SignalError {
		g.errOnce.Do(func() { g.emit(s) })
		return
	}
	g.emit(s)
}

func (g *guard) close() {
	g.closed.Store(true)
	g.doneOnce.Do(func() { close(g.done) })
}
