package testutil

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/c360/trafficstreams/transport"
)

// MockTransport is a transport.Dialer whose bindings are driven by the test.
// Every Dial is recorded; tests push signals through the returned MockBinding.
type MockTransport struct {
	mu       sync.Mutex
	bindings map[string][]*MockBinding
}

// NewMockTransport creates an empty mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{bindings: make(map[string][]*MockBinding)}
}

// Dial implements transport.Dialer.
func (m *MockTransport) Dial(url string, emit transport.EmitFunc) transport.Binding {
	b := &MockBinding{URL: url, emit: emit}
	m.mu.Lock()
	m.bindings[url] = append(m.bindings[url], b)
	m.mu.Unlock()
	return b
}

// Dials returns the number of times url was dialed.
func (m *MockTransport) Dials(url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bindings[url])
}

// Last returns the most recent binding for url, or nil.
func (m *MockTransport) Last(url string) *MockBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	bs := m.bindings[url]
	if len(bs) == 0 {
		return nil
	}
	return bs[len(bs)-1]
}

// Bindings returns every binding dialed for url in dial order.
func (m *MockTransport) Bindings(url string) []*MockBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockBinding, len(m.bindings[url]))
	copy(out, m.bindings[url])
	return out
}

// WaitDial blocks until url has been dialed n times and returns the latest binding.
func (m *MockTransport) WaitDial(t *testing.T, url string, n int, timeout time.Duration) *MockBinding {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.Dials(url) >= n {
			return m.Last(url)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d dials of %s (got %d)", n, url, m.Dials(url))
	return nil
}

// MockBinding is one dialed stream. Signals sent after Close are dropped.
type MockBinding struct {
	URL string

	mu     sync.Mutex
	emit   transport.EmitFunc
	closed bool
}

func (b *MockBinding) send(s transport.Signal) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if !closed {
		b.emit(s)
	}
}

// Open reports a completed handshake.
func (b *MockBinding) Open() { b.send(transport.Signal{Kind: transport.SignalOpen}) }

// Message delivers one payload.
func (b *MockBinding) Message(data string) {
	b.send(transport.Signal{Kind: transport.SignalMessage, Data: data})
}

// MessageWithRetry delivers one payload carrying an SSE retry hint.
func (b *MockBinding) MessageWithRetry(data string, retry time.Duration) {
	b.send(transport.Signal{Kind: transport.SignalMessage, Data: data, Retry: retry})
}

// Error fails the stream.
func (b *MockBinding) Error(err error) {
	b.send(transport.Signal{Kind: transport.SignalError, Err: err})
}

// Close implements transport.Binding.
func (b *MockBinding) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Closed reports whether the consumer closed the binding.
func (b *MockBinding) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
