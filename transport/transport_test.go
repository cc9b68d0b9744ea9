package transport

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trafficstreams/errors"
)

type recorder struct {
	mu      sync.Mutex
	signals []Signal
	ch      chan Signal
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Signal, 64)}
}

func (r *recorder) emit(s Signal) {
	r.mu.Lock()
	r.signals = append(r.signals, s)
	r.mu.Unlock()
	r.ch <- s
}

func (r *recorder) next(t *testing.T) Signal {
	t.Helper()
	select {
	case s := <-r.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
		return Signal{}
	}
}

func TestSSEDialer_StreamLifecycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": hello\n\n")
		fmt.Fprint(w, "event: traffic\nid: 1\ndata: {\"sensor_id\":\"s1\",\ndata: \"density\":85}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
	}))
	defer srv.Close()

	rec := newRecorder()
	b := NewSSEDialer(nil).Dial(srv.URL+"/stream/traffic", rec.emit)
	defer b.Close()

	assert.Equal(t, SignalOpen, rec.next(t).Kind)

	msg := rec.next(t)
	assert.Equal(t, SignalMessage, msg.Kind)
	assert.Equal(t, "traffic", msg.EventType)
	assert.Equal(t, "1", msg.ID)
	assert.Equal(t, "{\"sensor_id\":\"s1\",\n\"density\":85}", msg.Data)

	msg = rec.next(t)
	assert.Equal(t, `{"type":"connected"}`, msg.Data)
	assert.Equal(t, "1", msg.ID)

	end := rec.next(t)
	assert.Equal(t, SignalError, end.Kind)
	assert.ErrorIs(t, end.Err, errors.ErrStreamEnded)
	assert.True(t, errors.IsTransient(end.Err))
}

func TestSSEDialer_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := newRecorder()
	b := NewSSEDialer(nil).Dial(srv.URL, rec.emit)
	defer b.Close()

	s := rec.next(t)
	assert.Equal(t, SignalError, s.Kind)
	assert.ErrorIs(t, s.Err, errors.ErrHandshakeFailed)
	assert.Contains(t, s.Err.Error(), "503")
}

func TestSSEDialer_ConnectError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	rec := newRecorder()
	b := NewSSEDialer(nil).Dial(addr, rec.emit)
	defer b.Close()

	s := rec.next(t)
	assert.Equal(t, SignalError, s.Kind)
	assert.True(t, errors.IsTransient(s.Err))
}

func TestSSEDialer_CloseSuppressesSignals(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	rec := newRecorder()
	b := NewSSEDialer(nil).Dial(srv.URL, rec.emit)
	assert.Equal(t, SignalOpen, rec.next(t).Kind)

	require.NoError(t, b.Close())

	select {
	case s := <-rec.ch:
		t.Fatalf("unexpected signal after close: %v", s.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSSEDialer_CustomHeaders(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Dashboard")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewSSEDialer(nil)
	d.Header = http.Header{"X-Dashboard": []string{"ops"}}
	rec := newRecorder()
	b := d.Dial(srv.URL, rec.emit)
	defer b.Close()

	select {
	case v := <-got:
		assert.Equal(t, "ops", v)
	case <-time.After(2 * time.Second):
		t.Fatal("request not received")
	}
}

func wsServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
}

func TestWebSocketDialer_Messages(t *testing.T) {
	srv := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"v1","speed_kmh":62}`))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		time.Sleep(50 * time.Millisecond)
	})
	defer srv.Close()

	rec := newRecorder()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	b := NewWebSocketDialer(nil).Dial(url, rec.emit)
	defer b.Close()

	assert.Equal(t, SignalOpen, rec.next(t).Kind)
	msg := rec.next(t)
	assert.Equal(t, SignalMessage, msg.Kind)
	assert.JSONEq(t, `{"id":"v1","speed_kmh":62}`, msg.Data)

	end := rec.next(t)
	assert.Equal(t, SignalError, end.Kind)
	assert.ErrorIs(t, end.Err, errors.ErrStreamEnded)
}

func TestWebSocketDialer_HandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	rec := newRecorder()
	b := NewWebSocketDialer(nil).Dial("ws"+strings.TrimPrefix(srv.URL, "http"), rec.emit)
	defer b.Close()

	s := rec.next(t)
	assert.Equal(t, SignalError, s.Kind)
	assert.ErrorIs(t, s.Err, errors.ErrHandshakeFailed)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		raw     string
		want    string
		wantErr bool
	}{
		{"relative path", "http://traffic.local:8080", "/stream/traffic", "http://traffic.local:8080/stream/traffic", false},
		{"absolute passthrough", "http://a", "https://b/stream", "https://b/stream", false},
		{"websocket absolute", "", "ws://b/ws", "ws://b/ws", false},
		{"relative without base", "", "/stream/traffic", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.base, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAutoDialer_SelectsByScheme(t *testing.T) {
	var dialed []string
	fake := func(name string) Dialer {
		return DialerFunc(func(url string, _ EmitFunc) Binding {
			dialed = append(dialed, name+" "+url)
			return closer{newGuard(func(Signal) {})}
		})
	}

	a := &AutoDialer{BaseURL: "http://traffic.local", SSE: fake("sse"), WebSocket: fake("ws")}
	a.Dial("/stream/traffic", func(Signal) {})
	a.Dial("wss://traffic.local/live", func(Signal) {})

	assert.Equal(t, []string{
		"sse http://traffic.local/stream/traffic",
		"ws wss://traffic.local/live",
	}, dialed)
}

func TestAutoDialer_ResolveFailureIsAsync(t *testing.T) {
	rec := newRecorder()
	b := (&AutoDialer{}).Dial("/stream/traffic", rec.emit)
	defer b.Close()

	s := rec.next(t)
	assert.Equal(t, SignalError, s.Kind)
	assert.True(t, errors.IsInvalid(s.Err))
}

func TestGuard_SingleTerminalError(t *testing.T) {
	rec := newRecorder()
	g := newGuard(rec.emit)
	g.send(Signal{Kind: SignalError, Err: errors.ErrStreamEnded})
	g.send(Signal{Kind: SignalError, Err: errors.ErrConnectionLost})

	assert.ErrorIs(t, rec.next(t).Err, errors.ErrStreamEnded)
	select {
	case <-rec.ch:
		t.Fatal("second error must be suppressed")
	default:
	}
}

func TestSignalKind_String(t *testing.T) {
	assert.Equal(t, "open", SignalOpen.String())
	assert.Equal(t, "message", SignalMessage.String())
	assert.Equal(t, "error", SignalError.String())
	assert.Equal(t, "unknown", SignalKind(0).String())
}
