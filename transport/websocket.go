package transport

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/trafficstreams/errors"
)

// WebSocketDialer opens ws:// and wss:// streams. Every text or binary frame is one
// message; a normal close frame is reported as errors.ErrStreamEnded.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
	Logger *slog.Logger
}

// NewWebSocketDialer returns a dialer with a 45s handshake timeout.
func NewWebSocketDialer(logger *slog.Logger) *WebSocketDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketDialer{
		Dialer: &websocket.Dialer{
			HandshakeTimeout: 45 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
		Logger: logger.With("component", "transport", "transport", "websocket"),
	}
}

// Dial connects to url on a new goroutine.
func (d *WebSocketDialer) Dial(url string, emit EmitFunc) Binding {
	ctx, cancel := context.WithCancel(context.Background())
	b := &wsBinding{guard: newGuard(emit), cancel: cancel}
	go b.run(ctx, d, url)
	return b
}

type wsBinding struct {
	*guard
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *websocket.Conn
}

// Close aborts the handshake or closes the live connection.
func (b *wsBinding) Close() error {
	b.guard.close()
	b.cancel()

	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}

func (b *wsBinding) run(ctx context.Context, d *WebSocketDialer, url string) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if err == websocket.ErrBadHandshake && resp != nil {
			err = errors.ErrHandshakeFailed
		}
		b.send(Signal{Kind: SignalError, Err: errors.WrapTransient(err, "WebSocketDialer", "Dial", "connect")})
		return
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		conn.Close()
		return
	}
	b.conn = conn
	b.mu.Unlock()

	logger.Debug("stream open", "url", url)
	b.send(Signal{Kind: SignalOpen})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = errors.ErrStreamEnded
			}
			b.send(Signal{Kind: SignalError, Err: errors.WrapTransient(err, "WebSocketDialer", "read", "read frame")})
			return
		}
		b.send(Signal{Kind: SignalMessage, Data: string(data)})
	}
}
