package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/c360/trafficstreams/errors"
)

// SSEDialer opens Server-Sent Event streams over HTTP.
//
// The request carries Accept: text/event-stream. Any non-2xx response is reported as a
// SignalError wrapping errors.ErrHandshakeFailed. The response body is read until the
// server closes it, which is reported as errors.ErrStreamEnded. There is no read or
// idle timeout, so the client must not set http.Client.Timeout.
type SSEDialer struct {
	Client *http.Client
	Header http.Header
	Logger *slog.Logger
}

// NewSSEDialer returns an SSEDialer using a client without an overall timeout.
func NewSSEDialer(logger *slog.Logger) *SSEDialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SSEDialer{
		Client: &http.Client{},
		Logger: logger.With("component", "transport", "transport", "sse"),
	}
}

// Dial starts streaming url on a new goroutine.
func (d *SSEDialer) Dial(url string, emit EmitFunc) Binding {
	ctx, cancel := context.WithCancel(context.Background())
	b := &sseBinding{guard: newGuard(emit), cancel: cancel}
	go b.run(ctx, d, url)
	return b
}

type sseBinding struct {
	*guard
	cancel context.CancelFunc
}

// Close cancels the request and suppresses further signals.
func (b *sseBinding) Close() error {
	b.guard.close()
	b.cancel()
	return nil
}

func (b *sseBinding) run(ctx context.Context, d *SSEDialer, url string) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		b.send(Signal{Kind: SignalError, Err: errors.WrapInvalid(err, "SSEDialer", "Dial", "build request")})
		return
	}
	for k, vs := range d.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		b.send(Signal{Kind: SignalError, Err: errors.WrapTransient(err, "SSEDialer", "Dial", "connect")})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		b.send(Signal{Kind: SignalError, Err: errors.WrapTransient(
			fmt.Errorf("%w: status %d", errors.ErrHandshakeFailed, resp.StatusCode),
			"SSEDialer", "Dial", "handshake")})
		return
	}

	logger.Debug("stream open", "url", url, "status", resp.StatusCode)
	b.send(Signal{Kind: SignalOpen})

	scanner := NewScanner(resp.Body)
	for scanner.Next() {
		ev := scanner.Event()
		b.send(Signal{
			Kind:      SignalMessage,
			Data:      ev.Data,
			EventType: ev.Type,
			ID:        ev.ID,
			Retry:     ev.Retry,
		})
	}

	if err := scanner.Err(); err != nil {
		b.send(Signal{Kind: SignalError, Err: errors.WrapTransient(err, "SSEDialer", "read", "read stream")})
		return
	}
	b.send(Signal{Kind: SignalError, Err: errors.WrapTransient(errors.ErrStreamEnded, "SSEDialer", "read", "read stream")})
}
