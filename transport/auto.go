package transport

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/c360/trafficstreams/errors"
)

// AutoDialer resolves stream URLs against BaseURL and picks a transport by scheme:
// ws and wss go to WebSocket, everything else to SSE.
type AutoDialer struct {
	BaseURL   string
	SSE       Dialer
	WebSocket Dialer
}

// NewAutoDialer returns an AutoDialer with default SSE and WebSocket dialers.
func NewAutoDialer(baseURL string, logger *slog.Logger) *AutoDialer {
	return &AutoDialer{
		BaseURL:   baseURL,
		SSE:       NewSSEDialer(logger),
		WebSocket: NewWebSocketDialer(logger),
	}
}

// Dial resolves raw and delegates to the matching dialer.
func (a *AutoDialer) Dial(raw string, emit EmitFunc) Binding {
	target, err := Resolve(a.BaseURL, raw)
	if err != nil {
		return failed(emit, errors.WrapInvalid(err, "AutoDialer", "Dial", "resolve url"))
	}

	switch {
	case strings.HasPrefix(target, "ws://"), strings.HasPrefix(target, "wss://"):
		if a.WebSocket == nil {
			return failed(emit, errors.WrapInvalid(fmt.Errorf("no websocket dialer for %s", target),
				"AutoDialer", "Dial", "select transport"))
		}
		return a.WebSocket.Dial(target, emit)
	default:
		if a.SSE == nil {
			return failed(emit, errors.WrapInvalid(fmt.Errorf("no sse dialer for %s", target),
				"AutoDialer", "Dial", "select transport"))
		}
		return a.SSE.Dial(target, emit)
	}
}

// Resolve joins a relative stream path such as "/stream/traffic" onto base.
// Absolute URLs are returned unchanged.
func Resolve(base, raw string) (string, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if base == "" {
		return "", fmt.Errorf("relative url %q without base url", raw)
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(ref).String(), nil
}

// failed returns a binding that reports err asynchronously, honoring the Dial contract.
func failed(emit EmitFunc, err error) Binding {
	g := newGuard(emit)
	go g.send(Signal{Kind: SignalError, Err: err})
	return closer{g}
}

type closer struct{ g *guard }

func (c closer) Close() error {
	c.g.close()
	return nil
}
