package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/trafficstreams/event"
	"github.com/c360/trafficstreams/metric"
	"github.com/c360/trafficstreams/relay"
)

// Defaults for Hub options
const (
	DefaultSendBuffer   = 64
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 5 * time.Second
)

// Option configures a Hub
type Option func(*Hub)

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics exports client and delivery counters
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(h *Hub) {
		h.registry = registry
	}
}

// WithSendBuffer sets how many envelopes may wait per client before new ones are
// dropped for that client.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithPingInterval sets the keepalive ping period. Clients that miss two pongs are
// disconnected.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithCheckOrigin replaces the same-origin check of the upgrader.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = fn
	}
}

// Hub fans classified events out to WebSocket clients. Each client may narrow the
// feed with ?kinds=traffic,alert and ?source=/api/traffic/stream query parameters.
type Hub struct {
	logger       *slog.Logger
	registry     *metric.MetricsRegistry
	metrics      *hubMetrics
	upgrader     websocket.Upgrader
	sendBuffer   int
	pingInterval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	wg        sync.WaitGroup
	delivered atomic.Int64
	dropped   atomic.Int64
}

type hubMetrics struct {
	clients   prometheus.Gauge
	delivered prometheus.Counter
	dropped   prometheus.Counter
}

// NewHub creates an empty hub
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:       slog.Default(),
		sendBuffer:   DefaultSendBuffer,
		pingInterval: DefaultPingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "feed")
	if h.registry != nil {
		h.metrics = newHubMetrics(h.registry)
	}
	return h
}

func newHubMetrics(registry *metric.MetricsRegistry) *hubMetrics {
	m := &hubMetrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trafficstreams",
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Connected live feed clients",
		}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trafficstreams",
			Subsystem: "feed",
			Name:      "delivered_total",
			Help:      "Envelopes queued to live feed clients",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trafficstreams",
			Subsystem: "feed",
			Name:      "dropped_total",
			Help:      "Envelopes dropped because a client fell behind",
		}),
	}
	_ = registry.RegisterGauge("feed", "clients", m.clients)
	_ = registry.RegisterCounter("feed", "delivered_total", m.delivered)
	_ = registry.RegisterCounter("feed", "dropped_total", m.dropped)
	return m
}

// filter selects the envelopes a client receives. Empty sets match everything.
type filter struct {
	kinds   map[event.Kind]bool
	sources map[string]bool
}

func parseFilter(r *http.Request) filter {
	var f filter
	q := r.URL.Query()
	for _, raw := range q["kinds"] {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				if f.kinds == nil {
					f.kinds = make(map[event.Kind]bool)
				}
				f.kinds[event.Kind(k)] = true
			}
		}
	}
	for _, s := range q["source"] {
		if s != "" {
			if f.sources == nil {
				f.sources = make(map[string]bool)
			}
			f.sources[s] = true
		}
	}
	return f
}

func (f filter) match(source string, k event.Kind) bool {
	if f.kinds != nil && !f.kinds[k] {
		return false
	}
	return f.sources == nil || f.sources[source]
}

type client struct {
	conn        *websocket.Conn
	filter      filter
	send        chan []byte
	connectedAt time.Time
	closeOnce   sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ServeHTTP upgrades the request and registers the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		conn:        conn,
		filter:      parseFilter(r),
		send:        make(chan []byte, h.sendBuffer),
		connectedAt: time.Now(),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.wg.Add(2)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.clients.Set(float64(count))
	}
	h.logger.Info("Feed client connected", "remote", r.RemoteAddr, "clients", count)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// readLoop discards client frames and detects disconnects.
func (h *Hub) readLoop(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	_ = c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the only writer of c.conn.
func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	defer c.conn.Close()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	if h.metrics != nil {
		h.metrics.clients.Set(float64(count))
	}
	h.logger.Info("Feed client disconnected", "connected_for", time.Since(c.connectedAt).Round(time.Second), "clients", count)
}

// Broadcast queues ev, received on source, for every matching client. A client whose
// buffer is full misses the envelope.
func (h *Hub) Broadcast(source string, ev event.Event) {
	if ev.Discard() {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	var data []byte
	for c := range h.clients {
		if !c.filter.match(source, ev.Kind) {
			continue
		}
		if data == nil {
			var err error
			if data, err = encode(source, ev); err != nil {
				h.logger.Warn("Encode envelope failed", "source", source, "kind", ev.Kind, "error", err)
				return
			}
		}
		select {
		case c.send <- data:
			h.delivered.Add(1)
			if h.metrics != nil {
				h.metrics.delivered.Inc()
			}
		default:
			h.dropped.Add(1)
			if h.metrics != nil {
				h.metrics.dropped.Inc()
			}
		}
	}
}

// Forward returns an event callback for a subscription on source.
func (h *Hub) Forward(source string) func(event.Event) {
	return func(ev event.Event) {
		h.Broadcast(source, ev)
	}
}

func encode(source string, ev event.Event) ([]byte, error) {
	payload := ev.Raw
	if len(payload) == 0 {
		var err error
		if payload, err = json.Marshal(ev.Payload); err != nil {
			return nil, err
		}
	}
	return json.Marshal(relay.Envelope{
		Kind:       ev.Kind,
		ID:         ev.ID,
		Source:     source,
		ReceivedAt: ev.ReceivedAt,
		ObservedAt: ev.ObservedAt(),
		Payload:    payload,
	})
}

// Stats holds hub counters
type Stats struct {
	Clients   int   `json:"clients"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns the hub counters
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return Stats{Clients: n, Delivered: h.delivered.Load(), Dropped: h.dropped.Load()}
}

// Close disconnects every client and refuses new ones. It waits for the client
// goroutines to exit.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
		delete(h.clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	if h.metrics != nil {
		h.metrics.clients.Set(0)
	}
	h.wg.Wait()
	return nil
}
