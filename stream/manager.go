package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/trafficstreams/errors"
	"github.com/c360/trafficstreams/health"
	"github.com/c360/trafficstreams/metric"
	"github.com/c360/trafficstreams/pkg/retry"
	"github.com/c360/trafficstreams/transport"
)

// Manager owns at most one live transport binding per stream URL and fans every
// upstream signal out to the subscribers of that URL.
//
// Each connection has a bounded signal queue drained by a single dispatch goroutine.
// Transport goroutines and reconnect timers only enqueue, so state transitions and
// callbacks for one URL happen in arrival order. Callbacks run on the dispatch
// goroutine and must not block for long.
type Manager struct {
	dialer         transport.Dialer
	logger         *slog.Logger
	retryInterval  time.Duration
	maxRetries     int
	queueSize      int
	metrics        *metric.Metrics
	health         *health.Monitor
	honorRetryHint bool
	now            func() time.Time
	malformedLog   *rate.Limiter

	mu     sync.Mutex
	conns  map[string]*connection
	closed bool
}

type subscriber struct {
	id            string
	cb            Callbacks
	retryInterval time.Duration
	live          atomic.Bool
}

type envelopeKind int

const (
	envTransport envelopeKind = iota
	envRetry
	envJoin
)

type envelope struct {
	kind envelopeKind
	gen  uint64
	sig  transport.Signal
	msg  Message
	err  error
	sub  *subscriber
}

type connection struct {
	url     string
	signals chan envelope
	done    chan struct{}

	// Guarded by Manager.mu.
	subs        []*subscriber
	state       State
	retries     int
	gen         uint64
	binding     transport.Binding
	timer       *time.Timer
	lastErr     error
	openedAt    time.Time
	serverRetry time.Duration
	delivered   int64
	malformed   int64
	removed     bool
}

// NewManager creates a connection manager that opens bindings with dialer.
func NewManager(dialer transport.Dialer, opts ...ManagerOption) *Manager {
	m := &Manager{
		dialer:        dialer,
		logger:        slog.Default(),
		retryInterval: DefaultRetryInterval,
		queueSize:     DefaultQueueSize,
		now:           time.Now,
		malformedLog:  rate.NewLimiter(rate.Every(time.Second), 5),
		conns:         make(map[string]*connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "stream")
	return m
}

// Subscribe attaches a subscriber to the stream at url, dialing it if this is the
// first subscriber. A subscriber id already registered on url is replaced and the
// previous registration stops receiving callbacks immediately.
//
// The returned function detaches the subscriber. It is idempotent, and once it returns
// no further callbacks start for this registration. Detaching the last subscriber
// closes the binding and cancels any pending reconnect.
func (m *Manager) Subscribe(url, subscriberID string, cb Callbacks, opts ...SubscribeOption) (func(), error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrEmptyURL, "stream", "Subscribe", "validate url")
	}
	if subscriberID == "" {
		return nil, errors.WrapInvalid(errors.ErrEmptySubscriberID, "stream", "Subscribe", "validate subscriber")
	}

	sub := &subscriber{id: subscriberID, cb: cb}
	for _, opt := range opts {
		opt(sub)
	}
	sub.live.Store(true)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrManagerClosed, "stream", "Subscribe", "attach subscriber")
	}

	c, exists := m.conns[url]
	if !exists {
		c = &connection{
			url:     url,
			signals: make(chan envelope, m.queueSize),
			done:    make(chan struct{}),
			gen:     1,
		}
		m.conns[url] = c
		go m.dispatch(c)
	}

	replaced := false
	for i, s := range c.subs {
		if s.id == subscriberID {
			s.live.Store(false)
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			replaced = true
			break
		}
	}
	c.subs = append(c.subs, sub)

	if !exists {
		m.dialLocked(c)
	}
	late := c.state == StateOpen || c.state == StateClosed
	m.recordSubscribersLocked(c)
	m.mu.Unlock()

	m.logger.Debug("subscriber attached",
		"url", url, "subscriber", subscriberID, "new_connection", !exists, "replaced", replaced)

	if late {
		c.post(envelope{kind: envJoin, sub: sub})
	}

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(c, sub) })
	}, nil
}

func (m *Manager) unsubscribe(c *connection, sub *subscriber) {
	sub.live.Store(false)

	m.mu.Lock()
	idx := -1
	for i, s := range c.subs {
		if s == sub {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return
	}
	c.subs = append(c.subs[:idx], c.subs[idx+1:]...)

	var binding transport.Binding
	last := len(c.subs) == 0 && !c.removed
	if last {
		binding = m.teardownLocked(c)
	} else {
		m.recordSubscribersLocked(c)
	}
	m.mu.Unlock()

	if binding != nil {
		if err := binding.Close(); err != nil {
			m.logger.Warn("close binding", "url", c.url, "error", err)
		}
	}
	m.logger.Debug("subscriber detached", "url", c.url, "subscriber", sub.id, "connection_closed", last)
}

// teardownLocked drops the connection record and returns its binding for closing
// outside the lock.
func (m *Manager) teardownLocked(c *connection) transport.Binding {
	c.removed = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	binding := c.binding
	c.binding = nil
	close(c.done)

	if m.conns[c.url] == c {
		delete(m.conns, c.url)
	}
	if m.metrics != nil {
		m.metrics.RecordConnectionRemoved(c.url)
		m.metrics.RecordConnections(len(m.conns))
	}
	if m.health != nil {
		m.health.Remove(healthName(c.url))
	}
	return binding
}

// dialLocked opens a binding tagged with the current generation.
func (m *Manager) dialLocked(c *connection) {
	gen := c.gen
	c.state = StateConnecting
	c.binding = m.dialer.Dial(c.url, func(s transport.Signal) {
		e := envelope{kind: envTransport, gen: gen, sig: s}
		if s.Kind == transport.SignalMessage {
			e.msg, e.err = m.decode(c.url, s)
		}
		c.post(e)
	})
	m.reportStateLocked(c)
}

func (c *connection) post(e envelope) {
	select {
	case c.signals <- e:
	case <-c.done:
	}
}

func (m *Manager) dispatch(c *connection) {
	for {
		select {
		case <-c.done:
			return
		case e := <-c.signals:
			switch e.kind {
			case envTransport:
				m.handleSignal(c, e)
			case envRetry:
				m.handleRetry(c, e.gen)
			case envJoin:
				m.handleJoin(c, e.sub)
			}
		}
	}
}

func (m *Manager) handleSignal(c *connection, e envelope) {
	m.mu.Lock()
	if c.removed || e.gen != c.gen {
		m.mu.Unlock()
		return
	}

	switch e.sig.Kind {
	case transport.SignalOpen:
		c.state = StateOpen
		c.retries = 0
		c.lastErr = nil
		c.openedAt = m.now()
		m.reportStateLocked(c)
		targets := c.liveLocked()
		m.mu.Unlock()

		m.logger.Info("stream connected", "url", c.url, "subscribers", len(targets))
		for _, s := range targets {
			if s.live.Load() && s.cb.OnConnect != nil {
				s.cb.OnConnect()
			}
		}

	case transport.SignalMessage:
		if m.honorRetryHint && e.sig.Retry > 0 {
			c.serverRetry = e.sig.Retry
		}
		if e.err != nil {
			c.malformed++
			m.mu.Unlock()
			m.reportMalformed(c.url, e.sig.Data, e.err)
			return
		}
		c.delivered++
		targets := c.liveLocked()
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.RecordMessageReceived(c.url)
		}
		for _, s := range targets {
			if s.live.Load() && s.cb.OnEvent != nil {
				s.cb.OnEvent(e.msg)
			}
		}

	case transport.SignalError:
		m.handleFailureLocked(c, e.sig.Err)

	default:
		m.mu.Unlock()
	}
}

// handleFailureLocked moves the connection to Error, schedules one reconnect or
// gives up, and notifies subscribers. It releases m.mu.
func (m *Manager) handleFailureLocked(c *connection, cause error) {
	if cause == nil {
		cause = errors.ErrConnectionLost
	}
	wasOpen := c.state == StateOpen

	c.state = StateError
	c.lastErr = cause
	c.gen++
	binding := c.binding
	c.binding = nil

	delay, ok := m.scheduleLocked(c).Next(c.retries)
	var exhausted error
	if ok {
		gen := c.gen
		c.timer = time.AfterFunc(delay, func() {
			c.post(envelope{kind: envRetry, gen: gen})
		})
	} else {
		c.state = StateClosed
		exhausted = errors.WrapFatal(errors.ErrRetriesExhausted, "stream", "reconnect",
			fmt.Sprintf("reconnect after %d attempts", c.retries))
		c.lastErr = exhausted
	}
	m.reportStateLocked(c)
	targets := c.liveLocked()
	retries := c.retries
	m.mu.Unlock()

	if binding != nil {
		_ = binding.Close()
	}

	if exhausted != nil {
		m.logger.Error("stream closed", "url", c.url, "error", cause, "retries", retries)
	} else {
		m.logger.Warn("stream error", "url", c.url, "error", cause, "retry_in", delay, "retries", retries)
	}

	for _, s := range targets {
		if wasOpen && s.live.Load() && s.cb.OnDisconnect != nil {
			s.cb.OnDisconnect()
		}
		if s.live.Load() && s.cb.OnError != nil {
			s.cb.OnError(cause)
			if exhausted != nil && s.live.Load() {
				s.cb.OnError(exhausted)
			}
		}
	}
}

func (m *Manager) scheduleLocked(c *connection) retry.Schedule {
	interval := m.retryInterval
	for _, s := range c.subs {
		if s.retryInterval > 0 {
			interval = s.retryInterval
			break
		}
	}
	if m.honorRetryHint && c.serverRetry > 0 {
		interval = c.serverRetry
	}
	return retry.FixedSchedule(interval, m.maxRetries)
}

func (m *Manager) handleRetry(c *connection, gen uint64) {
	m.mu.Lock()
	if c.removed || gen != c.gen || c.state != StateError {
		m.mu.Unlock()
		return
	}
	c.timer = nil
	c.retries++
	retries := c.retries
	m.dialLocked(c)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordReconnectAttempt(c.url)
	}
	m.logger.Info("reconnecting", "url", c.url, "attempt", retries)
}

func (m *Manager) handleJoin(c *connection, sub *subscriber) {
	m.mu.Lock()
	removed, state, lastErr := c.removed, c.state, c.lastErr
	m.mu.Unlock()

	if removed || !sub.live.Load() {
		return
	}
	switch state {
	case StateOpen:
		if sub.cb.OnConnect != nil {
			sub.cb.OnConnect()
		}
	case StateClosed:
		if sub.cb.OnError != nil && lastErr != nil {
			sub.cb.OnError(lastErr)
		}
	}
}

// Reconnect dials url again unless it is already open or connecting. It resets the
// retry counter and is the only way out of the Closed state.
func (m *Manager) Reconnect(url string) error {
	m.mu.Lock()
	c, ok := m.conns[url]
	if !ok {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrUnknownStream, "stream", "Reconnect", "find connection")
	}
	if c.state == StateOpen || c.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.retries = 0
	c.gen++
	old := c.binding
	c.binding = nil
	m.dialLocked(c)
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if m.metrics != nil {
		m.metrics.RecordReconnectAttempt(url)
	}
	m.logger.Info("manual reconnect", "url", url)
	return nil
}

// Info returns a snapshot of the connection for url.
func (m *Manager) Info(url string) (ConnectionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conns[url]
	if !ok {
		return ConnectionInfo{}, false
	}
	return c.infoLocked(), true
}

// Connections returns a snapshot of every connection, sorted by URL.
func (m *Manager) Connections() []ConnectionInfo {
	m.mu.Lock()
	out := make([]ConnectionInfo, 0, len(m.conns))
	for _, c := range m.conns {
		out = append(out, c.infoLocked())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// ConnectionCount returns the number of live connections.
func (m *Manager) ConnectionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Close tears down every connection. Subscribers of open connections receive
// OnDisconnect; afterwards no callback fires and Subscribe fails.
func (m *Manager) Close() error {
	type closing struct {
		url     string
		binding transport.Binding
		subs    []*subscriber
		wasOpen bool
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	var all []closing
	for _, c := range m.conns {
		cl := closing{url: c.url, subs: c.liveLocked(), wasOpen: c.state == StateOpen}
		c.subs = nil
		cl.binding = m.teardownLocked(c)
		all = append(all, cl)
	}
	m.mu.Unlock()

	for _, cl := range all {
		if cl.binding != nil {
			if err := cl.binding.Close(); err != nil {
				m.logger.Warn("close binding", "url", cl.url, "error", err)
			}
		}
		for _, s := range cl.subs {
			if cl.wasOpen && s.live.Load() && s.cb.OnDisconnect != nil {
				s.cb.OnDisconnect()
			}
			s.live.Store(false)
		}
	}

	m.logger.Info("connection manager closed", "connections", len(all))
	return nil
}

func (c *connection) liveLocked() []*subscriber {
	out := make([]*subscriber, 0, len(c.subs))
	for _, s := range c.subs {
		if s.live.Load() {
			out = append(out, s)
		}
	}
	return out
}

func (c *connection) infoLocked() ConnectionInfo {
	ids := make([]string, len(c.subs))
	for i, s := range c.subs {
		ids[i] = s.id
	}
	info := ConnectionInfo{
		URL:         c.url,
		State:       c.state,
		Subscribers: ids,
		Retries:     c.retries,
		OpenedAt:    c.openedAt,
		Delivered:   c.delivered,
		Malformed:   c.malformed,
	}
	if c.lastErr != nil {
		info.LastError = errors.Message(c.lastErr)
	}
	return info
}

// decode accepts only JSON objects.
func (m *Manager) decode(url string, s transport.Signal) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s.Data), &fields); err != nil {
		return Message{}, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrMalformedPayload, err),
			"stream", "decode", "parse payload")
	}
	if fields == nil {
		return Message{}, errors.WrapInvalid(errors.ErrMalformedPayload, "stream", "decode", "parse payload")
	}
	return Message{
		URL:        url,
		Data:       json.RawMessage(s.Data),
		Fields:     fields,
		EventType:  s.EventType,
		ID:         s.ID,
		ReceivedAt: m.now(),
	}, nil
}

func (m *Manager) reportMalformed(url, data string, err error) {
	if m.metrics != nil {
		m.metrics.RecordMalformed(url)
	}
	if m.malformedLog.Allow() {
		m.logger.Warn("dropping malformed payload", "url", url, "bytes", len(data), "error", err)
	}
}

func (m *Manager) reportStateLocked(c *connection) {
	if m.metrics != nil {
		m.metrics.RecordConnectionState(c.url, int(c.state))
		m.metrics.RecordConnections(len(m.conns))
	}
	if m.health == nil {
		return
	}
	name := healthName(c.url)
	switch c.state {
	case StateOpen:
		m.health.UpdateHealthy(name, "open")
	case StateConnecting:
		m.health.UpdateDegraded(name, "connecting")
	case StateError:
		m.health.Update(name, health.FromError(name, c.lastErr, false))
	case StateClosed:
		m.health.Update(name, health.FromError(name, c.lastErr, true))
	}
}

func (m *Manager) recordSubscribersLocked(c *connection) {
	if m.metrics != nil {
		m.metrics.RecordSubscribers(c.url, len(c.subs))
		m.metrics.RecordConnections(len(m.conns))
	}
}

func healthName(url string) string {
	return "stream:" + url
}
