package subscription

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/c360/trafficstreams/errors"
	"github.com/c360/trafficstreams/event"
	"github.com/c360/trafficstreams/metric"
	"github.com/c360/trafficstreams/pkg/buffer"
	"github.com/c360/trafficstreams/stream"
)

// DefaultMaxEvents is the event log capacity when Options.MaxEvents is zero.
const DefaultMaxEvents = 100

// Source is the part of the connection manager a subscription needs.
type Source interface {
	Subscribe(url, subscriberID string, cb stream.Callbacks, opts ...stream.SubscribeOption) (func(), error)
	Reconnect(url string) error
}

// Options configures a Subscription.
type Options struct {
	URL              string
	ID               string // generated when empty
	MaxEvents        int
	AutoConnect      bool
	AutoConnectDelay time.Duration
	RetryInterval    time.Duration

	OnConnect    func()
	OnDisconnect func()
	OnError      func(error)
	OnEvent      func(event.Event)

	Logger *slog.Logger

	// Metrics counts classified and unrecognized events. With MetricsPrefix set the
	// event log also exports buffer metrics under that component label.
	Metrics       *metric.MetricsRegistry
	MetricsPrefix string
}

// View is the consumer-facing state of a subscription.
type View struct {
	IsConnected     bool          `json:"is_connected"`
	Events          []event.Event `json:"events"`
	Error           string        `json:"error,omitempty"`
	ConnectionCount int           `json:"connection_count"`
}

// token is one registration with the source. Callbacks carry the token they were
// created for and do nothing once it is revoked.
type token struct {
	live atomic.Bool
	url  string
}

// Subscription is a per-consumer handle on a stream. It classifies every delivered
// message, keeps the most recent events in a bounded log and tracks connection state.
type Subscription struct {
	source  Source
	opts    Options
	logger  *slog.Logger
	metrics *metric.Metrics
	log     buffer.Buffer[event.Event]

	mu        sync.Mutex
	tok       *token
	dispose   func()
	connected bool
	lastErr   string
	opens     int
	closed    bool
	autoTimer *time.Timer
}

// New creates a subscription on source. With AutoConnect it connects immediately, or
// after AutoConnectDelay when one is set.
func New(source Source, opts Options) (*Subscription, error) {
	if source == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "subscription", "New", "validate source")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.MaxEvents <= 0 {
		opts.MaxEvents = DefaultMaxEvents
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bufOpts := []buffer.Option[event.Event]{buffer.WithOverflowPolicy[event.Event](buffer.DropOldest)}
	if opts.Metrics != nil && opts.MetricsPrefix != "" {
		bufOpts = append(bufOpts, buffer.WithMetrics[event.Event](opts.Metrics, opts.MetricsPrefix))
	}
	log, err := buffer.NewCircularBuffer[event.Event](opts.MaxEvents, bufOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "subscription", "New", "create event log")
	}

	s := &Subscription{
		source: source,
		opts:   opts,
		logger: logger.With("component", "subscription", "subscriber", opts.ID),
		log:    log,
	}
	if opts.Metrics != nil {
		s.metrics = opts.Metrics.CoreMetrics()
	}

	if opts.AutoConnect {
		if opts.AutoConnectDelay <= 0 {
			if err := s.Connect(); err != nil {
				return nil, err
			}
		} else {
			s.autoTimer = time.AfterFunc(opts.AutoConnectDelay, func() {
				if err := s.Connect(); err != nil {
					s.logger.Warn("auto connect failed", "url", s.URL(), "error", err)
				}
			})
		}
	}
	return s, nil
}

// ID returns the subscriber id registered with the source.
func (s *Subscription) ID() string {
	return s.opts.ID
}

// URL returns the configured stream URL.
func (s *Subscription) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts.URL
}

// Connect subscribes to the configured URL.
func (s *Subscription) Connect() error {
	return s.ConnectTo(s.URL())
}

// ConnectTo subscribes to url. Calling it again for the current URL is a no-op while
// connected and asks the source to reconnect otherwise. A different URL replaces the
// current registration.
func (s *Subscription) ConnectTo(url string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "subscription", "Connect", "check state")
	}
	if s.tok != nil && s.tok.url == url {
		connected := s.connected
		s.mu.Unlock()
		if connected {
			return nil
		}
		return s.source.Reconnect(url)
	}

	tok := &token{url: url}
	tok.live.Store(true)
	prevTok, prevDispose := s.tok, s.dispose
	s.tok, s.dispose = tok, nil
	s.connected = false
	s.opts.URL = url
	s.mu.Unlock()

	if prevTok != nil {
		prevTok.live.Store(false)
	}
	if prevDispose != nil {
		prevDispose()
	}

	var subOpts []stream.SubscribeOption
	if s.opts.RetryInterval > 0 {
		subOpts = append(subOpts, stream.WithRetryInterval(s.opts.RetryInterval))
	}
	dispose, err := s.source.Subscribe(url, s.opts.ID, s.callbacks(tok), subOpts...)
	if err != nil {
		tok.live.Store(false)
		s.mu.Lock()
		if s.tok == tok {
			s.tok = nil
			s.lastErr = errors.Message(err)
		}
		s.mu.Unlock()
		return errors.Wrap(err, "subscription", "Connect", "subscribe")
	}

	s.mu.Lock()
	if s.tok != tok {
		// Superseded by a concurrent Connect or Disconnect.
		s.mu.Unlock()
		dispose()
		return nil
	}
	s.dispose = dispose
	s.mu.Unlock()

	s.logger.Debug("subscription connected", "url", url)
	return nil
}

// Disconnect drops the registration. The event log is kept. No callback runs after
// Disconnect returns.
func (s *Subscription) Disconnect() {
	s.mu.Lock()
	tok, dispose := s.tok, s.dispose
	s.tok, s.dispose = nil, nil
	s.connected = false
	if s.autoTimer != nil {
		s.autoTimer.Stop()
		s.autoTimer = nil
	}
	s.mu.Unlock()

	if tok != nil {
		tok.live.Store(false)
	}
	if dispose != nil {
		dispose()
	}
}

// Close disconnects for good. Later Connect calls fail.
func (s *Subscription) Close() error {
	s.Disconnect()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.log.Close()
}

// ClearEvents empties the event log.
func (s *Subscription) ClearEvents() {
	s.log.Clear()
}

// ClearError forgets the last error message.
func (s *Subscription) ClearError() {
	s.mu.Lock()
	s.lastErr = ""
	s.mu.Unlock()
}

// State returns the current view. Events are oldest first.
func (s *Subscription) State() View {
	s.mu.Lock()
	v := View{
		IsConnected:     s.connected,
		Error:           s.lastErr,
		ConnectionCount: s.opens,
	}
	s.mu.Unlock()
	v.Events = s.log.Items()
	return v
}

// LogStats exposes the event log statistics.
func (s *Subscription) LogStats() *buffer.Statistics {
	return s.log.Stats()
}

func (s *Subscription) callbacks(tok *token) stream.Callbacks {
	return stream.Callbacks{
		OnConnect: func() {
			if !s.update(tok, func() {
				s.connected = true
				s.opens++
				s.lastErr = ""
			}) {
				return
			}
			if s.opts.OnConnect != nil {
				s.opts.OnConnect()
			}
		},
		OnDisconnect: func() {
			if !s.update(tok, func() { s.connected = false }) {
				return
			}
			if s.opts.OnDisconnect != nil {
				s.opts.OnDisconnect()
			}
		},
		OnError: func(err error) {
			if !s.update(tok, func() {
				s.connected = false
				s.lastErr = errors.Message(err)
			}) {
				return
			}
			if s.opts.OnError != nil {
				s.opts.OnError(err)
			}
		},
		OnEvent: func(msg stream.Message) {
			if !tok.live.Load() {
				return
			}
			s.handleMessage(tok, msg)
		},
	}
}

// update applies fn under the lock if tok is still live.
func (s *Subscription) update(tok *token, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !tok.live.Load() || s.tok != tok {
		return false
	}
	fn()
	return true
}

func (s *Subscription) handleMessage(tok *token, msg stream.Message) {
	ev := event.Classify(msg)

	switch ev.Kind {
	case event.KindHandshake:
		s.logger.Debug("discarding handshake", "url", msg.URL)
		return
	case event.KindUnrecognized:
		if s.metrics != nil {
			s.metrics.RecordUnrecognized(msg.URL)
		}
		s.logger.Debug("discarding unrecognized payload", "url", msg.URL, "bytes", len(msg.Data))
		return
	}

	// A message already in flight when the token was revoked is dropped whole.
	if !tok.live.Load() {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordClassified(string(ev.Kind))
	}
	if err := s.log.Write(ev); err != nil {
		return
	}
	if tok.live.Load() && s.opts.OnEvent != nil {
		s.opts.OnEvent(ev)
	}
}
