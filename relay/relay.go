package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/c360/trafficstreams/errors"
	"github.com/c360/trafficstreams/event"
	"github.com/c360/trafficstreams/metric"
	"github.com/c360/trafficstreams/pkg/worker"
)

// DefaultPrefix is the subject prefix used when Config.Prefix is empty.
const DefaultPrefix = "traffic.events"

// Publisher is the publishing half of natsclient.Client.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Config selects what the relay republishes.
type Config struct {
	// Prefix of every subject; events land on "<prefix>.<kind>".
	Prefix string `json:"prefix" yaml:"prefix"`
	// Kinds limits the relayed kinds. Empty relays every routable kind.
	Kinds []event.Kind `json:"kinds,omitempty" yaml:"kinds,omitempty"`
	// Timeout bounds a single publish. Zero means no bound beyond the caller's context.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Envelope is the JSON document published for every event.
type Envelope struct {
	Kind       event.Kind      `json:"kind"`
	ID         string          `json:"id,omitempty"`
	Source     string          `json:"source"`
	ReceivedAt time.Time       `json:"received_at"`
	ObservedAt time.Time       `json:"observed_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Event reclassifies the envelope payload into a typed event.
func (e Envelope) Event() event.Event {
	ev := event.ClassifyJSON(e.Payload, e.ReceivedAt)
	if e.ID != "" {
		ev.ID = e.ID
	}
	return ev
}

// Decode parses a published envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.WrapInvalid(err, "Relay", "Decode", "unmarshal envelope")
	}
	if env.Kind == "" {
		return Envelope{}, errors.WrapInvalid(errors.ErrInvalidData, "Relay", "Decode", "check kind")
	}
	return env, nil
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics counts publishes per subject and outcome.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(r *Relay) {
		if registry != nil {
			r.registry = registry
			r.metrics = registry.CoreMetrics()
		}
	}
}

// WithWorkers moves publishing off the stream dispatch goroutine onto a pool of
// workers fed by a queue of queueSize events. Events arriving while the queue is full
// are dropped. The pool runs between Start and Close.
func WithWorkers(workers, queueSize int) Option {
	return func(r *Relay) {
		r.workers = workers
		r.queueSize = queueSize
		r.async = true
	}
}

// job is one event waiting for an async publish.
type job struct {
	source string
	ev     event.Event
}

// Relay republishes classified events to NATS.
type Relay struct {
	pub      Publisher
	prefix   string
	kinds    map[event.Kind]bool
	timeout  time.Duration
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics

	async     bool
	workers   int
	queueSize int
	pool      *worker.Pool[job]

	published atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	dropped   atomic.Int64
}

// New creates a relay publishing through pub.
func New(pub Publisher, cfg Config, opts ...Option) (*Relay, error) {
	if pub == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Relay", "New", "check publisher")
	}

	prefix := strings.Trim(cfg.Prefix, ".")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if strings.ContainsAny(prefix, " *>") {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Relay", "New", "check subject prefix "+prefix)
	}

	r := &Relay{
		pub:     pub,
		prefix:  prefix,
		timeout: cfg.Timeout,
		logger:  slog.Default(),
	}
	if len(cfg.Kinds) > 0 {
		r.kinds = make(map[event.Kind]bool, len(cfg.Kinds))
		for _, k := range cfg.Kinds {
			if !routable(k) {
				return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Relay", "New", "check kind "+string(k))
			}
			r.kinds[k] = true
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "relay", "prefix", prefix)

	if r.async {
		poolOpts := []worker.Option[job]{
			worker.WithErrorHandler(func(j job, err error) {
				r.logger.Warn("Relay publish failed", "source", j.source, "kind", j.ev.Kind, "error", err)
			}),
		}
		if r.registry != nil {
			poolOpts = append(poolOpts, worker.WithMetrics[job](r.registry, "relay"))
		}
		pool, err := worker.NewPool(r.workers, r.queueSize, func(ctx context.Context, j job) error {
			return r.Publish(ctx, j.source, j.ev)
		}, poolOpts...)
		if err != nil {
			return nil, errors.WrapFatal(err, "Relay", "New", "create worker pool")
		}
		r.pool = pool
	}
	return r, nil
}

// Start launches the publish workers of an async relay. It is a no-op otherwise.
func (r *Relay) Start(ctx context.Context) error {
	if r.pool == nil {
		return nil
	}
	if err := r.pool.Start(ctx); err != nil {
		return errors.WrapInvalid(err, "Relay", "Start", "start worker pool")
	}
	return nil
}

// Close waits up to timeout for queued events to be published.
func (r *Relay) Close(timeout time.Duration) error {
	if r.pool == nil {
		return nil
	}
	if err := r.pool.Stop(timeout); err != nil {
		return errors.WrapTransient(err, "Relay", "Close", "drain worker pool")
	}
	return nil
}

// routable reports whether events of kind k ever reach subscribers.
func routable(k event.Kind) bool {
	return k != event.KindHandshake && k != event.KindUnrecognized && k != ""
}

// Subject returns the subject events of kind k are published on.
func (r *Relay) Subject(k event.Kind) string {
	return r.prefix + "." + string(k)
}

// Accepts reports whether the relay forwards events of kind k.
func (r *Relay) Accepts(k event.Kind) bool {
	if !routable(k) {
		return false
	}
	return r.kinds == nil || r.kinds[k]
}

// Publish republishes ev, received on the stream source. Events the relay does not
// accept are skipped without error.
func (r *Relay) Publish(ctx context.Context, source string, ev event.Event) error {
	if !r.Accepts(ev.Kind) {
		r.skipped.Add(1)
		return nil
	}

	payload := ev.Raw
	if len(payload) == 0 {
		var err error
		if payload, err = json.Marshal(ev.Payload); err != nil {
			return errors.WrapInvalid(err, "Relay", "Publish", "marshal payload")
		}
	}
	data, err := json.Marshal(Envelope{
		Kind:       ev.Kind,
		ID:         ev.ID,
		Source:     source,
		ReceivedAt: ev.ReceivedAt,
		ObservedAt: ev.ObservedAt(),
		Payload:    payload,
	})
	if err != nil {
		return errors.WrapInvalid(err, "Relay", "Publish", "marshal envelope")
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	subject := r.Subject(ev.Kind)
	if err := r.pub.Publish(ctx, subject, data); err != nil {
		r.failed.Add(1)
		if r.metrics != nil {
			r.metrics.RecordPublished(subject, false)
		}
		return errors.WrapTransient(err, "Relay", "Publish", "publish to "+subject)
	}

	r.published.Add(1)
	if r.metrics != nil {
		r.metrics.RecordPublished(subject, true)
	}
	return nil
}

// Forward returns an event callback for a subscription on source. Publish failures
// are logged, never returned to the stream. An async relay queues the event instead
// of publishing inline.
func (r *Relay) Forward(ctx context.Context, source string) func(event.Event) {
	if r.pool != nil {
		return func(ev event.Event) {
			if !r.Accepts(ev.Kind) {
				r.skipped.Add(1)
				return
			}
			if err := r.pool.Submit(job{source: source, ev: ev}); err != nil {
				r.dropped.Add(1)
				r.logger.Debug("Relay queue rejected event", "source", source, "kind", ev.Kind, "error", err)
			}
		}
	}
	return func(ev event.Event) {
		if err := r.Publish(ctx, source, ev); err != nil {
			r.logger.Warn("Relay publish failed", "source", source, "kind", ev.Kind, "error", err)
		}
	}
}

// Stats holds relay counters.
type Stats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Dropped   int64 `json:"dropped"`
}

// Stats returns the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Failed:    r.failed.Load(),
		Skipped:   r.skipped.Load(),
		Dropped:   r.dropped.Load(),
	}
}
