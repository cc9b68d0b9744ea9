package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/trafficstreams/errors"
	"github.com/c360/trafficstreams/metric"
	"github.com/c360/trafficstreams/pkg/cache"
)

// DefaultInterval is the refresh period when PollerConfig.Interval is zero.
const DefaultInterval = 30 * time.Second

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval time.Duration // refresh period
	MaxAge   time.Duration // baselines older than this are stale; default 3x Interval
	Logger   *slog.Logger
	Metrics  *metric.MetricsRegistry
	Clock    func() time.Time
}

// Listener receives every freshly fetched baseline.
type Listener func(Baseline)

// Poller periodically refreshes a set of sources and keeps the latest non-stale
// baseline of each.
type Poller struct {
	cfg     PollerConfig
	logger  *slog.Logger
	metrics *metric.Metrics
	latest  cache.Cache[Baseline]

	mu        sync.RWMutex
	sources   []Source
	listeners []Listener
}

// NewPoller creates a poller. The staleness cache lives until ctx ends or Close is called.
func NewPoller(ctx context.Context, cfg PollerConfig) (*Poller, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 3 * cfg.Interval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []cache.Option[Baseline]{cache.WithMetrics[Baseline](cfg.Metrics, "snapshot")}
	if cfg.Clock != nil {
		opts = append(opts, cache.WithClock[Baseline](cfg.Clock))
	}
	latest, err := cache.NewTTL[Baseline](ctx, cfg.MaxAge, cfg.MaxAge, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "snapshot", "NewPoller", "create baseline cache")
	}

	p := &Poller{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "snapshot"),
		latest: latest,
	}
	if cfg.Metrics != nil {
		p.metrics = cfg.Metrics.CoreMetrics()
	}
	return p, nil
}

// AddSource registers a source. Source names must be unique.
func (p *Poller) AddSource(src Source) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sources {
		if s.Name() == src.Name() {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "snapshot", "AddSource", "duplicate source "+src.Name())
		}
	}
	p.sources = append(p.sources, src)
	return nil
}

// OnBaseline registers a listener for fresh baselines.
func (p *Poller) OnBaseline(l Listener) {
	p.mu.Lock()
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()
}

// Refresh fetches every source concurrently. A failing source keeps its previous
// baseline until it goes stale; the first error is returned after all fetches finish.
func (p *Poller) Refresh(ctx context.Context) error {
	p.mu.RLock()
	sources := append([]Source(nil), p.sources...)
	p.mu.RUnlock()

	var g errgroup.Group
	for _, src := range sources {
		src := src
		g.Go(func() error {
			return p.refreshOne(ctx, src)
		})
	}
	return g.Wait()
}

func (p *Poller) refreshOne(ctx context.Context, src Source) error {
	start := time.Now()
	b, err := src.Fetch(ctx)
	if p.metrics != nil {
		p.metrics.RecordSnapshotFetch(src.Name(), err == nil, time.Since(start))
	}
	if err != nil {
		p.logger.Warn("snapshot fetch failed", "source", src.Name(), "error", err)
		return err
	}
	if b.Source == "" {
		b.Source = src.Name()
	}
	if _, err := p.latest.Set(src.Name(), b); err != nil {
		return errors.Wrap(err, "snapshot", "Refresh", "store baseline")
	}

	p.mu.RLock()
	listeners := append([]Listener(nil), p.listeners...)
	p.mu.RUnlock()
	for _, l := range listeners {
		l(b)
	}

	p.logger.Debug("snapshot refreshed", "source", src.Name(), "metrics", len(b.Metrics))
	return nil
}

// Run refreshes immediately and then every Interval until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	_ = p.Refresh(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = p.Refresh(ctx)
		}
	}
}

// Latest returns the most recent baseline of source unless it is stale.
func (p *Poller) Latest(source string) (Baseline, bool) {
	return p.latest.Get(source)
}

// Fresh reports whether source has a non-stale baseline and when it expires.
func (p *Poller) Fresh(source string) (time.Time, bool) {
	e, ok := p.latest.GetEntry(source)
	if !ok {
		return time.Time{}, false
	}
	return e.ExpiresAt, true
}

// Close stops the staleness cache.
func (p *Poller) Close() error {
	return p.latest.Close()
}
