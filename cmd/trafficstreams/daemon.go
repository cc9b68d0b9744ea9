package main

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/trafficstreams/aggregate"
	"github.com/c360/trafficstreams/config"
	"github.com/c360/trafficstreams/event"
	"github.com/c360/trafficstreams/feed"
	"github.com/c360/trafficstreams/health"
	"github.com/c360/trafficstreams/metric"
	"github.com/c360/trafficstreams/natsclient"
	"github.com/c360/trafficstreams/pkg/retry"
	"github.com/c360/trafficstreams/pkg/tlsutil"
	"github.com/c360/trafficstreams/relay"
	"github.com/c360/trafficstreams/snapshot"
	"github.com/c360/trafficstreams/stream"
	"github.com/c360/trafficstreams/subscription"
	"github.com/c360/trafficstreams/transport"
)

// overrides replaces the network edges of the daemon in tests.
type overrides struct {
	dialer    transport.Dialer
	publisher relay.Publisher
}

// view is one configured subscription and the aggregator fed by it.
type view struct {
	name      string
	path      string
	aggregate string
	sub       *subscription.Subscription
	agg       *aggregate.Aggregator
	relayed   bool
}

// daemon owns every long-lived component of the process.
type daemon struct {
	cfg      *config.Config
	safeCfg  *config.SafeConfig
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor

	manager *stream.Manager
	poller  *snapshot.Poller
	totals  *aggregate.Totals
	views   []*view

	tls   *tls.Config
	hub   *feed.Hub
	nats  *natsclient.Client
	relay *relay.Relay

	server *metric.Server
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger, ov *overrides) (*daemon, error) {
	if ov == nil {
		ov = &overrides{}
	}

	tlsConfig, err := tlsutil.LoadClientConfig(cfg.Stream.TLS)
	if err != nil {
		return nil, fmt.Errorf("stream TLS: %w", err)
	}

	d := &daemon{
		cfg:      cfg,
		safeCfg:  config.NewSafeConfig(cfg),
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
		totals:   aggregate.NewTotals(aggregate.DashboardSchema()),
		tls:      tlsConfig,
	}

	dialer := ov.dialer
	if dialer == nil {
		dialer = newDialer(cfg.Stream, tlsConfig, logger)
	}
	d.manager = stream.NewManager(dialer,
		stream.WithLogger(logger),
		stream.WithDefaultRetryInterval(cfg.Stream.RetryInterval.Std()),
		stream.WithMaxRetries(cfg.Stream.MaxRetries),
		stream.WithQueueSize(cfg.Stream.QueueSize),
		stream.WithServerRetryHint(cfg.Stream.HonorServerRetry),
		stream.WithMetrics(d.registry),
		stream.WithHealthMonitor(d.monitor),
	)

	if cfg.Feed.Enabled {
		d.hub = feed.NewHub(
			feed.WithLogger(logger),
			feed.WithMetrics(d.registry),
			feed.WithSendBuffer(cfg.Feed.SendBuffer),
		)
	}

	if err := d.setupSnapshots(ctx); err != nil {
		d.abort()
		return nil, err
	}
	if err := d.setupRelay(ctx, ov.publisher); err != nil {
		d.abort()
		return nil, err
	}
	if err := d.setupViews(ctx); err != nil {
		d.abort()
		return nil, err
	}

	if cfg.Metrics.Port > 0 {
		serverOpts := []metric.ServerOption{
			metric.WithHandler("/health", health.Handler(d.monitor, appName)),
			metric.WithHandler("/api/dashboard", http.HandlerFunc(d.handleDashboard)),
			metric.WithHandler("/api/config", http.HandlerFunc(d.handleConfig)),
		}
		if d.hub != nil {
			serverOpts = append(serverOpts, metric.WithHandler(cfg.Feed.Path, d.hub))
		}
		d.server = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, d.registry, serverOpts...)
	}
	return d, nil
}

// newDialer picks the stream transport named by the configuration.
func newDialer(cfg config.StreamConfig, tlsConfig *tls.Config, logger *slog.Logger) transport.Dialer {
	sse := transport.NewSSEDialer(logger)
	sse.Client.Transport = tlsutil.HTTPTransport(tlsConfig)
	ws := transport.NewWebSocketDialer(logger)
	ws.Dialer.TLSClientConfig = tlsConfig

	switch cfg.Transport {
	case config.TransportSSE:
		return &transport.AutoDialer{BaseURL: cfg.BaseURL, SSE: sse}
	case config.TransportWebSocket:
		wsOnly := transport.DialerFunc(func(target string, emit transport.EmitFunc) transport.Binding {
			return ws.Dial(websocketURL(target), emit)
		})
		return &transport.AutoDialer{BaseURL: cfg.BaseURL, SSE: wsOnly, WebSocket: wsOnly}
	default:
		return &transport.AutoDialer{BaseURL: cfg.BaseURL, SSE: sse, WebSocket: ws}
	}
}

func websocketURL(target string) string {
	switch {
	case strings.HasPrefix(target, "https://"):
		return "wss://" + strings.TrimPrefix(target, "https://")
	case strings.HasPrefix(target, "http://"):
		return "ws://" + strings.TrimPrefix(target, "http://")
	default:
		return target
	}
}

func (d *daemon) setupSnapshots(ctx context.Context) error {
	sc := d.cfg.Snapshot
	if len(sc.Sources) == 0 {
		return nil
	}

	poller, err := snapshot.NewPoller(ctx, snapshot.PollerConfig{
		Interval: sc.Interval.Std(),
		MaxAge:   sc.MaxAge.Std(),
		Logger:   d.logger,
		Metrics:  d.registry,
	})
	if err != nil {
		return fmt.Errorf("create snapshot poller: %w", err)
	}
	d.poller = poller

	client := &http.Client{Timeout: sc.Timeout.Std(), Transport: tlsutil.HTTPTransport(d.tls)}
	for _, s := range sc.Sources {
		src, err := snapshot.NewHTTPSource(s.Name, s.URL, snapshot.WithHTTPClient(client))
		if err != nil {
			return fmt.Errorf("snapshot source %s: %w", s.Name, err)
		}
		if err := poller.AddSource(src); err != nil {
			return err
		}
	}

	poller.OnBaseline(func(b snapshot.Baseline) {
		n := d.totals.ApplySnapshot(b.Metrics, b.FetchedAt)
		d.logger.Debug("Baseline merged", "source", b.Source, "metrics", n)
	})
	return nil
}

func (d *daemon) setupRelay(ctx context.Context, pub relay.Publisher) error {
	rc := d.cfg.Relay
	if !rc.Enabled {
		return nil
	}

	if pub == nil {
		nc := d.cfg.NATS
		opts := []natsclient.ClientOption{
			natsclient.WithLogger(d.logger),
			natsclient.WithMetrics(d.registry),
			natsclient.WithName(appName),
			natsclient.WithMaxReconnects(nc.MaxReconnects),
			natsclient.WithReconnectWait(nc.ReconnectWait.Std()),
			natsclient.WithHealthChangeCallback(func(healthy bool) {
				if healthy {
					d.monitor.UpdateHealthy("nats", "connected")
				} else {
					d.monitor.UpdateDegraded("nats", "connection lost")
				}
			}),
		}
		if nc.Username != "" {
			opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
		}
		if nc.Token != "" {
			opts = append(opts, natsclient.WithToken(nc.Token))
		}
		if nc.TLS.Enabled {
			opts = append(opts, natsclient.WithTLS(nc.TLS.CertFile, nc.TLS.KeyFile, nc.TLS.CAFile))
		}

		client, err := natsclient.NewClient(strings.Join(nc.URLs, ","), opts...)
		if err != nil {
			return fmt.Errorf("create NATS client: %w", err)
		}
		d.nats = client
		d.monitor.UpdateDegraded("nats", "connecting")
		pub = client
	}

	kinds := make([]event.Kind, 0, len(rc.Kinds))
	for _, k := range rc.Kinds {
		kinds = append(kinds, event.Kind(k))
	}
	relayOpts := []relay.Option{relay.WithLogger(d.logger), relay.WithMetrics(d.registry)}
	if rc.Workers > 0 {
		relayOpts = append(relayOpts, relay.WithWorkers(rc.Workers, rc.QueueSize))
	}
	r, err := relay.New(pub, relay.Config{Prefix: rc.Prefix, Kinds: kinds, Timeout: rc.Timeout.Std()}, relayOpts...)
	if err != nil {
		return fmt.Errorf("create relay: %w", err)
	}
	d.relay = r
	if d.nats != nil {
		// Run starts the workers once the connection is up.
		return nil
	}
	return d.startRelay(ctx, nil)
}

// connectionWaiter blocks until its connection is usable.
type connectionWaiter interface {
	WaitForConnection(ctx context.Context) error
}

// startRelay starts the relay workers, first waiting on w when it is set. Until then
// the relay drops queued events and counts them. Workers outlive the run context so
// Close can drain the queue.
func (d *daemon) startRelay(ctx context.Context, w connectionWaiter) error {
	if w != nil {
		if err := w.WaitForConnection(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for NATS: %w", err)
		}
	}
	if err := d.relay.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}
	d.logger.Info("Relay started")
	return nil
}

func (d *daemon) setupViews(ctx context.Context) error {
	windowOpts := []aggregate.WindowOption{
		aggregate.WithCapacity(d.cfg.Aggregate.WindowSize),
		aggregate.WithThresholds(aggregate.Thresholds{
			Medium:   d.cfg.Aggregate.Thresholds.Medium,
			High:     d.cfg.Aggregate.Thresholds.High,
			Critical: d.cfg.Aggregate.Thresholds.Critical,
		}),
	}

	for _, sc := range d.cfg.Subscriptions {
		v := &view{name: sc.Name, path: sc.Path, aggregate: sc.Aggregate}

		var err error
		switch sc.Aggregate {
		case config.AggregateTrafficByDirection:
			v.agg, err = aggregate.TrafficByDirection(d.totals, windowOpts...)
		case config.AggregateVehicleSpeedBySensor:
			v.agg, err = aggregate.VehicleSpeedBySensor(windowOpts...)
		}
		if err != nil {
			return fmt.Errorf("subscription %s: %w", sc.Name, err)
		}

		var forward func(event.Event)
		if sc.Relay && d.relay != nil {
			forward = d.relay.Forward(ctx, sc.Path)
			v.relayed = true
		}
		var broadcast func(event.Event)
		if d.hub != nil {
			broadcast = d.hub.Forward(sc.Path)
		}
		agg := v.agg

		v.sub, err = subscription.New(d.manager, subscription.Options{
			URL:              sc.Path,
			ID:               sc.Name,
			MaxEvents:        sc.MaxEvents,
			AutoConnect:      true,
			AutoConnectDelay: sc.AutoConnectDelay.Std(),
			RetryInterval:    sc.RetryInterval.Std(),
			Logger:           d.logger,
			Metrics:          d.registry,
			MetricsPrefix:    "log_" + sc.Name,
			OnEvent: func(ev event.Event) {
				if agg != nil {
					agg.Fold(ev, nil)
				}
				if forward != nil {
					forward(ev)
				}
				if broadcast != nil {
					broadcast(ev)
				}
			},
		})
		if err != nil {
			return fmt.Errorf("subscription %s: %w", sc.Name, err)
		}
		d.views = append(d.views, v)
	}
	return nil
}

// Run serves until ctx ends or a component fails.
func (d *daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if d.server != nil {
		g.Go(d.server.Start)
		g.Go(func() error {
			<-gctx.Done()
			return d.server.Stop()
		})
		d.logger.Info("Serving metrics and dashboard", "address", d.server.Address())
	}
	if d.poller != nil {
		g.Go(func() error { return d.poller.Run(gctx) })
	}
	if d.nats != nil {
		g.Go(func() error {
			d.connectNATS(gctx)
			return nil
		})
		if d.relay != nil {
			g.Go(func() error { return d.startRelay(gctx, d.nats) })
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	return g.Wait()
}

// connectNATS keeps trying until connected or ctx ends. The relay counts publish
// failures in the meantime.
func (d *daemon) connectNATS(ctx context.Context) {
	policy := retry.Config{
		MaxAttempts:  1000,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		AddJitter:    true,
	}
	err := retry.Do(ctx, policy, func() error {
		connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return d.nats.Connect(connCtx)
	})
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("Giving up on NATS, relay disabled", "error", err)
			d.monitor.UpdateUnhealthy("nats", "connect failed")
		}
		return
	}
	msg := "connected"
	if rtt, err := d.nats.RTT(); err == nil {
		msg = fmt.Sprintf("connected, rtt %s", rtt)
	}
	d.monitor.UpdateHealthy("nats", msg)
}

// Close tears every component down in reverse order of construction.
func (d *daemon) Close(ctx context.Context) error {
	var errs []error
	for _, v := range d.views {
		if err := v.sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscription %s: %w", v.name, err))
		}
	}
	if err := d.manager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream manager: %w", err))
	}
	if d.poller != nil {
		if err := d.poller.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close snapshot poller: %w", err))
		}
	}
	if d.hub != nil {
		if err := d.hub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close feed: %w", err))
		}
	}
	if d.relay != nil {
		if err := d.relay.Close(remaining(ctx, 5*time.Second)); err != nil {
			errs = append(errs, fmt.Errorf("drain relay: %w", err))
		}
	}
	if d.nats != nil {
		if err := d.nats.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close NATS client: %w", err))
		}
	}
	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// abort releases whatever newDaemon built before failing.
func (d *daemon) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = d.Close(ctx)
}

// remaining returns the time left before ctx's deadline, or fallback without one.
func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			return left
		}
		return 0
	}
	return fallback
}
