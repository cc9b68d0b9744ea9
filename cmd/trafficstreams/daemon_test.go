package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trafficstreams/aggregate"
	"github.com/c360/trafficstreams/config"
	"github.com/c360/trafficstreams/event"
	"github.com/c360/trafficstreams/natsclient"
	"github.com/c360/trafficstreams/relay"
	"github.com/c360/trafficstreams/testutil"
	"github.com/c360/trafficstreams/transport"
)

const (
	trafficPath  = "/api/traffic/stream"
	vehiclesPath = "/api/vehicles/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Metrics.Port = 0
	cfg.Subscriptions = []config.SubscriptionConfig{
		{Name: "traffic", Path: trafficPath, Aggregate: config.AggregateTrafficByDirection, Relay: true},
		{Name: "vehicles", Path: vehiclesPath, Aggregate: config.AggregateVehicleSpeedBySensor},
	}
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config, ov *overrides) *daemon {
	t.Helper()
	d, err := newDaemon(context.Background(), cfg, testLogger(), ov)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

func getDashboard(t *testing.T, d *daemon) dashboardState {
	t.Helper()
	rec := httptest.NewRecorder()
	d.handleDashboard(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var out dashboardState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestDaemon_StreamsIntoDashboard(t *testing.T) {
	mt := testutil.NewMockTransport()
	d := newTestDaemon(t, testConfig(), &overrides{dialer: mt})

	b := mt.WaitDial(t, trafficPath, 1, time.Second)
	b.Open()
	b.Message(testutil.HandshakePayload)
	b.Message(testutil.TrafficWithDensity("north", 85))

	require.Eventually(t, func() bool {
		return len(d.views[0].agg.Window().Entries()) == 1
	}, time.Second, 10*time.Millisecond)

	state := getDashboard(t, d)
	require.Len(t, state.Views, 2)

	traffic := state.Views[0]
	assert.Equal(t, "traffic", traffic.Name)
	assert.Equal(t, trafficPath, traffic.Path)
	assert.True(t, traffic.State.IsConnected)
	require.Len(t, traffic.State.Events, 1, "handshake is not delivered")
	require.Len(t, traffic.Entries, 1)
	assert.Equal(t, "north", traffic.Entries[0].Key)
	assert.Equal(t, aggregate.LevelCritical, traffic.Entries[0].Congestion)

	assert.Empty(t, state.Views[1].Entries)
	assert.Len(t, state.Connections, 2)
	assert.Nil(t, state.Relay, "relay disabled by default")
	assert.Nil(t, state.NATS, "no NATS client without the relay")
	require.NotNil(t, state.Feed, "feed enabled by default")

	density, ok := d.totals.Value(aggregate.MetricAvgDensity)
	require.True(t, ok)
	assert.Equal(t, 85.0, density)
}

func TestDaemon_VehicleSpeedView(t *testing.T) {
	mt := testutil.NewMockTransport()
	d := newTestDaemon(t, testConfig(), &overrides{dialer: mt})

	b := mt.WaitDial(t, vehiclesPath, 1, time.Second)
	b.Open()
	b.Message(testutil.VehiclePayload)

	require.Eventually(t, func() bool {
		e, ok := d.views[1].agg.Window().Get("s-north-1")
		return ok && e.Value == 42
	}, time.Second, 10*time.Millisecond)
}

func TestDaemon_RelaysSelectedSubscriptions(t *testing.T) {
	mt := testutil.NewMockTransport()
	nc := testutil.NewMockNATSClient()

	cfg := testConfig()
	cfg.Relay.Enabled = true
	d := newTestDaemon(t, cfg, &overrides{dialer: mt, publisher: nc})

	traffic := mt.WaitDial(t, trafficPath, 1, time.Second)
	traffic.Open()
	traffic.Message(testutil.TrafficPayload)

	data := testutil.WaitForMessage(t, nc, "traffic.events.traffic", time.Second)
	env, err := relay.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, trafficPath, env.Source)
	assert.JSONEq(t, testutil.TrafficPayload, string(env.Payload))

	vehicles := mt.WaitDial(t, vehiclesPath, 1, time.Second)
	vehicles.Open()
	vehicles.Message(testutil.VehiclePayload)
	require.Eventually(t, func() bool {
		return len(d.views[1].sub.State().Events) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Zero(t, nc.GetMessageCount("traffic.events.vehicle"), "vehicles subscription is not relayed")

	state := getDashboard(t, d)
	require.NotNil(t, state.Relay)
	assert.Equal(t, int64(1), state.Relay.Published)
	assert.True(t, state.Views[0].Relayed)
	assert.False(t, state.Views[1].Relayed)
}

func TestDaemon_DashboardReportsNATSStatus(t *testing.T) {
	cfg := testConfig()
	cfg.Relay.Enabled = true
	d := newTestDaemon(t, cfg, &overrides{dialer: testutil.NewMockTransport()})
	require.NotNil(t, d.nats)

	rec := httptest.NewRecorder()
	d.handleDashboard(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	require.Contains(t, raw, "nats")

	state := getDashboard(t, d)
	require.NotNil(t, state.NATS)
	assert.Equal(t, natsclient.StatusDisconnected, state.NATS.Status)
	assert.Zero(t, state.NATS.RTT, "no RTT before the first connect")
	assert.Zero(t, d.relay.Stats().Published)
}

func TestDaemon_SnapshotBaselineFeedsTotals(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, testutil.BaselineJSON)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Snapshot.Sources = []config.SnapshotSource{{Name: "dashboard", URL: srv.URL}}
	cfg.Snapshot.Interval = config.Duration(time.Hour)

	mt := testutil.NewMockTransport()
	d := newTestDaemon(t, cfg, &overrides{dialer: mt})
	require.NotNil(t, d.poller)
	require.NoError(t, d.poller.Refresh(context.Background()))

	vehicles, ok := d.totals.Value(aggregate.MetricVehicles)
	require.True(t, ok)
	assert.Equal(t, 1200.0, vehicles)

	b := mt.WaitDial(t, vehiclesPath, 1, time.Second)
	b.Open()
	b.Message(testutil.VehiclePayload)
	require.Eventually(t, func() bool {
		return len(d.views[1].sub.State().Events) == 1
	}, time.Second, 10*time.Millisecond)

	// Only the traffic view contributes to the dashboard totals.
	vehicles, _ = d.totals.Value(aggregate.MetricVehicles)
	assert.Equal(t, 1200.0, vehicles)
}

func TestDaemon_ConfigEndpointRedacts(t *testing.T) {
	cfg := testConfig()
	cfg.NATS.Password = "hunter2"

	d := newTestDaemon(t, cfg, &overrides{dialer: testutil.NewMockTransport()})

	rec := httptest.NewRecorder()
	d.handleConfig(rec, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Contains(t, rec.Body.String(), "****")

	rec = httptest.NewRecorder()
	d.handleConfig(rec, httptest.NewRequest(http.MethodPost, "/api/config", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDaemon_InvalidAggregatorThresholds(t *testing.T) {
	cfg := testConfig()
	cfg.Aggregate.Thresholds.Medium = 90

	_, err := newDaemon(context.Background(), cfg, testLogger(), &overrides{dialer: testutil.NewMockTransport()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "traffic")
}

func TestDaemon_RunStopsOnCancel(t *testing.T) {
	d := newTestDaemon(t, testConfig(), &overrides{dialer: testutil.NewMockTransport()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// gate releases WaitForConnection once opened.
type gate struct{ open chan struct{} }

func (g *gate) WaitForConnection(ctx context.Context) error {
	select {
	case <-g.open:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newGatedRelayDaemon(t *testing.T, nc *testutil.MockNATSClient) *daemon {
	t.Helper()
	r, err := relay.New(nc, relay.Config{Prefix: "traffic.events"}, relay.WithWorkers(1, 8))
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close(time.Second) })
	return &daemon{logger: testLogger(), relay: r}
}

func TestDaemon_RelayStartsAfterConnection(t *testing.T) {
	nc := testutil.NewMockNATSClient()
	d := newGatedRelayDaemon(t, nc)
	forward := d.relay.Forward(context.Background(), trafficPath)

	ev := event.ClassifyJSON([]byte(testutil.TrafficPayload), time.Now())

	g := &gate{open: make(chan struct{})}
	started := make(chan error, 1)
	go func() { started <- d.startRelay(context.Background(), g) }()

	forward(ev)
	assert.Equal(t, int64(1), d.relay.Stats().Dropped, "events before the connection are dropped")
	assert.Zero(t, nc.GetMessageCount("traffic.events.traffic"))

	close(g.open)
	select {
	case err := <-started:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not start after the connection opened")
	}

	forward(ev)
	testutil.WaitForMessage(t, nc, "traffic.events.traffic", time.Second)
	assert.Equal(t, int64(1), d.relay.Stats().Dropped)
}

func TestDaemon_RelayStartAbandonedOnCancel(t *testing.T) {
	nc := testutil.NewMockNATSClient()
	d := newGatedRelayDaemon(t, nc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.startRelay(ctx, &gate{open: make(chan struct{})}))

	ev := event.ClassifyJSON([]byte(testutil.TrafficPayload), time.Now())
	d.relay.Forward(context.Background(), trafficPath)(ev)
	assert.Equal(t, int64(1), d.relay.Stats().Dropped, "relay never started")
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://host/api/x", websocketURL("http://host/api/x"))
	assert.Equal(t, "wss://host/api/x", websocketURL("https://host/api/x"))
	assert.Equal(t, "ws://host/api/x", websocketURL("ws://host/api/x"))
}

func TestDaemon_LiveFeed(t *testing.T) {
	mt := testutil.NewMockTransport()
	d := newTestDaemon(t, testConfig(), &overrides{dialer: mt})
	require.NotNil(t, d.hub)

	srv := httptest.NewServer(d.hub)
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/?kinds=traffic", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return d.hub.Stats().Clients == 1 }, time.Second, 5*time.Millisecond)

	b := mt.WaitDial(t, trafficPath, 1, time.Second)
	b.Open()
	b.Message(testutil.HandshakePayload)
	b.Message(testutil.TrafficPayload)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := relay.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, event.KindTraffic, env.Kind)
	assert.Equal(t, trafficPath, env.Source)

	state := getDashboard(t, d)
	require.NotNil(t, state.Feed)
	assert.Equal(t, 1, state.Feed.Clients)
	assert.Equal(t, int64(1), state.Feed.Delivered)
}

func TestDaemon_FeedDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Feed.Enabled = false
	d := newTestDaemon(t, cfg, &overrides{dialer: testutil.NewMockTransport()})
	assert.Nil(t, d.hub)
	assert.Nil(t, getDashboard(t, d).Feed)
}

func TestNewDialer_Modes(t *testing.T) {
	for _, tt := range []struct {
		mode   string
		sse    bool
		withWS bool
	}{
		{config.TransportSSE, true, false},
		{config.TransportAuto, true, true},
	} {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := config.Defaults().Stream
			cfg.Transport = tt.mode
			auto, ok := newDialer(cfg, nil, testLogger()).(*transport.AutoDialer)
			require.True(t, ok)
			assert.Equal(t, cfg.BaseURL, auto.BaseURL)
			assert.Equal(t, tt.sse, auto.SSE != nil)
			assert.Equal(t, tt.withWS, auto.WebSocket != nil)
		})
	}

	cfg := config.Defaults().Stream
	cfg.Transport = config.TransportWebSocket
	auto, ok := newDialer(cfg, nil, testLogger()).(*transport.AutoDialer)
	require.True(t, ok)
	assert.NotNil(t, auto.SSE, "websocket mode routes every path to the WebSocket dialer")
	assert.NotNil(t, auto.WebSocket)
}
