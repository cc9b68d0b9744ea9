package feed

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trafficstreams/event"
	"github.com/c360/trafficstreams/metric"
	"github.com/c360/trafficstreams/relay"
	"github.com/c360/trafficstreams/testutil"
)

const source = "/api/traffic/stream"

var t0 = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

func classify(payload string) event.Event {
	return event.ClassifyJSON([]byte(payload), t0)
}

func startHub(t *testing.T, opts ...Option) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(opts...)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		_ = hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Stats().Clients == n }, time.Second, 5*time.Millisecond)
}

func readEnvelope(t *testing.T, conn *websocket.Conn) relay.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := relay.Decode(data)
	require.NoError(t, err)
	return env
}

func TestHub_BroadcastsEnvelopes(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	hub.Broadcast(source, classify(testutil.HandshakePayload))
	hub.Broadcast(source, classify(testutil.TrafficPayload))

	env := readEnvelope(t, conn)
	assert.Equal(t, event.KindTraffic, env.Kind, "handshake is not broadcast")
	assert.Equal(t, source, env.Source)
	assert.True(t, t0.Equal(env.ReceivedAt))
	assert.True(t, time.Date(2026, 10, 18, 8, 0, 2, 0, time.UTC).Equal(env.ObservedAt))
	assert.JSONEq(t, testutil.TrafficPayload, string(env.Payload))

	assert.Equal(t, int64(1), hub.Stats().Delivered)
}

func TestHub_Filters(t *testing.T) {
	hub, srv := startHub(t)
	alerts := dial(t, srv, "?kinds=alert")
	other := dial(t, srv, "?source=/api/other/stream")
	all := dial(t, srv, "?kinds=traffic,%20alert&source="+source)
	waitClients(t, hub, 3)

	hub.Broadcast(source, classify(testutil.TrafficPayload))
	hub.Broadcast(source, classify(testutil.AlertPayload))
	hub.Broadcast("/api/other/stream", classify(testutil.VehiclePayload))

	assert.Equal(t, event.KindAlert, readEnvelope(t, alerts).Kind)
	assert.Equal(t, event.KindVehicle, readEnvelope(t, other).Kind)
	assert.Equal(t, event.KindTraffic, readEnvelope(t, all).Kind)
	assert.Equal(t, event.KindAlert, readEnvelope(t, all).Kind)
}

func TestHub_SlowClientDrops(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	hub, srv := startHub(t, WithSendBuffer(1), WithMetrics(registry))
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	// The client never reads; once the socket buffers fill the writer blocks and the
	// send buffer overflows.
	payload := classify(testutil.TrafficPayload)
	require.Eventually(t, func() bool {
		for i := 0; i < 100; i++ {
			hub.Broadcast(source, payload)
		}
		return hub.Stats().Dropped > 0
	}, 5*time.Second, time.Millisecond)

	assert.Greater(t, promtest.ToFloat64(hub.metrics.dropped), 0.0)
	assert.Equal(t, 1.0, promtest.ToFloat64(hub.metrics.clients))
	_ = conn
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitClients(t, hub, 0)

	// Broadcasting with no clients is a no-op.
	hub.Broadcast(source, classify(testutil.TrafficPayload))
	assert.Zero(t, hub.Stats().Delivered)
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	require.NoError(t, hub.Close())
	assert.Zero(t, hub.Stats().Clients)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	// New clients are turned away.
	late := dial(t, srv, "")
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	assert.NoError(t, hub.Close(), "close is idempotent")
}

func TestHub_Forward(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	waitClients(t, hub, 1)

	hub.Forward(source)(classify(testutil.IntersectionPayload))
	assert.Equal(t, event.KindIntersection, readEnvelope(t, conn).Kind)
}
