package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trafficstreams/event"
	"github.com/c360/trafficstreams/snapshot"
	"github.com/c360/trafficstreams/testutil"
)

var t0 = time.Date(2026, 10, 18, 8, 0, 0, 0, time.UTC)

func TestComputeTrend(t *testing.T) {
	tests := []struct {
		name   string
		prior  []float64
		sample float64
		want   Trend
	}{
		{"first sample", nil, 50, Trend{Direction: TrendStable}},
		{"within five percent", []float64{100}, 105, Trend{Direction: TrendStable}},
		{"just above five percent", []float64{100}, 105.1, Trend{Direction: TrendUp, Magnitude: 5}},
		{"up", []float64{40, 60}, 60, Trend{Direction: TrendUp, Magnitude: 20}},
		{"down", []float64{100, 100, 100}, 75, Trend{Direction: TrendDown, Magnitude: 25}},
		{"rounded magnitude", []float64{30}, 40, Trend{Direction: TrendUp, Magnitude: 33}},
		{"zero mean rising", []float64{0, 0}, 10, Trend{Direction: TrendUp, Magnitude: 100}},
		{"zero mean flat", []float64{0}, 0, Trend{Direction: TrendStable}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeTrend(tt.prior, tt.sample))
		})
	}
}

func TestThresholds_Level(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		value float64
		want  Level
	}{
		{0, LevelLow},
		{30, LevelLow},
		{30.5, LevelMedium},
		{50, LevelMedium},
		{51, LevelHigh},
		{70, LevelHigh},
		{85, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Level(tt.value), "value %v", tt.value)
	}
}

func TestWindow_FIFOEviction(t *testing.T) {
	w, err := NewWindow(WithCapacity(3))
	require.NoError(t, err)

	var e Entry
	for i := 1; i <= 5; i++ {
		e, err = w.Fold("north", float64(i*10), t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	assert.Equal(t, []float64{30, 40, 50}, e.History)
	assert.Equal(t, 50.0, e.Value)
	assert.Equal(t, int64(5), e.Samples)
	assert.Equal(t, t0.Add(5*time.Second), e.UpdatedAt)
	// 50 against mean(30, 40) = 35.
	assert.Equal(t, Trend{Direction: TrendUp, Magnitude: 43}, e.Trend)
	assert.Equal(t, LevelMedium, e.Congestion)
}

func TestWindow_DefaultCapacity(t *testing.T) {
	w, err := NewWindow()
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		_, err := w.Fold("s1", float64(i), t0)
		require.NoError(t, err)
	}
	e, ok := w.Get("s1")
	require.True(t, ok)
	assert.Len(t, e.History, DefaultCapacity)
	assert.Equal(t, 15.0, e.History[0])
}

func TestWindow_OneEntryPerKey(t *testing.T) {
	w, err := NewWindow()
	require.NoError(t, err)

	_, _ = w.Fold("south", 10, t0)
	_, _ = w.Fold("north", 20, t0)
	_, _ = w.Fold("south", 12, t0)

	entries := w.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "north", entries[0].Key)
	assert.Equal(t, "south", entries[1].Key)
	assert.Equal(t, []float64{10, 12}, entries[1].History)

	// Returned entries are copies.
	entries[1].History[0] = 999
	e, _ := w.Get("south")
	assert.Equal(t, 10.0, e.History[0])

	w.Reset()
	assert.Empty(t, w.Entries())
}

func TestWindow_ClockForZeroTime(t *testing.T) {
	w, err := NewWindow(WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)

	e, err := w.Fold("east", 1, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, t0, e.UpdatedAt)
}

func TestNewWindow_Validation(t *testing.T) {
	_, err := NewWindow(WithCapacity(0))
	assert.Error(t, err)

	_, err = NewWindow(WithThresholds(Thresholds{Medium: 60, High: 50, Critical: 70}))
	assert.Error(t, err)
}

func TestTotals_AccumulateAndReplace(t *testing.T) {
	totals := NewTotals(DashboardSchema())

	n := totals.ApplySnapshot(map[string]float64{
		MetricVehicles: 100,
		MetricAvgSpeed: 50,
		"unknown":      1,
	}, t0)
	assert.Equal(t, 2, n)

	// Live deltas accumulate on counts and replace point-in-time metrics.
	assert.True(t, totals.ApplyLive(MetricVehicles, 1, t0.Add(time.Second)))
	assert.True(t, totals.ApplyLive(MetricVehicles, 1, t0.Add(2*time.Second)))
	assert.True(t, totals.ApplyLive(MetricAvgSpeed, 42, t0.Add(2*time.Second)))

	v, _ := totals.Value(MetricVehicles)
	assert.Equal(t, 102.0, v)
	v, _ = totals.Value(MetricAvgSpeed)
	assert.Equal(t, 42.0, v)

	// A newer snapshot resets the accumulated deltas.
	totals.ApplySnapshot(map[string]float64{MetricVehicles: 110, MetricAvgSpeed: 48}, t0.Add(time.Minute))
	v, _ = totals.Value(MetricVehicles)
	assert.Equal(t, 110.0, v)
	v, _ = totals.Value(MetricAvgSpeed)
	assert.Equal(t, 48.0, v)

	// Deltas that predate the snapshot are already in it.
	assert.False(t, totals.ApplyLive(MetricVehicles, 1, t0.Add(30*time.Second)))
	v, _ = totals.Value(MetricVehicles)
	assert.Equal(t, 110.0, v)
}

func TestTotals_StaleSnapshotIgnored(t *testing.T) {
	totals := NewTotals(DashboardSchema())

	totals.ApplySnapshot(map[string]float64{MetricAlerts: 5}, t0.Add(time.Minute))
	assert.Zero(t, totals.ApplySnapshot(map[string]float64{MetricAlerts: 3}, t0))

	v, _ := totals.Value(MetricAlerts)
	assert.Equal(t, 5.0, v)
}

func TestTotals_ReplaceKeepsNewerLiveValue(t *testing.T) {
	totals := NewTotals(DashboardSchema())

	totals.ApplyLive(MetricAvgDensity, 60, t0.Add(time.Minute))
	assert.Zero(t, totals.ApplySnapshot(map[string]float64{MetricAvgDensity: 40}, t0))

	v, _ := totals.Value(MetricAvgDensity)
	assert.Equal(t, 60.0, v)

	assert.False(t, totals.ApplyLive(MetricAvgDensity, 10, t0), "older live value must not replace")
	assert.False(t, totals.ApplyLive("unknown", 1, t0))
}

func TestTotals_Snapshot(t *testing.T) {
	totals := NewTotals(Schema{"b": Replace, "a": Accumulate})
	totals.ApplySnapshot(map[string]float64{"a": 10}, t0)
	totals.ApplyLive("a", 2, t0.Add(time.Second))

	snap := totals.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, Total{
		Name: "a", Value: 12, Policy: Accumulate, Baseline: 10, LiveDelta: 2,
		SnapshotAt: t0, UpdatedAt: t0.Add(time.Second),
	}, snap[0])
	assert.Equal(t, "b", snap[1].Name)

	p, ok := totals.Policy("a")
	assert.True(t, ok)
	assert.Equal(t, "accumulate", p.String())
}

func TestAggregator_TrafficByDirection(t *testing.T) {
	totals := NewTotals(DashboardSchema())
	agg, err := TrafficByDirection(totals)
	require.NoError(t, err)

	ev := event.ClassifyJSON([]byte(testutil.TrafficPayload), t0)
	baseline := &snapshot.Baseline{
		FetchedAt: t0.Add(-time.Minute),
		Metrics:   map[string]float64{MetricDetections: 1000, MetricAvgDensity: 20},
	}

	entry, ok := agg.Fold(ev, baseline)
	require.True(t, ok)
	assert.Equal(t, "north", entry.Key)
	assert.Equal(t, 85.0, entry.Value)
	assert.Equal(t, LevelCritical, entry.Congestion)
	assert.Equal(t, TrendStable, entry.Trend.Direction)

	v, _ := totals.Value(MetricDetections)
	assert.Equal(t, 1041.0, v)
	v, _ = totals.Value(MetricAvgDensity)
	assert.Equal(t, 85.0, v)
	v, _ = totals.Value(MetricAvgSpeed)
	assert.Equal(t, 32.5, v)

	// Non-traffic events still count towards totals.
	alert := event.ClassifyJSON([]byte(testutil.AlertPayload), t0.Add(time.Second))
	_, ok = agg.Fold(alert, nil)
	assert.False(t, ok)
	v, _ = totals.Value(MetricAlerts)
	assert.Equal(t, 1.0, v)

	// Sensor id is the fallback key.
	noDir := event.ClassifyJSON([]byte(`{"sensor_id":"s9","density":12}`), t0)
	entry, ok = agg.Fold(noDir, nil)
	require.True(t, ok)
	assert.Equal(t, "s9", entry.Key)
	assert.Equal(t, LevelLow, entry.Congestion)
}

func TestAggregator_VehicleSpeedBySensor(t *testing.T) {
	agg, err := VehicleSpeedBySensor()
	require.NoError(t, err)

	entry, ok := agg.Fold(event.ClassifyJSON([]byte(testutil.VehiclePayload), t0), nil)
	require.True(t, ok)
	assert.Equal(t, "s-north-1", entry.Key)
	assert.Equal(t, 42.0, entry.Value)
	assert.Nil(t, agg.Totals())

	_, ok = agg.Fold(event.ClassifyJSON([]byte(`{"id":"v2","speed_kmh":10}`), t0), nil)
	assert.False(t, ok, "vehicles without a sensor are not tracked")
}
