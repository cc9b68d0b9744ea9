package aggregate

import (
	"sort"
	"sync"
	"time"
)

// MergePolicy decides how live updates combine with snapshot baselines for one metric.
type MergePolicy int

const (
	// Replace treats the metric as point-in-time: the newest value wins, whether it
	// came from a snapshot or the stream.
	Replace MergePolicy = iota
	// Accumulate treats the metric as a cumulative count: live deltas are added to the
	// last snapshot and reset when a newer snapshot arrives.
	Accumulate
)

// String returns the policy name.
func (p MergePolicy) String() string {
	switch p {
	case Replace:
		return "replace"
	case Accumulate:
		return "accumulate"
	default:
		return "unknown"
	}
}

// MarshalText renders the policy by name.
func (p MergePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Schema fixes the merge policy of every tracked metric.
type Schema map[string]MergePolicy

// Dashboard metric names.
const (
	MetricVehicles   = "vehicles"
	MetricAlerts     = "alerts"
	MetricDetections = "detections"
	MetricAvgSpeed   = "avg_speed"
	MetricAvgDensity = "avg_density"
)

// DashboardSchema counts vehicles, alerts and detections cumulatively and replaces
// speed and density.
func DashboardSchema() Schema {
	return Schema{
		MetricVehicles:   Accumulate,
		MetricAlerts:     Accumulate,
		MetricDetections: Accumulate,
		MetricAvgSpeed:   Replace,
		MetricAvgDensity: Replace,
	}
}

type metricState struct {
	base      float64
	delta     float64
	baseAt    time.Time // time of the last applied snapshot
	updatedAt time.Time // time of the last applied value of any origin
}

// Total is the merged value of one metric.
type Total struct {
	Name       string      `json:"name"`
	Value      float64     `json:"value"`
	Policy     MergePolicy `json:"policy"`
	Baseline   float64     `json:"baseline"`
	LiveDelta  float64     `json:"live_delta"`
	SnapshotAt time.Time   `json:"snapshot_at,omitempty"`
	UpdatedAt  time.Time   `json:"updated_at,omitempty"`
}

// Totals merges snapshot baselines with live updates. Metrics outside the schema are
// ignored.
type Totals struct {
	schema Schema

	mu     sync.RWMutex
	states map[string]*metricState
}

// NewTotals creates totals for schema.
func NewTotals(schema Schema) *Totals {
	t := &Totals{
		schema: make(Schema, len(schema)),
		states: make(map[string]*metricState, len(schema)),
	}
	for name, p := range schema {
		t.schema[name] = p
		t.states[name] = &metricState{}
	}
	return t
}

// Policy returns the merge policy of name.
func (t *Totals) Policy(name string) (MergePolicy, bool) {
	p, ok := t.schema[name]
	return p, ok
}

// ApplySnapshot merges a baseline taken at at. A snapshot no newer than the last
// applied one is ignored. Returns the number of metrics updated.
func (t *Totals) ApplySnapshot(values map[string]float64, at time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	applied := 0
	for name, v := range values {
		st, ok := t.states[name]
		if !ok || !at.After(st.baseAt) {
			continue
		}
		switch t.schema[name] {
		case Accumulate:
			st.base = v
			st.delta = 0
		case Replace:
			if at.Before(st.updatedAt) {
				// A live value newer than this snapshot stays.
				st.baseAt = at
				continue
			}
			st.base = v
			st.delta = 0
		}
		st.baseAt = at
		if at.After(st.updatedAt) {
			st.updatedAt = at
		}
		applied++
	}
	return applied
}

// ApplyLive merges a live observation. For Accumulate metrics v is an increment and is
// ignored when it predates the last snapshot; for Replace metrics v replaces the value
// unless a newer one is already held.
func (t *Totals) ApplyLive(name string, v float64, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[name]
	if !ok {
		return false
	}

	switch t.schema[name] {
	case Accumulate:
		if !st.baseAt.IsZero() && !at.After(st.baseAt) {
			return false
		}
		st.delta += v
	case Replace:
		if at.Before(st.updatedAt) {
			return false
		}
		st.base = v
		st.delta = 0
	}
	if at.After(st.updatedAt) {
		st.updatedAt = at
	}
	return true
}

// Value returns the merged value of name.
func (t *Totals) Value(name string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.states[name]
	if !ok {
		return 0, false
	}
	return st.base + st.delta, true
}

// Snapshot returns every metric sorted by name.
func (t *Totals) Snapshot() []Total {
	t.mu.RLock()
	out := make([]Total, 0, len(t.states))
	for name, st := range t.states {
		out = append(out, Total{
			Name:       name,
			Value:      st.base + st.delta,
			Policy:     t.schema[name],
			Baseline:   st.base,
			LiveDelta:  st.delta,
			SnapshotAt: st.baseAt,
			UpdatedAt:  st.updatedAt,
		})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
