package snapshot

import (
	"context"
	"sort"
	"time"
)

// SensorInfo is one entry of the sensor registry.
type SensorInfo struct {
	ID        string `json:"id"`
	Direction string `json:"direction,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Baseline is an authoritative snapshot of dashboard totals.
type Baseline struct {
	Source    string             `json:"source"`
	FetchedAt time.Time          `json:"fetched_at"`
	Metrics   map[string]float64 `json:"metrics"`
	Sensors   []SensorInfo       `json:"sensors,omitempty"`
}

// Metric returns a single metric value.
func (b Baseline) Metric(name string) (float64, bool) {
	v, ok := b.Metrics[name]
	return v, ok
}

// MetricNames returns the metric names in sorted order.
func (b Baseline) MetricNames() []string {
	names := make([]string, 0, len(b.Metrics))
	for name := range b.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source produces baselines on demand.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (Baseline, error)
}
