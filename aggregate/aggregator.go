package aggregate

import (
	"github.com/c360/trafficstreams/event"
	"github.com/c360/trafficstreams/snapshot"
)

// KeyFunc extracts the aggregation key of an event. ok is false for events the
// aggregator does not track.
type KeyFunc func(ev event.Event) (key string, ok bool)

// ValueFunc extracts the instantaneous value folded into the window.
type ValueFunc func(ev event.Event) (value float64, ok bool)

// ContributeFunc feeds live observations from an event into totals.
type ContributeFunc func(ev event.Event, totals *Totals)

// Aggregator folds classified events into a Window and, optionally, into Totals.
type Aggregator struct {
	window     *Window
	key        KeyFunc
	value      ValueFunc
	totals     *Totals
	contribute ContributeFunc
}

// NewAggregator binds window to the given extractors. totals and contribute may be nil.
func NewAggregator(window *Window, key KeyFunc, value ValueFunc, totals *Totals, contribute ContributeFunc) *Aggregator {
	return &Aggregator{
		window:     window,
		key:        key,
		value:      value,
		totals:     totals,
		contribute: contribute,
	}
}

// Fold merges baseline (when given) into the totals, records the event's live
// contribution and folds its value into the window. It reports false when the event
// has no key or value for this aggregator.
func (a *Aggregator) Fold(ev event.Event, baseline *snapshot.Baseline) (Entry, bool) {
	if a.totals != nil {
		if baseline != nil {
			a.totals.ApplySnapshot(baseline.Metrics, baseline.FetchedAt)
		}
		if a.contribute != nil {
			a.contribute(ev, a.totals)
		}
	}

	key, ok := a.key(ev)
	if !ok {
		return Entry{}, false
	}
	value, ok := a.value(ev)
	if !ok {
		return Entry{}, false
	}

	entry, err := a.window.Fold(key, value, ev.ReceivedAt)
	if err != nil {
		return Entry{}, false
	}
	return entry, true
}

// Window returns the underlying window.
func (a *Aggregator) Window() *Window {
	return a.window
}

// Totals returns the merged totals, or nil.
func (a *Aggregator) Totals() *Totals {
	return a.totals
}

// TrafficByDirection folds Traffic density keyed by compass direction, falling back to
// the sensor id, and feeds the dashboard totals.
func TrafficByDirection(totals *Totals, opts ...WindowOption) (*Aggregator, error) {
	w, err := NewWindow(opts...)
	if err != nil {
		return nil, err
	}
	return NewAggregator(w, directionKey, density, totals, DashboardContribution), nil
}

// VehicleSpeedBySensor folds per-detection vehicle speed keyed by sensor id.
func VehicleSpeedBySensor(opts ...WindowOption) (*Aggregator, error) {
	w, err := NewWindow(opts...)
	if err != nil {
		return nil, err
	}
	key := func(ev event.Event) (string, bool) {
		v, ok := ev.Payload.(event.Vehicle)
		if !ok || v.SensorID == "" {
			return "", false
		}
		return v.SensorID, true
	}
	value := func(ev event.Event) (float64, bool) {
		v, ok := ev.Payload.(event.Vehicle)
		return v.SpeedKMH, ok
	}
	return NewAggregator(w, key, value, nil, nil), nil
}

func directionKey(ev event.Event) (string, bool) {
	t, ok := ev.Payload.(event.Traffic)
	if !ok {
		return "", false
	}
	if t.Direction != "" {
		return t.Direction, true
	}
	return t.SensorID, t.SensorID != ""
}

func density(ev event.Event) (float64, bool) {
	t, ok := ev.Payload.(event.Traffic)
	return t.Density, ok
}

// DashboardContribution maps events onto DashboardSchema metrics: vehicles and alerts
// count one per event, detections add a Traffic vehicle_count, and Traffic density and
// speed replace the current averages.
func DashboardContribution(ev event.Event, totals *Totals) {
	at := ev.ReceivedAt
	switch p := ev.Payload.(type) {
	case event.Vehicle:
		totals.ApplyLive(MetricVehicles, 1, at)
	case event.Alert:
		totals.ApplyLive(MetricAlerts, 1, at)
	case event.Traffic:
		totals.ApplyLive(MetricAvgDensity, p.Density, at)
		if p.Speed != nil {
			totals.ApplyLive(MetricAvgSpeed, *p.Speed, at)
		}
		if p.VehicleCount != nil {
			totals.ApplyLive(MetricDetections, *p.VehicleCount, at)
		}
	}
}
