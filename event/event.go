package event

import (
	"encoding/json"
	"time"

	"github.com/c360/trafficstreams/pkg/timestamp"
)

// Kind is the discriminator of a classified event.
type Kind string

const (
	KindHandshake    Kind = "handshake"
	KindSensorHealth Kind = "sensor_health"
	KindTraffic      Kind = "traffic"
	KindVehicle      Kind = "vehicle"
	KindAlert        Kind = "alert"
	KindCoordination Kind = "coordination"
	KindIntersection Kind = "intersection"
	KindUnrecognized Kind = "unrecognized"
)

// Kinds lists the kinds delivered to consumers, in classification priority order.
var Kinds = []Kind{
	KindSensorHealth,
	KindTraffic,
	KindVehicle,
	KindAlert,
	KindCoordination,
	KindIntersection,
}

// Event is an upstream payload tagged with its kind. Events are immutable once
// classified.
type Event struct {
	Kind       Kind            `json:"kind"`
	ID         string          `json:"id,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    Payload         `json:"payload,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// ObservedAt returns the upstream "timestamp" of the payload, or ReceivedAt when the
// payload has none that parses.
func (e Event) ObservedAt() time.Time {
	if len(e.Raw) == 0 {
		return e.ReceivedAt
	}
	var probe struct {
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(e.Raw, &probe); err != nil {
		return e.ReceivedAt
	}
	t, ok := timestamp.ParseRaw(probe.Timestamp)
	return timestamp.Or(t, ok, e.ReceivedAt)
}

// Discard reports whether the event carries no telemetry and should not reach consumers.
func (e Event) Discard() bool {
	return e.Kind == KindHandshake || e.Kind == KindUnrecognized
}

// Payload is implemented by the typed variants below and nothing else.
type Payload interface {
	Kind() Kind
}

// SensorHealth reports the condition of a roadside sensor.
type SensorHealth struct {
	SensorID     string          `json:"sensor_id"`
	BatteryLevel float64         `json:"battery_level"`
	Temperature  *float64        `json:"temperature,omitempty"`
	Status       json.RawMessage `json:"status,omitempty"`
	Timestamp    json.RawMessage `json:"timestamp,omitempty"`
}

// Kind implements Payload.
func (SensorHealth) Kind() Kind { return KindSensorHealth }

// Traffic is a per-location flow measurement.
type Traffic struct {
	SensorID     string          `json:"sensor_id"`
	Direction    string          `json:"direction,omitempty"`
	Density      float64         `json:"density"`
	Speed        *float64        `json:"speed,omitempty"`
	VehicleCount *float64        `json:"vehicle_count,omitempty"`
	Timestamp    json.RawMessage `json:"timestamp,omitempty"`
}

// Kind implements Payload.
func (Traffic) Kind() Kind { return KindTraffic }

// Vehicle is a single detection. SpeedKMH is the detected vehicle's speed, not the
// average speed at the sensor.
type Vehicle struct {
	ID          string          `json:"id"`
	SpeedKMH    float64         `json:"speed_kmh"`
	VehicleType string          `json:"vehicle_type,omitempty"`
	SensorID    string          `json:"sensor_id,omitempty"`
	Direction   string          `json:"direction,omitempty"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
}

// Kind implements Payload.
func (Vehicle) Kind() Kind { return KindVehicle }

// Alert is a sensor-raised incident. Type is an open set (congestion, incident,
// sensor_failure, ...).
type Alert struct {
	ID        string          `json:"id,omitempty"`
	SensorID  string          `json:"sensor_id"`
	Type      string          `json:"type"`
	Severity  string          `json:"severity,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// Kind implements Payload.
func (Alert) Kind() Kind { return KindAlert }

// Coordination is the signal coordination state of an intersection.
type Coordination struct {
	IntersectionID string                     `json:"intersection_id"`
	Coordination   map[string]json.RawMessage `json:"coordination"`
	Timestamp      json.RawMessage            `json:"timestamp,omitempty"`
}

// Kind implements Payload.
func (Coordination) Kind() Kind { return KindCoordination }

// Intersection carries intersection performance metrics.
type Intersection struct {
	IntersectionID string          `json:"intersection_id"`
	QueueLength    *float64        `json:"queue_length,omitempty"`
	WaitTime       *float64        `json:"wait_time,omitempty"`
	Throughput     *float64        `json:"throughput,omitempty"`
	SignalPhase    json.RawMessage `json:"signal_phase,omitempty"`
	Timestamp      json.RawMessage `json:"timestamp,omitempty"`
}

// Kind implements Payload.
func (Intersection) Kind() Kind { return KindIntersection }
