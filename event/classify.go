package event

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/c360/trafficstreams/stream"
)

// Fields is a payload decoded one level deep.
type Fields map[string]json.RawMessage

// intersectionMetrics are the fields that mark an intersection payload.
var intersectionMetrics = []string{"queue_length", "wait_time", "throughput", "signal_phase", "congestion_level"}

var handshakeTypes = map[string]bool{
	"connected":  true,
	"connection": true,
	"handshake":  true,
	"heartbeat":  true,
}

type decoder struct {
	kind  Kind
	match func(Fields) bool
	build func(Fields) Payload
}

// decoders is evaluated in order; the first match wins. Builders read only the
// fields the match did not check leniently, so a matched shape always yields its kind.
var decoders = []decoder{
	{
		kind: KindSensorHealth,
		match: func(f Fields) bool {
			return f.isString("sensor_id") && f.isNumber("battery_level")
		},
		build: buildSensorHealth,
	},
	{
		kind: KindTraffic,
		match: func(f Fields) bool {
			return f.isString("sensor_id") && f.isNumber("density")
		},
		build: buildTraffic,
	},
	{
		kind: KindVehicle,
		match: func(f Fields) bool {
			return f.isString("id") && f.isNumber("speed_kmh")
		},
		build: buildVehicle,
	},
	{
		kind: KindAlert,
		match: func(f Fields) bool {
			return f.isString("sensor_id") && f.isString("type") && f.present("timestamp")
		},
		build: buildAlert,
	},
	{
		kind: KindCoordination,
		match: func(f Fields) bool {
			return f.isString("intersection_id") && f.isObject("coordination")
		},
		build: buildCoordination,
	},
	{
		kind: KindIntersection,
		match: func(f Fields) bool {
			if !f.isString("intersection_id") || f.present("coordination") {
				return false
			}
			for _, name := range intersectionMetrics {
				if f.present(name) {
					return true
				}
			}
			return false
		},
		build: buildIntersection,
	},
}

func buildSensorHealth(f Fields) Payload {
	return SensorHealth{
		SensorID:     f.text("sensor_id"),
		BatteryLevel: f.number("battery_level"),
		Temperature:  f.optNumber("temperature"),
		Status:       f.raw("status"),
		Timestamp:    f.raw("timestamp"),
	}
}

func buildTraffic(f Fields) Payload {
	return Traffic{
		SensorID:     f.text("sensor_id"),
		Direction:    f.text("direction"),
		Density:      f.number("density"),
		Speed:        f.optNumber("speed"),
		VehicleCount: f.optNumber("vehicle_count"),
		Timestamp:    f.raw("timestamp"),
	}
}

func buildVehicle(f Fields) Payload {
	return Vehicle{
		ID:          f.text("id"),
		SpeedKMH:    f.number("speed_kmh"),
		VehicleType: f.text("vehicle_type"),
		SensorID:    f.text("sensor_id"),
		Direction:   f.text("direction"),
		Timestamp:   f.raw("timestamp"),
	}
}

func buildAlert(f Fields) Payload {
	return Alert{
		ID:        f.text("id"),
		SensorID:  f.text("sensor_id"),
		Type:      f.text("type"),
		Severity:  f.text("severity"),
		Message:   f.text("message"),
		Timestamp: f.raw("timestamp"),
	}
}

func buildCoordination(f Fields) Payload {
	var coord map[string]json.RawMessage
	_ = json.Unmarshal(f["coordination"], &coord)
	return Coordination{
		IntersectionID: f.text("intersection_id"),
		Coordination:   coord,
		Timestamp:      f.raw("timestamp"),
	}
}

func buildIntersection(f Fields) Payload {
	return Intersection{
		IntersectionID: f.text("intersection_id"),
		QueueLength:    f.optNumber("queue_length"),
		WaitTime:       f.optNumber("wait_time"),
		Throughput:     f.optNumber("throughput"),
		SignalPhase:    f.raw("signal_phase"),
		Timestamp:      f.raw("timestamp"),
	}
}

// Classify assigns a kind to msg from the shape of its payload alone. The transport
// event name is never consulted.
func Classify(msg stream.Message) Event {
	return classify(Fields(msg.Fields), msg.Data, msg.ID, msg.ReceivedAt)
}

// ClassifyJSON classifies a raw JSON payload. Anything that is not a JSON object is
// Unrecognized.
func ClassifyJSON(data []byte, receivedAt time.Time) Event {
	var fields Fields
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return Event{Kind: KindUnrecognized, ReceivedAt: receivedAt, Raw: json.RawMessage(data)}
	}
	return classify(fields, json.RawMessage(data), "", receivedAt)
}

func classify(f Fields, raw json.RawMessage, upstreamID string, receivedAt time.Time) Event {
	ev := Event{
		Kind:       KindUnrecognized,
		ID:         upstreamID,
		ReceivedAt: receivedAt,
		Raw:        raw,
	}
	if ev.ID == "" {
		ev.ID = f.id()
	}

	if isHandshake(f) {
		ev.Kind = KindHandshake
		return ev
	}

	for _, d := range decoders {
		if d.match(f) {
			ev.Kind = d.kind
			ev.Payload = d.build(f)
			return ev
		}
	}
	return ev
}

func isHandshake(f Fields) bool {
	if f.isTrue("handshake") {
		return true
	}
	if f.present("sensor_id") || f.present("intersection_id") {
		return false
	}
	if t, ok := f.str("type"); ok && handshakeTypes[strings.ToLower(t)] {
		return true
	}
	if m, ok := f.str("message"); ok && strings.Contains(strings.ToLower(m), "connected") {
		return true
	}
	return false
}

func (f Fields) present(name string) bool {
	raw, ok := f[name]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (f Fields) str(name string) (string, bool) {
	raw, ok := f[name]
	if !ok || !f.present(name) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// text returns the string value of name, or "" when it is absent or not a string.
func (f Fields) text(name string) string {
	s, _ := f.str(name)
	return s
}

func (f Fields) optNumber(name string) *float64 {
	if !f.present(name) {
		return nil
	}
	var n float64
	if err := json.Unmarshal(f[name], &n); err != nil {
		return nil
	}
	return &n
}

func (f Fields) number(name string) float64 {
	if n := f.optNumber(name); n != nil {
		return *n
	}
	return 0
}

// raw returns the undecoded value of name, nil when absent or null.
func (f Fields) raw(name string) json.RawMessage {
	if !f.present(name) {
		return nil
	}
	return f[name]
}

func (f Fields) isString(name string) bool {
	_, ok := f.str(name)
	return ok
}

func (f Fields) isNumber(name string) bool {
	raw, ok := f[name]
	if !ok || !f.present(name) {
		return false
	}
	var n float64
	return json.Unmarshal(raw, &n) == nil
}

func (f Fields) isObject(name string) bool {
	raw, ok := f[name]
	if !ok {
		return false
	}
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func (f Fields) isTrue(name string) bool {
	raw, ok := f[name]
	if !ok {
		return false
	}
	var b bool
	return json.Unmarshal(raw, &b) == nil && b
}

// id returns the payload's own id as a string, accepting numeric ids.
func (f Fields) id() string {
	raw, ok := f["id"]
	if !ok {
		return ""
	}
	if s, ok := f.str("id"); ok {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
