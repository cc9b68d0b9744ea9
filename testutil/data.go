package testutil

// Upstream payloads in the shapes the traffic sensor streams publish. Each fixture is
// a complete SSE data line.
const (
	HandshakePayload        = `{"message":"Connected to traffic stream","handshake":true}`
	HeartbeatPayload        = `{"type":"heartbeat","timestamp":"2026-10-18T08:00:00Z"}`
	ConnectedMessagePayload = `{"message":"connected"}`

	SensorHealthPayload = `{"sensor_id":"s1","battery_level":80,"temperature":21.5,"status":"online","timestamp":"2026-10-18T08:00:01Z"}`
	TrafficPayload      = `{"sensor_id":"s-north-1","direction":"north","density":85,"speed":32.5,"vehicle_count":41,"timestamp":"2026-10-18T08:00:02Z"}`
	VehiclePayload      = `{"id":"v1","speed_kmh":42,"vehicle_type":"car","sensor_id":"s-north-1","direction":"north","timestamp":"2026-10-18T08:00:03Z"}`
	AlertPayload        = `{"id":"a-17","sensor_id":"s1","type":"congestion","severity":"high","message":"queue building","timestamp":"2026-10-18T08:00:04Z"}`
	CoordinationPayload = `{"intersection_id":"i-5","coordination":{"phase":"green_wave","offset_s":12,"partners":["i-4","i-6"]},"timestamp":"2026-10-18T08:00:05Z"}`
	IntersectionPayload = `{"intersection_id":"i-5","queue_length":7,"wait_time":18.5,"throughput":240,"signal_phase":"red","timestamp":"2026-10-18T08:00:06Z"}`

	UnrecognizedPayload = `{"foo":"bar","count":3}`
	MalformedPayload    = `{"sensor_id": "s1", "density":`
	ArrayPayload        = `[1,2,3]`
)

// TrafficWithDensity returns a Traffic payload for direction with the given density.
func TrafficWithDensity(direction string, density float64) string {
	return `{"sensor_id":"s-` + direction + `-1","direction":"` + direction +
		`","density":` + formatFloat(density) + `,"speed":40,"vehicle_count":10}`
}

// SSEFrame renders data as a single SSE event terminated by a blank line.
func SSEFrame(data string) string {
	return "data: " + data + "\n\n"
}

// SSEFrameWithID renders data as an SSE event with an id field.
func SSEFrameWithID(id, data string) string {
	return "id: " + id + "\ndata: " + data + "\n\n"
}

// BaselineJSON is a snapshot baseline response body.
const BaselineJSON = `{
  "metrics": {"vehicles": 1200, "alerts": 4, "detections": 5300, "avg_speed": 47.5, "avg_density": 38},
  "sensors": [
    {"id": "s-north-1", "direction": "north", "status": "online"},
    {"id": "s-south-1", "direction": "south", "status": "offline"}
  ]
}`
