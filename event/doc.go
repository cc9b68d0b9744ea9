// Package event classifies untyped stream payloads into a closed set of traffic
// telemetry variants.
//
// Classification looks only at the presence and JSON type of specific fields, because
// upstream transports may label every message with the same generic event name. Rules
// are tried in priority order and the first rule whose shape matches and whose typed
// decode succeeds wins:
//
//  1. handshake: "handshake": true, a connect/heartbeat "type", or a "connected"
//     message without a sensor or intersection id. Discarded by consumers.
//  2. SensorHealth: string sensor_id and numeric battery_level.
//  3. Traffic: string sensor_id and numeric density.
//  4. Vehicle: string id and numeric speed_kmh.
//  5. Alert: string sensor_id, string type and a timestamp.
//  6. Coordination: string intersection_id and a coordination object.
//  7. Intersection: string intersection_id, at least one intersection metric, no
//     coordination.
//
// Anything else is Unrecognized. Classify is pure and safe for concurrent use.
package event
