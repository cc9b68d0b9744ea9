package stream

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state of a stream connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateError
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON views.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Message is one well-formed upstream payload. Data is always a JSON object.
type Message struct {
	URL        string
	Data       json.RawMessage
	Fields     map[string]json.RawMessage
	EventType  string
	ID         string
	ReceivedAt time.Time
}

// Callbacks are the notifications a subscriber receives. Nil callbacks are skipped.
type Callbacks struct {
	OnConnect    func()
	OnDisconnect func()
	OnError      func(error)
	OnEvent      func(Message)
}

// ConnectionInfo is a point-in-time view of a connection.
type ConnectionInfo struct {
	URL         string    `json:"url"`
	State       State     `json:"state"`
	Subscribers []string  `json:"subscribers"`
	Retries     int       `json:"retries"`
	LastError   string    `json:"last_error,omitempty"`
	OpenedAt    time.Time `json:"opened_at,omitempty"`
	Delivered   int64     `json:"delivered"`
	Malformed   int64     `json:"malformed"`
}
