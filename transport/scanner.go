package transport

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Event is a single Server-Sent Event.
type Event struct {
	// Type is the "event:" field; empty means the default "message" type.
	Type string
	// Data is the payload. Multiple "data:" lines are joined with "\n".
	Data string
	// ID is the last event id in effect when the event was dispatched.
	ID string
	// Retry is the most recent "retry:" hint, zero if none was received.
	Retry time.Duration
}

// Scanner reads Server-Sent Events from an io.Reader following the W3C
// event stream format.
//
// Events are delimited by blank lines. Comment lines (leading ":") and unknown
// fields are ignored. The last event id persists across events until the server
// changes it, and a block without data lines dispatches nothing.
//
//	scanner := NewScanner(body)
//	for scanner.Next() {
//	    ev := scanner.Event()
//	}
//	if err := scanner.Err(); err != nil {
//	    // read error; nil means clean EOF
//	}
type Scanner struct {
	reader  *bufio.Reader
	current Event
	lastID  string
	retry   time.Duration
	err     error
}

// NewScanner creates a scanner that reads events from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{
		reader: bufio.NewReaderSize(r, 64*1024),
	}
}

// Next advances to the next event. It returns false at EOF or on a read error.
// A trailing event without a terminating blank line is discarded.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.current = Event{}

	var (
		data      strings.Builder
		hasData   bool
		eventType string
	)

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			s.err = err
			return false
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if !hasData {
				eventType = ""
				continue
			}
			s.current = Event{
				Type:  eventType,
				Data:  data.String(),
				ID:    s.lastID,
				Retry: s.retry,
			}
			return true
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			eventType = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				s.lastID = value
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				s.retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
}

// Event returns the event parsed by the last successful Next.
func (s *Scanner) Event() Event {
	return s.current
}

// LastID returns the last event id seen, even if no event carried it yet.
func (s *Scanner) LastID() string {
	return s.lastID
}

// Err returns the read error that stopped the scanner, or nil on clean EOF.
func (s *Scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
