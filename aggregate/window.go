package aggregate

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/c360/trafficstreams/errors"
	"github.com/c360/trafficstreams/pkg/buffer"
)

// DefaultCapacity is the history length kept per key.
const DefaultCapacity = 10

// trendThreshold is the percent change above which a trend is reported.
const trendThreshold = 5.0

// Direction of a trend.
type Direction string

const (
	TrendUp     Direction = "up"
	TrendDown   Direction = "down"
	TrendStable Direction = "stable"
)

// Trend compares the newest sample with the mean of the samples before it.
type Trend struct {
	Direction Direction `json:"direction"`
	Magnitude int       `json:"magnitude"` // rounded absolute percent change
}

// Level is a congestion bucket.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Thresholds bucket an instantaneous value into a Level. A value must exceed a
// threshold to reach its level.
type Thresholds struct {
	Medium   float64 `json:"medium"`
	High     float64 `json:"high"`
	Critical float64 `json:"critical"`
}

// DefaultThresholds are the density thresholds used by the dashboard.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 30, High: 50, Critical: 70}
}

// Level returns the bucket for v.
func (t Thresholds) Level(v float64) Level {
	switch {
	case v > t.Critical:
		return LevelCritical
	case v > t.High:
		return LevelHigh
	case v > t.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}

func (t Thresholds) validate() error {
	if t.Medium > t.High || t.High > t.Critical {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "aggregate", "NewWindow", "thresholds must be ascending")
	}
	return nil
}

// ComputeTrend returns the trend of sample against prior. An empty prior is stable.
func ComputeTrend(prior []float64, sample float64) Trend {
	if len(prior) == 0 {
		return Trend{Direction: TrendStable}
	}

	var sum float64
	for _, v := range prior {
		sum += v
	}
	mean := sum / float64(len(prior))

	var pct float64
	switch {
	case mean != 0:
		pct = (sample - mean) / math.Abs(mean) * 100
	case sample > 0:
		pct = 100
	case sample < 0:
		pct = -100
	}

	switch {
	case pct > trendThreshold:
		return Trend{Direction: TrendUp, Magnitude: int(math.Round(pct))}
	case pct < -trendThreshold:
		return Trend{Direction: TrendDown, Magnitude: int(math.Round(-pct))}
	default:
		return Trend{Direction: TrendStable}
	}
}

// Entry is the rolling state of one key.
type Entry struct {
	Key        string    `json:"key"`
	Value      float64   `json:"value"`
	History    []float64 `json:"history"`
	Trend      Trend     `json:"trend"`
	Congestion Level     `json:"congestion"`
	Samples    int64     `json:"samples"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// WindowOption configures a Window.
type WindowOption func(*Window)

// WithCapacity sets the history length per key.
func WithCapacity(n int) WindowOption {
	return func(w *Window) {
		w.capacity = n
	}
}

// WithThresholds sets the congestion thresholds.
func WithThresholds(t Thresholds) WindowOption {
	return func(w *Window) {
		w.thresholds = t
	}
}

// WithClock supplies the time for folds without a timestamp.
func WithClock(now func() time.Time) WindowOption {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
	}
}

type slot struct {
	history buffer.Buffer[float64]
	entry   Entry
}

// Window keeps one Entry per key with a bounded FIFO history.
type Window struct {
	capacity   int
	thresholds Thresholds
	now        func() time.Time

	mu    sync.RWMutex
	slots map[string]*slot
}

// NewWindow creates an empty window.
func NewWindow(opts ...WindowOption) (*Window, error) {
	w := &Window{
		capacity:   DefaultCapacity,
		thresholds: DefaultThresholds(),
		now:        time.Now,
		slots:      make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.capacity < 1 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "aggregate", "NewWindow", "capacity must be positive")
	}
	if err := w.thresholds.validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Fold appends value to key's history, evicting the oldest sample at capacity, and
// recomputes the entry. A zero at uses the window clock.
func (w *Window) Fold(key string, value float64, at time.Time) (Entry, error) {
	if at.IsZero() {
		at = w.now()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	s, ok := w.slots[key]
	if !ok {
		history, err := buffer.NewCircularBuffer[float64](w.capacity,
			buffer.WithOverflowPolicy[float64](buffer.DropOldest))
		if err != nil {
			return Entry{}, errors.Wrap(err, "aggregate", "Fold", "create history")
		}
		s = &slot{history: history, entry: Entry{Key: key}}
		w.slots[key] = s
	}

	if err := s.history.Write(value); err != nil {
		return Entry{}, errors.Wrap(err, "aggregate", "Fold", "append sample")
	}
	history := s.history.Items()

	s.entry.Value = value
	s.entry.History = history
	s.entry.Trend = ComputeTrend(history[:len(history)-1], value)
	s.entry.Congestion = w.thresholds.Level(value)
	s.entry.Samples++
	s.entry.UpdatedAt = at

	return s.entry.clone(), nil
}

// Get returns the entry for key.
func (w *Window) Get(key string) (Entry, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.slots[key]
	if !ok {
		return Entry{}, false
	}
	return s.entry.clone(), true
}

// Entries returns every entry sorted by key.
func (w *Window) Entries() []Entry {
	w.mu.RLock()
	out := make([]Entry, 0, len(w.slots))
	for _, s := range w.slots {
		out = append(out, s.entry.clone())
	}
	w.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Reset drops every entry.
func (w *Window) Reset() {
	w.mu.Lock()
	w.slots = make(map[string]*slot)
	w.mu.Unlock()
}

func (e Entry) clone() Entry {
	e.History = append([]float64(nil), e.History...)
	return e
}
