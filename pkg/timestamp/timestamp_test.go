package timestamp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	want := time.Date(2026, 10, 18, 8, 0, 2, 0, time.UTC)
	sec := float64(want.Unix())
	ms := float64(want.UnixMilli())

	tests := []struct {
		name   string
		input  any
		want   time.Time
		wantOK bool
	}{
		{"rfc3339", "2026-10-18T08:00:02Z", want, true},
		{"rfc3339 offset", "2026-10-18T10:00:02+02:00", want, true},
		{"rfc3339 nano", "2026-10-18T08:00:02.000000000Z", want, true},
		{"no zone", "2026-10-18T08:00:02", want, true},
		{"space layout", "2026-10-18 08:00:02", want, true},
		{"seconds", sec, want, true},
		{"milliseconds", ms, want, true},
		{"int64 seconds", want.Unix(), want, true},
		{"numeric string", "1792310402", time.Unix(1792310402, 0).UTC(), true},
		{"json number ms", json.Number("1792310402000"), time.UnixMilli(1792310402000).UTC(), true},
		{"raw string", json.RawMessage(`"2026-10-18T08:00:02Z"`), want, true},
		{"raw number", json.RawMessage(`1792310402`), time.Unix(1792310402, 0).UTC(), true},
		{"time", want.In(time.FixedZone("x", 3600)), want, true},
		{"nil", nil, time.Time{}, false},
		{"zero", 0.0, time.Time{}, false},
		{"negative", -5.0, time.Time{}, false},
		{"empty", "", time.Time{}, false},
		{"garbage", "yesterday", time.Time{}, false},
		{"bool", true, time.Time{}, false},
		{"raw null", json.RawMessage(`null`), time.Time{}, false},
		{"raw invalid", json.RawMessage(`{`), time.Time{}, false},
		{"zero time", time.Time{}, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
				assert.Equal(t, time.UTC, got.Location())
			}
		})
	}
}

func TestParse_FractionalSeconds(t *testing.T) {
	got, ok := Parse(1792310402.5)
	assert.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, time.Duration(got.Nanosecond()))
}

func TestOr(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got, ok := Parse("not a time")
	assert.Equal(t, fallback, Or(got, ok, fallback))

	got, ok = Parse("2026-10-18T08:00:02Z")
	assert.NotEqual(t, fallback, Or(got, ok, fallback))
}
