package buffer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/trafficstreams/errors"
	"github.com/c360/trafficstreams/metric"
)

func TestCircularBuffer_BasicOperations(t *testing.T) {
	buf, err := NewCircularBuffer[int](3)
	require.NoError(t, err)

	assert.Equal(t, 3, buf.Capacity())
	assert.Equal(t, 0, buf.Size())
	_, ok := buf.Read()
	assert.False(t, ok)
	_, ok = buf.Newest()
	assert.False(t, ok)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))

	newest, ok := buf.Newest()
	require.True(t, ok)
	assert.Equal(t, 2, newest)
	assert.Equal(t, []int{1, 2}, buf.Items())
	assert.Equal(t, 2, buf.Size(), "Items must not consume")

	v, ok := buf.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, []int{2}, buf.Items())
}

func TestCircularBuffer_OverflowPolicies(t *testing.T) {
	tests := []struct {
		name    string
		policy  OverflowPolicy
		writes  []int
		want    []int
		dropped []int
	}{
		{"drop oldest keeps newest", DropOldest, []int{1, 2, 3, 4, 5}, []int{3, 4, 5}, []int{1, 2}},
		{"drop newest keeps first", DropNewest, []int{1, 2, 3, 4, 5}, []int{1, 2, 3}, []int{4, 5}},
		{"under capacity", DropOldest, []int{1, 2}, []int{1, 2}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dropped []int
			buf, err := NewCircularBuffer[int](3,
				WithOverflowPolicy[int](tt.policy),
				WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
			)
			require.NoError(t, err)

			for _, w := range tt.writes {
				require.NoError(t, buf.Write(w))
			}

			assert.Equal(t, tt.want, buf.Items())
			assert.Equal(t, tt.dropped, dropped)
			assert.Equal(t, int64(len(tt.dropped)), buf.Stats().Drops())
		})
	}
}

func TestCircularBuffer_FIFOEvictionAtCapacity(t *testing.T) {
	buf, err := NewCircularBuffer[string](100)
	require.NoError(t, err)

	for i := 0; i < 101; i++ {
		require.NoError(t, buf.Write(fmt.Sprintf("e%d", i)))
	}

	items := buf.Items()
	require.Len(t, items, 100)
	assert.Equal(t, "e1", items[0], "first inserted item is evicted")
	assert.Equal(t, "e100", items[99])
}

func TestCircularBuffer_Statistics(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, buf.Write(i))
	}
	_, _ = buf.Read()

	s := buf.Stats().Summary()
	assert.Equal(t, int64(4), s.Writes)
	assert.Equal(t, int64(1), s.Reads)
	assert.Equal(t, int64(2), s.Drops)
	assert.Equal(t, int64(1), s.CurrentSize)
	assert.Equal(t, int64(2), s.MaxSize)
	assert.InDelta(t, 2.0/6.0, s.DropRate, 0.0001)
}

func TestCircularBuffer_Clear(t *testing.T) {
	calls := 0
	buf, err := NewCircularBuffer[int](3, WithDropCallback[int](func(int) { calls++ }))
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	buf.Clear()

	assert.Empty(t, buf.Items())
	assert.Equal(t, 0, buf.Size())
	assert.Equal(t, 0, calls)

	require.NoError(t, buf.Write(9))
	assert.Equal(t, []int{9}, buf.Items())
}

func TestCircularBuffer_Closed(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Close())

	err = buf.Write(2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrAlreadyStopped)
	assert.Equal(t, []int{1}, buf.Items())
}

func TestCircularBuffer_ZeroCapacity(t *testing.T) {
	buf, err := NewCircularBuffer[int](0)
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Capacity())
}

func TestCircularBuffer_ThreadSafety(t *testing.T) {
	buf, err := NewCircularBuffer[int](50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_ = buf.Write(w*1000 + i)
				_ = buf.Items()
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 50, buf.Size())
	assert.Equal(t, int64(1600), buf.Stats().Writes())
}

func TestCircularBuffer_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	buf, err := NewCircularBuffer[int](2, WithMetrics[int](registry, "events"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Write(i))
	}

	cb := buf.(*circularBuffer[int])
	require.NotNil(t, cb.metrics)
	assert.Equal(t, 3.0, testutil.ToFloat64(cb.metrics.writes))
	assert.Equal(t, 1.0, testutil.ToFloat64(cb.metrics.drops))
	assert.Equal(t, 1.0, testutil.ToFloat64(cb.metrics.utilization))

	// A second buffer with the same prefix collides.
	_, err = NewCircularBuffer[int](2, WithMetrics[int](registry, "events"))
	assert.Error(t, err)
}

func TestOverflowPolicy_String(t *testing.T) {
	assert.Equal(t, "DropOldest", DropOldest.String())
	assert.Equal(t, "DropNewest", DropNewest.String())
	assert.Equal(t, "Unknown", OverflowPolicy(42).String())
}
