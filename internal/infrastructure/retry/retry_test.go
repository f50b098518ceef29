package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo(t *testing.T) {
	fast := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	t.Run("first attempt succeeds", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fast, func(ctx context.Context) error {
			calls++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), fast, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		calls := 0
		lastErr := errors.New("still down")
		err := Do(context.Background(), fast, func(ctx context.Context) error {
			calls++
			if calls == fast.MaxAttempts {
				return lastErr
			}
			return errors.New("earlier failure")
		})
		assert.ErrorIs(t, err, lastErr)
		assert.Equal(t, fast.MaxAttempts, calls)
	})

	t.Run("never exceeds max attempts", func(t *testing.T) {
		calls := 0
		_ = Do(context.Background(), Policy{MaxAttempts: 5, BaseDelay: time.Millisecond}, func(ctx context.Context) error {
			calls++
			return errors.New("always")
		})
		assert.Equal(t, 5, calls)
	})

	t.Run("linear backoff between attempts", func(t *testing.T) {
		base := 20 * time.Millisecond
		start := time.Now()
		_ = Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: base}, func(ctx context.Context) error {
			return errors.New("always")
		})
		// waits: base*1 + base*2 = 3*base
		elapsed := time.Since(start)
		assert.GreaterOrEqual(t, elapsed, 3*base)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Do(ctx, Policy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}, func(ctx context.Context) error {
			calls++
			cancel()
			return errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero policy falls back to defaults", func(t *testing.T) {
		p := Policy{}
		p.ApplyDefaults()
		assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
		assert.Equal(t, DefaultBaseDelay, p.BaseDelay)
	})
}

func TestBatch(t *testing.T) {
	t.Run("even split", func(t *testing.T) {
		got := Batch([]int{1, 2, 3, 4}, 2)
		assert.Equal(t, [][]int{{1, 2}, {3, 4}}, got)
	})

	t.Run("final partial chunk", func(t *testing.T) {
		got := Batch([]int{1, 2, 3, 4, 5}, 2)
		assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, got)
	})

	t.Run("size larger than input", func(t *testing.T) {
		got := Batch([]int{1, 2}, 50)
		assert.Equal(t, [][]int{{1, 2}}, got)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, Batch([]int{}, 3))
		assert.Nil(t, Batch[int](nil, 3))
	})

	t.Run("non-positive size yields one chunk", func(t *testing.T) {
		got := Batch([]int{1, 2, 3}, 0)
		assert.Equal(t, [][]int{{1, 2, 3}}, got)
	})

	t.Run("order preserved across chunks", func(t *testing.T) {
		items := make([]int, 17)
		for i := range items {
			items[i] = i
		}
		var flat []int
		for _, chunk := range Batch(items, 4) {
			flat = append(flat, chunk...)
		}
		assert.Equal(t, items, flat)
	})
}

func TestForEachBatch(t *testing.T) {
	t.Run("sequential chunk processing", func(t *testing.T) {
		var seen [][]string
		err := ForEachBatch(context.Background(), []string{"a", "b", "c"}, 2, func(ctx context.Context, batch []string) error {
			seen = append(seen, batch)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, seen)
	})

	t.Run("stops at first error", func(t *testing.T) {
		boom := errors.New("boom")
		calls := 0
		err := ForEachBatch(context.Background(), []int{1, 2, 3, 4}, 1, func(ctx context.Context, batch []int) error {
			calls++
			if calls == 2 {
				return boom
			}
			return nil
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 2, calls)
	})
}
