package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/federicodip/GraphRag/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchIterator(t *testing.T) {
	ids := []string{"1", "2", "3", "4", "5"}

	it := NewBatchIterator(ids, 2)
	assert.Equal(t, 3, it.Count())

	var batches [][]string
	for {
		batch, ok := it.Next()
		if !ok {
			break
		}
		batches = append(batches, batch)
	}
	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}, {"5"}}, batches)

	_, ok := it.Next()
	assert.False(t, ok, "Expected iterator to stay exhausted")

	empty := NewBatchIterator(nil, 40)
	assert.Zero(t, empty.Count())
	_, ok = empty.Next()
	assert.False(t, ok)

	single := NewBatchIterator(ids, 0)
	assert.Equal(t, 5, single.Count())
}

func TestPacer(t *testing.T) {
	ctx := context.Background()

	t.Run("Calls are spaced by the minimum delay", func(t *testing.T) {
		minDelay := 40 * time.Millisecond
		pacer := NewPacer(model.Pacing{MinDelay: minDelay})

		start := time.Now()
		for i := 0; i < 3; i++ {
			require.NoError(t, pacer.Wait(ctx))
		}
		assert.GreaterOrEqual(t, time.Since(start), 2*minDelay-5*time.Millisecond)
	})

	t.Run("Zero delay never blocks", func(t *testing.T) {
		pacer := NewPacer(model.Pacing{})
		start := time.Now()
		for i := 0; i < 100; i++ {
			require.NoError(t, pacer.Wait(ctx))
		}
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("Deferred pause is honoured", func(t *testing.T) {
		pacer := NewPacer(model.Pacing{})
		pacer.Defer(50 * time.Millisecond)
		pacer.Defer(10 * time.Millisecond)

		start := time.Now()
		require.NoError(t, pacer.Wait(ctx))
		assert.GreaterOrEqual(t, time.Since(start), 45*time.Millisecond)
	})

	t.Run("Minimum delay counts from the end of a call", func(t *testing.T) {
		minDelay := 40 * time.Millisecond
		pacer := NewPacer(model.Pacing{MinDelay: minDelay})

		require.NoError(t, pacer.Wait(ctx))
		time.Sleep(60 * time.Millisecond) // a slow response outlasting the rate limit
		pacer.Done()

		done := time.Now()
		require.NoError(t, pacer.Wait(ctx))
		assert.GreaterOrEqual(t, time.Since(done), minDelay-5*time.Millisecond)
	})

	t.Run("Done without delay never blocks", func(t *testing.T) {
		pacer := NewPacer(model.Pacing{})
		pacer.Done()
		start := time.Now()
		require.NoError(t, pacer.Wait(ctx))
		assert.Less(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("Cancelled wait returns the context error", func(t *testing.T) {
		pacer := NewPacer(model.Pacing{})
		pacer.Defer(time.Hour)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		assert.ErrorIs(t, pacer.Wait(cancelled), context.Canceled)
	})
}
