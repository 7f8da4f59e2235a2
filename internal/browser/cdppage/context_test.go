package cdppage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCombineContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "target"

	t.Run("inherits values from the tab", func(t *testing.T) {
		tabCtx := context.WithValue(context.Background(), key, "tab-1")
		combined, cancel := combineContext(tabCtx, context.Background())
		defer cancel()

		assert.Equal(t, "tab-1", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("cancelled by the tab", func(t *testing.T) {
		tabCtx, cancelTab := context.WithCancel(context.Background())
		combined, cancel := combineContext(tabCtx, context.Background())
		defer cancel()

		cancelTab()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("cancelled by the call", func(t *testing.T) {
		callCtx, cancelCall := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancelCall()
		combined, cancel := combineContext(context.Background(), callCtx)
		defer cancel()

		assert.Eventually(t, func() bool {
			return combined.Err() != nil
		}, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, callCtx.Err(), context.DeadlineExceeded)
	})
}

func TestSleep(t *testing.T) {
	assert.NoError(t, sleep(context.Background(), 0))
	assert.NoError(t, sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
}
