package dedupe

import (
	"context"
	"sync"
	"testing"

	"github.com/mohitkumar/eduflow/persistence/memory"
	"github.com/stretchr/testify/require"
)

func TestGuard(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(memory.NewMemoryStorage())

	_, done, err := g.AlreadyDone(ctx, "N2", "createLiveSession", "s-1|100")
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, g.MarkDone(ctx, "N2", "createLiveSession", "s-1|100", map[string]any{"sessionId": "s-1"}))
	require.NoError(t, g.MarkDone(ctx, "N2", "createLiveSession", "s-1|100", map[string]any{"sessionId": "s-2"}))

	result, done, err := g.AlreadyDone(ctx, "N2", "createLiveSession", "s-1|100")
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, map[string]any{"sessionId": "s-1"}, result)

	_, done, err = g.AlreadyDone(ctx, "N2", "createLiveSession", "s-1|200")
	require.NoError(t, err)
	require.False(t, done)
}

func TestGuardConcurrentMark(t *testing.T) {
	ctx := context.Background()
	g := NewGuard(memory.NewMemoryStorage())
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- g.MarkDone(ctx, "N5", "SEND_EMAIL", "run:k", nil)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	_, done, err := g.AlreadyDone(ctx, "N5", "SEND_EMAIL", "run:k")
	require.NoError(t, err)
	require.True(t, done)
}
