package lane

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m := NewManager(cfg)
	t.Cleanup(func() { _ = m.Close(2 * time.Second) })
	return m
}

func TestSubmit_SameKeyRunsSequentiallyInOrder(t *testing.T) {
	m := newTestManager(t, Config{MaxInFlight: 4, QueueSize: 8})

	var (
		mu      sync.Mutex
		order   []int
		running atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		require.NoError(t, m.Submit("chat-1", func(ctx context.Context) {
			defer wg.Done()
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			running.Add(-1)
		}))
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "jobs for one chat must not overlap")
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSubmit_DifferentKeysRunInParallel(t *testing.T) {
	m := newTestManager(t, Config{MaxInFlight: 2})

	started := make(chan string, 2)
	release := make(chan struct{})
	for _, key := range []string{"a", "b"} {
		key := key
		require.NoError(t, m.Submit(key, func(ctx context.Context) {
			started <- key
			<-release
		}))
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("jobs for different chats should start concurrently")
		}
	}
	assert.Equal(t, 2, m.InFlight())
	close(release)
}

func TestSubmit_MaxInFlightBoundsAllLanes(t *testing.T) {
	m := newTestManager(t, Config{MaxInFlight: 1})

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for _, key := range []string{"a", "b", "c"} {
		wg.Add(1)
		require.NoError(t, m.Submit(key, func(ctx context.Context) {
			defer wg.Done()
			n := running.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestSubmit_FullQueueRejects(t *testing.T) {
	m := newTestManager(t, Config{QueueSize: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, m.Submit("chat", func(ctx context.Context) {
		close(started)
		<-release
	}))
	<-started

	require.NoError(t, m.Submit("chat", func(ctx context.Context) {}))
	err := m.Submit("chat", func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrLaneFull)

	// other chats are unaffected
	assert.NoError(t, m.Submit("other", func(ctx context.Context) {}))
	close(release)
}

func TestIdleLaneIsRetired(t *testing.T) {
	m := newTestManager(t, Config{IdleTimeout: 50 * time.Millisecond})

	done := make(chan struct{})
	require.NoError(t, m.Submit("chat", func(ctx context.Context) { close(done) }))
	<-done

	require.Eventually(t, func() bool { return m.Lanes() == 0 }, 2*time.Second, 10*time.Millisecond)

	// a retired lane is recreated on demand
	again := make(chan struct{})
	require.NoError(t, m.Submit("chat", func(ctx context.Context) { close(again) }))
	select {
	case <-again:
	case <-time.After(2 * time.Second):
		t.Fatal("job on recreated lane did not run")
	}
}

func TestClose_CancelsRunningJobs(t *testing.T) {
	m := NewManager(Config{})

	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, m.Submit("chat", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	}))
	<-started

	require.NoError(t, m.Close(2*time.Second))
	select {
	case <-cancelled:
	default:
		t.Fatal("running job should observe cancellation before Close returns")
	}

	assert.ErrorIs(t, m.Submit("chat", func(ctx context.Context) {}), ErrClosed)
	assert.NoError(t, m.Close(time.Second), "Close is idempotent")
}

func TestPanickingJobDoesNotKillLane(t *testing.T) {
	m := newTestManager(t, Config{})

	require.NoError(t, m.Submit("chat", func(ctx context.Context) { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, m.Submit("chat", func(ctx context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lane should keep serving after a panic")
	}
}

func TestDrain_RunsQueuedJobs(t *testing.T) {
	m := newTestManager(t, Config{MaxInFlight: 1, QueueSize: 4})

	release := make(chan struct{})
	var ran atomic.Int32
	require.NoError(t, m.Submit("chat", func(ctx context.Context) {
		<-release
		ran.Add(1)
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Submit("chat", func(ctx context.Context) {
			if ctx.Err() == nil {
				ran.Add(1)
			}
		}))
	}
	require.NoError(t, m.Submit("other", func(ctx context.Context) { ran.Add(1) }))

	drained := make(chan error, 1)
	go func() { drained <- m.Drain(context.Background()) }()

	// Drain refuses new work right away.
	require.Eventually(t, func() bool {
		return errors.Is(m.Submit("late", func(ctx context.Context) {}), ErrClosed)
	}, time.Second, 5*time.Millisecond)

	close(release)
	select {
	case err := <-drained:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Drain did not return after queued jobs finished")
	}
	assert.Equal(t, int32(5), ran.Load())
	assert.Equal(t, 0, m.Lanes())
}

func TestDrain_ContextEndCancelsJobs(t *testing.T) {
	m := NewManager(Config{})

	started := make(chan struct{})
	require.NoError(t, m.Submit("chat", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, m.Close(2*time.Second))
}
