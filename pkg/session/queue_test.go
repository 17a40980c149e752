package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_AppliesInArrivalOrder(t *testing.T) {
	q := session.NewQueue(session.NewManager(memory.NewStore()))
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 20; i++ {
		err := q.Do(ctx, "s1", func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}

	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestQueue_SerializesConcurrentJobs(t *testing.T) {
	q := session.NewQueue(session.NewManager(memory.NewStore()))
	ctx := context.Background()

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(ctx, "s1", func(ctx context.Context) error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

func TestQueue_SessionsRunInParallel(t *testing.T) {
	q := session.NewQueue(session.NewManager(memory.NewStore()))
	ctx := context.Background()

	release := make(chan struct{})
	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Do(ctx, "slow", func(ctx context.Context) error {
			<-release
			return nil
		})
	}()

	done := make(chan error, 1)
	go func() {
		done <- q.Do(ctx, "fast", func(ctx context.Context) error { return nil })
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("a blocked session delayed another session")
	}
	close(release)
	assert.NoError(t, <-blocked)
}

func TestQueue_PropagatesErrorsAndExpiresWorkers(t *testing.T) {
	q := session.NewQueue(session.NewManager(memory.NewStore()), session.WithIdleTimeout(10*time.Millisecond))
	boom := errors.New("boom")

	err := q.Do(context.Background(), "s1", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.Eventually(t, func() bool { return q.Workers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestQueue_RecoversPanickingJob(t *testing.T) {
	q := session.NewQueue(session.NewManager(memory.NewStore()))
	ctx := context.Background()

	err := q.Do(ctx, "s1", func(ctx context.Context) error { panic("slice bounds out of range") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slice bounds out of range")

	// The worker and the session lock survive.
	ran := false
	require.NoError(t, q.Do(ctx, "s1", func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestQueue_CanceledContext(t *testing.T) {
	q := session.NewQueue(session.NewManager(memory.NewStore()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := q.Do(ctx, "s1", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
