package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunExclusiveMutualExclusion(t *testing.T) {
	a := NewArbiter()

	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := a.RunExclusive(context.Background(), "op", func(context.Context) error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInFlight, "critical sections overlapped")
}

func TestQueuedAcquiresRunInSubmissionOrder(t *testing.T) {
	a := NewArbiter()

	first, err := a.Acquire(context.Background())
	require.NoError(t, err)

	var mu sync.Mutex
	var order []int
	started := make(chan struct{}, 4)
	done := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			started <- struct{}{}
			err := a.RunExclusive(context.Background(), "queued", func(context.Context) error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}(i)
		<-started
		// Give the goroutine time to join the queue before the next one.
		time.Sleep(10 * time.Millisecond)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	a.Release(first)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued operations never ran")
	}

	assert.Equal(t, []int{0, 1, 2, 3}, order)
}

func TestOperationErrorReachesCallerAndQueueAdvances(t *testing.T) {
	a := NewArbiter()
	boom := errors.New("lens cap on")

	err := a.RunExclusive(context.Background(), "broken", func(context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	// The failure above must not wedge the arbiter.
	err = a.RunExclusive(context.Background(), "after", func(context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestDoubleReleaseIsNoOp(t *testing.T) {
	a := NewArbiter()

	l, err := a.Acquire(context.Background())
	require.NoError(t, err)

	a.Release(l)
	a.Release(l)

	// A double release must not fabricate a free slot for a waiter that
	// does not exist, nor corrupt the busy flag.
	l2, err := a.Acquire(context.Background())
	require.NoError(t, err)
	a.Release(l2)
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	a := NewArbiter()

	held, err := a.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = a.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	a.Release(held)

	// The cancelled waiter must have left the queue.
	l, err := a.Acquire(context.Background())
	require.NoError(t, err)
	a.Release(l)
}
