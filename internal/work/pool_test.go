package work

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

func TestSubmitRunsJobAndCallsDoneOnce(t *testing.T) {
	pool := NewPool(2)

	var calls int32
	done := make(chan error, 1)
	pool.Submit(func(ctx context.Context) error {
		return nil
	}, func(err error) {
		atomic.AddInt32(&calls, 1)
		done <- err
	})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
	pool.Shutdown()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSubmitReportsJobError(t *testing.T) {
	pool := NewPool(1)

	wantErr := errors.New("boom")
	done := make(chan error, 1)
	pool.Submit(func(ctx context.Context) error {
		return wantErr
	}, func(err error) {
		done <- err
	})

	select {
	case err := <-done:
		assert.Equal(t, wantErr, err)
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
	pool.Shutdown()
}

func TestConcurrencyLimit(t *testing.T) {
	pool := NewPool(1)

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		pool.Submit(func(ctx context.Context) error {
			now := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if now <= old || atomic.CompareAndSwapInt32(&peak, old, now) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		}, func(error) { wg.Done() })
	}
	wg.Wait()
	pool.Shutdown()

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestShutdownSuppressesCallbacks(t *testing.T) {
	pool := NewPool(1)

	started := make(chan struct{})
	release := make(chan struct{})
	var called int32

	pool.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}, func(error) {
		atomic.AddInt32(&called, 1)
	})

	<-started
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	pool.Shutdown()

	assert.Equal(t, int32(0), atomic.LoadInt32(&called), "callback after shutdown must be suppressed")
}

func TestShutdownDrainsSubmittedJobs(t *testing.T) {
	pool := NewPool(1)

	var ran int32
	for i := 0; i < 5; i++ {
		pool.Submit(func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}, nil)
	}
	pool.Shutdown()

	assert.Equal(t, int32(5), atomic.LoadInt32(&ran), "jobs accepted before shutdown must still run")
}

func TestSubmitAfterShutdownIsDropped(t *testing.T) {
	pool := NewPool(1)
	pool.Shutdown()

	var ran int32
	pool.Submit(func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}, nil)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&ran))
}
