package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestPool(workers, queueSize int) *WorkerPool {
	return NewWorkerPool(WorkerPoolConfig{Workers: workers, QueueSize: queueSize}, zap.NewNop())
}

func TestWorkerPool_DispatchWait(t *testing.T) {
	p := newTestPool(2, 16)
	defer p.Close()

	var ran atomic.Bool
	err := p.DispatchWait(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran.Load())
}

func TestWorkerPool_TaskErrorPropagates(t *testing.T) {
	p := newTestPool(1, 4)
	defer p.Close()

	want := errors.New("boom")
	err := p.DispatchWait(context.Background(), func(ctx context.Context) error {
		return want
	})

	assert.ErrorIs(t, err, want)
}

func TestWorkerPool_PanicBecomesAborted(t *testing.T) {
	p := newTestPool(1, 4)
	defer p.Close()

	err := p.DispatchWait(context.Background(), func(ctx context.Context) error {
		panic("unexpected")
	})

	assert.ErrorIs(t, err, ErrTaskAborted)

	// The worker survives the panic and keeps serving tasks.
	err = p.DispatchWait(context.Background(), func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestWorkerPool_QueueFullRejects(t *testing.T) {
	p := newTestPool(1, 1)
	defer p.Close()

	block := make(chan struct{})
	// Occupy the single worker.
	_, err := p.Dispatch(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	})
	require.NoError(t, err)

	// Fill the single queue slot. The first Dispatch may still be in the
	// queue briefly, so retry until the worker has taken it.
	require.Eventually(t, func() bool {
		_, err := p.Dispatch(context.Background(), func(ctx context.Context) error {
			<-block
			return nil
		})
		return err == nil
	}, time.Second, 5*time.Millisecond)

	_, err = p.Dispatch(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)

	close(block)
}

func TestWorkerPool_NoCancellationOfDispatchedWork(t *testing.T) {
	p := newTestPool(1, 4)
	defer p.Close()

	started := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	result, err := p.Dispatch(ctx, func(taskCtx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		// The task context must survive the caller's cancellation.
		if taskCtx.Err() != nil {
			return taskCtx.Err()
		}
		close(finished)
		return nil
	})
	require.NoError(t, err)

	<-started
	cancel()

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("task did not complete")
	}

	select {
	case <-finished:
	default:
		t.Fatal("task observed caller cancellation")
	}
}

func TestWorkerPool_DispatchWaitReturnsOnCallerContext(t *testing.T) {
	p := newTestPool(1, 4)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.DispatchWait(ctx, func(taskCtx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorkerPool_CloseRejectsNewWork(t *testing.T) {
	p := newTestPool(2, 4)
	p.Close()

	_, err := p.Dispatch(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestWorkerPool_CloseDuringDispatchDoesNotPanic(t *testing.T) {
	p := newTestPool(4, 64)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := p.Dispatch(context.Background(), func(ctx context.Context) error { return nil })
				if errors.Is(err, ErrPoolClosed) {
					return
				}
			}
		}()
	}

	// Close races with in-flight submissions; none may land on a closed queue.
	time.Sleep(10 * time.Millisecond)
	p.Close()
	wg.Wait()
}

func TestWorkerPool_ConcurrentDispatch(t *testing.T) {
	p := newTestPool(8, 128)
	defer p.Close()

	var done atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.DispatchWait(context.Background(), func(ctx context.Context) error {
				done.Add(1)
				return nil
			}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), done.Load())
	stats := p.Stats()
	assert.Equal(t, int64(100), stats.Completed)
}
