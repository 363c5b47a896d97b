package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/queue"
	"github.com/commstream/integration-pipeline/internal/worker"
)

type fakeAcker struct {
	mu     sync.Mutex
	acked  []string
	acking error
}

func (f *fakeAcker) DeleteMessage(_ context.Context, receiptHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acking != nil {
		return f.acking
	}
	f.acked = append(f.acked, receiptHandle)
	return nil
}

func (f *fakeAcker) ackedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acked)
}

func TestPool_SubmitAcksOnSuccess(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32
	acker := &fakeAcker{}

	p, err := worker.NewPool(worker.Config{PoolSize: 2, DrainTimeout: time.Second, JobTimeout: time.Second}, func(context.Context, queue.Message) error {
		handled.Add(1)
		return nil
	}, acker, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Start())

	require.NoError(t, p.Submit(context.Background(), &queue.Envelope{ReceiptHandle: "r1", Message: queue.NewProcessRunMessage("t1", "run-1")}))

	require.Eventually(t, func() bool { return handled.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return acker.ackedCount() == 1 }, time.Second, time.Millisecond)
}

func TestPool_SubmitDoesNotAckOnFailure(t *testing.T) {
	t.Parallel()

	acker := &fakeAcker{}
	done := make(chan struct{})

	p, err := worker.NewPool(worker.Config{PoolSize: 1, DrainTimeout: time.Second, JobTimeout: time.Second}, func(context.Context, queue.Message) error {
		defer close(done)
		return errors.New("handler failed")
	}, acker, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Start())

	require.NoError(t, p.Submit(context.Background(), &queue.Envelope{ReceiptHandle: "r1", Message: queue.NewProcessRunMessage("t1", "run-1")}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}

	require.Eventually(t, func() bool { return acker.ackedCount() == 0 }, 100*time.Millisecond, time.Millisecond)
}

func TestPool_SubmitBlocksWhenFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	p, err := worker.NewPool(worker.Config{PoolSize: 1, DrainTimeout: time.Second, JobTimeout: 5 * time.Second}, func(ctx context.Context, _ queue.Message) error {
		<-release
		return nil
	}, &fakeAcker{}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, p.Start())

	require.NoError(t, p.Submit(context.Background(), &queue.Envelope{ReceiptHandle: "r1", Message: queue.NewProcessRunMessage("t1", "run-1")}))
	require.Eventually(t, func() bool { return p.BusyCount() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = p.Submit(ctx, &queue.Envelope{ReceiptHandle: "r2", Message: queue.NewProcessRunMessage("t1", "run-2")})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}
