package worker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/commstream/integration-pipeline/internal/platform/logger"
	"github.com/commstream/integration-pipeline/internal/queue"
	"github.com/commstream/integration-pipeline/internal/worker"
)

type fakeReceiver struct {
	messages chan *queue.Envelope
}

func (f *fakeReceiver) Receive(ctx context.Context) (*queue.Envelope, error) {
	select {
	case env := <-f.messages:
		return env, nil
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestRunner_ProcessesReceivedMessages(t *testing.T) {
	t.Parallel()

	var handled atomic.Int32
	p, err := worker.NewPool(worker.Config{PoolSize: 2, DrainTimeout: time.Second, JobTimeout: time.Second}, func(context.Context, queue.Message) error {
		handled.Add(1)
		return nil
	}, &fakeAcker{}, logger.NewNop())
	require.NoError(t, err)

	recv := &fakeReceiver{messages: make(chan *queue.Envelope, 1)}
	recv.messages <- &queue.Envelope{ReceiptHandle: "r1", Message: queue.NewProcessRunMessage("t1", "run-1")}

	runner := worker.NewRunner(recv, p, logger.NewNop(), 5*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = runner.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), handled.Load())
}
