package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/commstream/integration-pipeline/internal/queue"
)

func newTestQueue(t *testing.T, cfg queue.Config) (*queue.Queue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })

	client := queue.NewStreamsClientFromRedis(rc, "pipeline-test")
	q := queue.New(client, cfg)
	require.NoError(t, q.Init(context.Background()))
	return q, mr
}

func TestQueue_SendReceiveDelete(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, queue.Config{
		Stage:      "streams",
		ConsumerID: "worker-1",
	})
	ctx := context.Background()

	_, err := q.Send(ctx, "tenant-1", queue.NewProcessStreamMessage("tenant-1", "stream-1"))
	require.NoError(t, err)

	env, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, env)
	require.Equal(t, queue.MessageTypeProcessStream, env.Message.Type)
	require.Equal(t, "stream-1", env.Message.StreamID)
	require.Equal(t, "tenant-1", env.Message.GroupID)

	require.NoError(t, q.DeleteMessage(ctx, env.ReceiptHandle))

	empty, err := q.Receive(ctx)
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestQueue_ReceiveReclaimsAfterVisibilityTimeout(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, queue.Config{
		Stage:             "data",
		ConsumerID:        "worker-1",
		VisibilityTimeout: 10 * time.Millisecond,
		ReceiveBlock:      10 * time.Millisecond,
	})
	ctx := context.Background()

	_, err := q.Send(ctx, "tenant-2", queue.NewProcessDataMessage("tenant-2", "data-1"))
	require.NoError(t, err)

	first, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Do not ack. Once the visibility timeout has elapsed the same message
	// must be redelivered via reclaim rather than lost.
	time.Sleep(20 * time.Millisecond)

	second, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, "data-1", second.Message.DataID)
}

func TestQueue_SendAssignsUniqueDedupIDs(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, queue.Config{Stage: "runs", ConsumerID: "worker-1"})
	ctx := context.Background()

	idA, err := q.Send(ctx, "tenant-1", queue.NewProcessRunMessage("tenant-1", "run-1"))
	require.NoError(t, err)
	idB, err := q.Send(ctx, "tenant-1", queue.NewProcessRunMessage("tenant-1", "run-2"))
	require.NoError(t, err)

	require.NotEqual(t, idA, idB)
}

func TestQueue_QueueDepth(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t, queue.Config{Stage: "runs", ConsumerID: "worker-1"})
	ctx := context.Background()

	depth, err := q.QueueDepth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)

	_, err = q.Send(ctx, "tenant-1", queue.NewProcessRunMessage("tenant-1", "run-1"))
	require.NoError(t, err)

	depth, err = q.QueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth)
}
