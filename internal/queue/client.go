package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamsClient is a thin wrapper over the redis Streams commands the
// pipeline's queues are built from: XADD, XREADGROUP, XACK, XPENDING, XCLAIM.
type StreamsClient struct {
	client *redis.Client
	prefix string
}

// ClientConfig configures a StreamsClient.
type ClientConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

func (c *ClientConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "pipeline"
	}
}

// NewStreamsClient dials redis and verifies connectivity with a ping.
func NewStreamsClient(ctx context.Context, cfg ClientConfig) (*StreamsClient, error) {
	cfg.setDefaults()
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rc.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &StreamsClient{client: rc, prefix: cfg.Prefix}, nil
}

// NewStreamsClientFromRedis wraps an already-constructed redis client, used
// when the process shares one connection across the queue and the cache.
func NewStreamsClientFromRedis(rc *redis.Client, prefix string) *StreamsClient {
	if prefix == "" {
		prefix = "pipeline"
	}
	return &StreamsClient{client: rc, prefix: prefix}
}

// StreamName returns the fully-qualified stream key for a worker stage.
func (c *StreamsClient) StreamName(stage string) string {
	return fmt.Sprintf("%s:%s", c.prefix, stage)
}

// CreateConsumerGroup creates the group at the start of the stream if it does
// not already exist. Re-running it is a no-op.
func (c *StreamsClient) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

// XAdd appends fields to a stream, returning the assigned message id.
func (c *StreamsClient) XAdd(ctx context.Context, stream string, fields map[string]any) (string, error) {
	id, err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// XReadGroup reads up to count new (">") messages for consumer within group.
func (c *StreamsClient) XReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XStream, error) {
	res, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", stream, err)
	}
	return res, nil
}

// XAck acknowledges message ids on group, removing them from the pending list.
func (c *StreamsClient) XAck(ctx context.Context, stream, group string, ids ...string) error {
	if err := c.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %s: %w", stream, err)
	}
	return nil
}

// XPendingExt returns up to count pending entries for group in [start, end].
func (c *StreamsClient) XPendingExt(ctx context.Context, stream, group, start, end string, count int64) ([]redis.XPendingExt, error) {
	res, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  start,
		End:    end,
		Count:  count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending %s: %w", stream, err)
	}
	return res, nil
}

// XClaim reassigns idle pending entries to consumer, returning the reclaimed
// messages. This is the mechanism behind the visibility timeout: an unacked
// message becomes reclaimable once it has been idle for minIdle.
func (c *StreamsClient) XClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]redis.XMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}
	return msgs, nil
}

// XLen returns the current length of a stream, used for queue-depth metrics.
func (c *StreamsClient) XLen(ctx context.Context, stream string) (int64, error) {
	n, err := c.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %w", stream, err)
	}
	return n, nil
}

// Close closes the underlying redis connection.
func (c *StreamsClient) Close() error {
	return c.client.Close()
}
