package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures a Queue instance for one worker stage.
type Config struct {
	Stage             string // e.g. "runs", "streams", "data"
	ConsumerGroup     string
	ConsumerID        string
	VisibilityTimeout time.Duration
	ReceiveBlock      time.Duration
	MaxReceiveCount   int64
}

func (c *Config) setDefaults() {
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "workers"
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 30 * time.Second
	}
	if c.ReceiveBlock <= 0 {
		c.ReceiveBlock = time.Second
	}
	if c.MaxReceiveCount <= 0 {
		c.MaxReceiveCount = 100
	}
}

// Queue is a FIFO work queue for a single worker stage (run, stream or data),
// backed by a redis stream and consumer group. Group id is the tenant id: it
// travels in the message body rather than partitioning the stream, since a
// single consumer group already gives at-least-once, ordered-per-consumer
// delivery without needing one stream per tenant.
type Queue struct {
	client *StreamsClient
	cfg    Config
	stream string
	seq    atomic.Int64
}

// New constructs a Queue for one stage. Call Init before Send/Receive.
func New(client *StreamsClient, cfg Config) *Queue {
	cfg.setDefaults()
	return &Queue{
		client: client,
		cfg:    cfg,
		stream: client.StreamName(cfg.Stage),
	}
}

// Init creates the backing stream and consumer group if they do not exist.
// It is safe to call on every process startup.
func (q *Queue) Init(ctx context.Context) error {
	return q.client.CreateConsumerGroup(ctx, q.stream, q.cfg.ConsumerGroup)
}

// Send enqueues message under groupID (the tenant id), returning the dedup id
// assigned to the write. The dedup id is groupID plus a monotonic counter, so
// repeated sends within the same process never collide even within the same
// millisecond.
func (q *Queue) Send(ctx context.Context, groupID string, msg Message) (string, error) {
	msg.GroupID = groupID
	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	dedupID := groupID + "-" + strconv.FormatInt(q.seq.Add(1), 10) + "-" + strconv.FormatInt(time.Now().UnixNano(), 10)

	_, err = q.client.XAdd(ctx, q.stream, map[string]any{
		"body":    body,
		"groupId": groupID,
		"dedupId": dedupID,
	})
	if err != nil {
		return "", err
	}
	return dedupID, nil
}

// Receive long-polls for a single message, blocking up to the configured
// receive block interval. It first tries to reclaim a message whose
// visibility timeout has expired, then falls back to reading new entries.
// A nil, nil result means no message was available this poll.
func (q *Queue) Receive(ctx context.Context) (*Envelope, error) {
	if env, err := q.reclaimOne(ctx); err != nil {
		return nil, err
	} else if env != nil {
		return env, nil
	}

	streams, err := q.client.XReadGroup(ctx, q.stream, q.cfg.ConsumerGroup, q.cfg.ConsumerID, 1, q.cfg.ReceiveBlock)
	if err != nil {
		return nil, err
	}
	for _, s := range streams {
		for _, m := range s.Messages {
			return decodeMessage(m)
		}
	}
	return nil, nil
}

// DeleteMessage acknowledges receiptHandle, removing it from the pending
// entries list. Failing to call this before the visibility timeout elapses
// makes the message eligible for redelivery.
func (q *Queue) DeleteMessage(ctx context.Context, receiptHandle string) error {
	return q.client.XAck(ctx, q.stream, q.cfg.ConsumerGroup, receiptHandle)
}

// reclaimOne looks for one pending entry idle longer than the visibility
// timeout and claims it for this consumer, mirroring SQS message redelivery
// after a visibility timeout expiry.
func (q *Queue) reclaimOne(ctx context.Context) (*Envelope, error) {
	const scanLimit = 50

	pending, err := q.client.XPendingExt(ctx, q.stream, q.cfg.ConsumerGroup, "-", "+", scanLimit)
	if err != nil {
		return nil, err
	}

	var candidate string
	for _, p := range pending {
		if p.Idle >= q.cfg.VisibilityTimeout {
			candidate = p.ID
			break
		}
	}
	if candidate == "" {
		return nil, nil
	}

	msgs, err := q.client.XClaim(ctx, q.stream, q.cfg.ConsumerGroup, q.cfg.ConsumerID, q.cfg.VisibilityTimeout, []string{candidate})
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return decodeMessage(msgs[0])
}

// QueueDepth reports the current stream length, for health/metrics reporting.
func (q *Queue) QueueDepth(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.stream)
}

func decodeMessage(m redis.XMessage) (*Envelope, error) {
	raw, ok := m.Values["body"]
	if !ok {
		return nil, fmt.Errorf("message %s missing body field", m.ID)
	}
	var body []byte
	switch v := raw.(type) {
	case string:
		body = []byte(v)
	case []byte:
		body = v
	default:
		return nil, fmt.Errorf("message %s has non-string body", m.ID)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal message %s: %w", m.ID, err)
	}
	return &Envelope{ReceiptHandle: m.ID, Message: msg}, nil
}
