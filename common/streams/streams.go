// Package streams wraps the Redis stream primitives used to move chat events
// between the webhook receiver and the bot runner.
//
// The transport contract is a durable, ordered log with consumer-group
// semantics: competing consumers, per-message acknowledgment, and redelivery
// of unacknowledged messages. Everything here is a thin layer over XADD,
// XGROUP CREATE, XREADGROUP and XACK.
package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is one entry read from a stream: the broker-assigned ID plus the
// flat field map published with Publish.
type Message struct {
	ID     string
	Fields map[string]string
}

// Client is a Redis-stream transport handle shared by publishers and
// consumers.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New connects to Redis using a redis:// URL and verifies the connection.
func New(ctx context.Context, redisURL string, logger *slog.Logger) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Client{rdb: rdb, logger: logger}, nil
}

// NewFromRedis wraps an existing Redis connection. Used by tests and by
// services that already hold a client.
func NewFromRedis(rdb *redis.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{rdb: rdb, logger: logger}
}

// EnsureGroup idempotently creates the consumer group on the stream, creating
// the stream itself if absent (MKSTREAM). The group starts at "$" so a freshly
// created group never replays pre-existing backlog. A group that already
// exists (BUSYGROUP) is not an error.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			c.logger.Info("consumer group already exists", "stream", stream, "group", group)
			return nil
		}
		return fmt.Errorf("failed to create consumer group %q on %q: %w", group, stream, err)
	}

	c.logger.Info("created consumer group", "stream", stream, "group", group)
	return nil
}

// Publish appends a flat field map to the stream and returns the broker-assigned
// message ID.
func (c *Client) Publish(ctx context.Context, stream string, fields map[string]interface{}) (string, error) {
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish to stream %q: %w", stream, err)
	}

	c.logger.Debug("published stream message", "stream", stream, "message_id", id)
	return id, nil
}

// Consume performs one blocking read of up to count new messages for the named
// consumer within the group. A block timeout without traffic returns an empty
// slice and no error, so callers can loop without treating quiet periods as
// failures.
func (c *Client) Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream %q: %w", stream, err)
	}

	var messages []Message
	for _, streamRes := range res {
		for _, m := range streamRes.Messages {
			fields := make(map[string]string, len(m.Values))
			for k, v := range m.Values {
				if s, ok := v.(string); ok {
					fields[k] = s
				} else {
					fields[k] = fmt.Sprint(v)
				}
			}
			messages = append(messages, Message{ID: m.ID, Fields: fields})
		}
	}
	return messages, nil
}

// Ack acknowledges a processed message for the group.
func (c *Client) Ack(ctx context.Context, stream, group, messageID string) error {
	if err := c.rdb.XAck(ctx, stream, group, messageID).Err(); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", messageID, err)
	}
	c.logger.Debug("acked stream message", "stream", stream, "group", group, "message_id", messageID)
	return nil
}

// Close releases the underlying Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
