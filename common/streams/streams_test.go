package streams

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStream(t *testing.T) (*miniredis.Miniredis, *Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewFromRedis(rdb, nil)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(context.Background(), "not-a-redis-url", nil)
	require.Error(t, err)
}

func TestEnsureGroup_Idempotent(t *testing.T) {
	_, c := setupTestStream(t)
	ctx := context.Background()

	require.NoError(t, c.EnsureGroup(ctx, "events:chatwoot", "cg:bot_runner"))

	// Publish one message and consume it so the group has a delivery cursor.
	_, err := c.Publish(ctx, "events:chatwoot", map[string]interface{}{"content": "hi"})
	require.NoError(t, err)

	msgs, err := c.Consume(ctx, "events:chatwoot", "cg:bot_runner", "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	// Second EnsureGroup must neither fail nor reset the cursor.
	require.NoError(t, c.EnsureGroup(ctx, "events:chatwoot", "cg:bot_runner"))

	again, err := c.Consume(ctx, "events:chatwoot", "cg:bot_runner", "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, again, "already-delivered message must not come back after EnsureGroup")
}

func TestPublishConsume_RoundTrip(t *testing.T) {
	_, c := setupTestStream(t)
	ctx := context.Background()

	require.NoError(t, c.EnsureGroup(ctx, "events:chatwoot", "cg:bot_runner"))

	fields := map[string]interface{}{
		"raw_event_id":    "42",
		"account_id":      "1",
		"inbox_id":        "3",
		"conversation_id": "9",
		"message_id":      "55",
		"message_type":    "incoming",
		"sender":          `{"id":7,"name":"Ana"}`,
		"content":         "hi",
		"created_at":      "2026-08-29T12:00:00Z",
	}
	id, err := c.Publish(ctx, "events:chatwoot", fields)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs, err := c.Consume(ctx, "events:chatwoot", "cg:bot_runner", "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.Equal(t, id, msgs[0].ID)
	for k, v := range fields {
		assert.Equal(t, v, msgs[0].Fields[k], "field %s must round-trip", k)
	}
}

func TestConsume_EmptyOnTimeout(t *testing.T) {
	_, c := setupTestStream(t)
	ctx := context.Background()

	require.NoError(t, c.EnsureGroup(ctx, "s", "g"))

	msgs, err := c.Consume(ctx, "s", "g", "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAck_RemovesPending(t *testing.T) {
	mr, c := setupTestStream(t)
	ctx := context.Background()

	require.NoError(t, c.EnsureGroup(ctx, "s", "g"))
	_, err := c.Publish(ctx, "s", map[string]interface{}{"content": "x"})
	require.NoError(t, err)

	msgs, err := c.Consume(ctx, "s", "g", "c1", 1, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, c.Ack(ctx, "s", "g", msgs[0].ID))

	// After ack nothing is pending for the group.
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	pending, err := rdb.XPending(ctx, "s", "g").Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}
