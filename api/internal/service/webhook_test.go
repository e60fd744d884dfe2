package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/repository"
	"github.com/ecocrm-platform/ecocrm-stack/common/streams"
)

const testStream = "ecocrm:events"

func setupWebhookService(t *testing.T) (*WebhookService, *repository.MemoryRepository, *streams.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	broker := streams.NewFromRedis(rdb, slog.Default())
	repo := repository.NewMemoryRepository()
	svc := NewWebhookService(repo, broker, testStream, slog.Default())
	return svc, repo, broker
}

func messageCreatedBody() []byte {
	return []byte(`{
		"event": "message_created",
		"message_type": "incoming",
		"account": {"id": 1},
		"data": {
			"id": 55,
			"content": "hello there",
			"created_at": "2026-08-29T10:00:00Z",
			"inbox": {"id": 7},
			"conversation": {"id": 300},
			"sender": {"id": 12, "name": "Ada", "phone_number": "+15550100"}
		}
	}`)
}

func TestProcess_MessageCreatedPublishes(t *testing.T) {
	svc, repo, broker := setupWebhookService(t)
	ctx := context.Background()

	require.NoError(t, broker.EnsureGroup(ctx, testStream, "test-group"))

	result, err := svc.Process(ctx, messageCreatedBody(), map[string]string{"User-Agent": "Chatwoot"})
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)
	require.NotNil(t, result.MessageID)
	assert.Equal(t, int64(55), *result.MessageID)

	raw, err := repo.GetRawEvent(ctx, 1)
	require.NoError(t, err)
	assert.True(t, raw.IsValid)
	require.NotNil(t, raw.EventName)
	assert.Equal(t, "message_created", *raw.EventName)
	require.NotNil(t, raw.ConversationID)
	assert.Equal(t, int64(300), *raw.ConversationID)

	msgs, err := broker.Consume(ctx, testStream, "test-group", "c1", 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	fields := msgs[0].Fields
	assert.Equal(t, "1", fields["raw_event_id"])
	assert.Equal(t, "300", fields["conversation_id"])
	assert.Equal(t, "55", fields["message_id"])
	assert.Equal(t, "incoming", fields["message_type"])
	assert.Equal(t, "hello there", fields["content"])

	var sender map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(fields["sender"]), &sender))
	assert.Equal(t, "Ada", sender["name"])
}

func TestProcess_MinimalEnvelopedBody(t *testing.T) {
	svc, _, broker := setupWebhookService(t)
	ctx := context.Background()
	require.NoError(t, broker.EnsureGroup(ctx, testStream, "test-group"))

	body := []byte(`{"event":"message_created","data":{"id":55,"conversation":{"id":9},"content":"hi"}}`)
	result, err := svc.Process(ctx, body, nil)
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)
	require.NotNil(t, result.MessageID)
	assert.Equal(t, int64(55), *result.MessageID)

	msgs, err := broker.Consume(ctx, testStream, "test-group", "c1", 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "55", msgs[0].Fields["message_id"])
	assert.Equal(t, "9", msgs[0].Fields["conversation_id"])
	assert.Equal(t, "hi", msgs[0].Fields["content"])
}

func TestProcess_IgnoredEventPersistsWithoutPublish(t *testing.T) {
	svc, repo, broker := setupWebhookService(t)
	ctx := context.Background()
	require.NoError(t, broker.EnsureGroup(ctx, testStream, "test-group"))

	body := []byte(`{"event": "conversation_updated", "conversation": {"id": 9}}`)
	result, err := svc.Process(ctx, body, nil)
	require.NoError(t, err)
	assert.Equal(t, WebhookIgnored, result.Status)
	assert.Nil(t, result.MessageID)

	raw, err := repo.GetRawEvent(ctx, 1)
	require.NoError(t, err)
	assert.True(t, raw.IsValid)

	msgs, err := broker.Consume(ctx, testStream, "test-group", "c1", 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestProcess_MalformedBodyStoredAsInvalid(t *testing.T) {
	svc, repo, _ := setupWebhookService(t)
	ctx := context.Background()

	result, err := svc.Process(ctx, []byte(`{"event": "message_created"`), nil)
	require.NoError(t, err)
	assert.Equal(t, WebhookInvalid, result.Status)

	raw, err := repo.GetRawEvent(ctx, 1)
	require.NoError(t, err)
	assert.False(t, raw.IsValid)
	require.NotNil(t, raw.ValidationError)
}

func TestProcess_MissingOptionalBlocks(t *testing.T) {
	svc, _, broker := setupWebhookService(t)
	ctx := context.Background()
	require.NoError(t, broker.EnsureGroup(ctx, testStream, "test-group"))

	// No sender, no inbox, no content. Extraction must not panic and the
	// record carries empty strings for the absent fields.
	body := []byte(`{"event": "message_created", "data": {"id": 90, "conversation": {"id": 14, "inbox_id": 3}}}`)
	result, err := svc.Process(ctx, body, nil)
	require.NoError(t, err)
	assert.Equal(t, WebhookProcessed, result.Status)

	msgs, err := broker.Consume(ctx, testStream, "test-group", "c1", 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "", msgs[0].Fields["content"])
	assert.Equal(t, "3", msgs[0].Fields["inbox_id"])
	assert.Equal(t, "14", msgs[0].Fields["conversation_id"])
}
