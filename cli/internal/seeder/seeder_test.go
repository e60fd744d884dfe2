package seeder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_PayloadShape(t *testing.T) {
	payloads, err := Generate(3, Options{AccountID: 4, InboxID: 7})
	require.NoError(t, err)
	require.Len(t, payloads, 3)

	for _, p := range payloads {
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(p.Body, &body))

		assert.Equal(t, "message_created", body["event"])
		assert.Equal(t, "incoming", body["message_type"])

		account := body["account"].(map[string]interface{})
		assert.EqualValues(t, 4, account["id"])

		data := body["data"].(map[string]interface{})
		assert.EqualValues(t, p.MessageID, data["id"])
		assert.NotEmpty(t, data["content"])

		conversation := data["conversation"].(map[string]interface{})
		assert.EqualValues(t, 7, conversation["inbox_id"])
		assert.EqualValues(t, p.ConversationID, conversation["id"])

		sender := data["sender"].(map[string]interface{})
		assert.NotEmpty(t, sender["name"])
	}
}

func TestGenerate_PinnedConversation(t *testing.T) {
	payloads, err := Generate(5, Options{ConversationID: 42})
	require.NoError(t, err)

	for _, p := range payloads {
		assert.Equal(t, int64(42), p.ConversationID)
	}
}

func TestGenerate_UniqueMessageIDsAcrossBatch(t *testing.T) {
	payloads, err := Generate(20, Options{})
	require.NoError(t, err)

	seen := map[int64]bool{}
	distinct := 0
	for _, p := range payloads {
		if !seen[p.MessageID] {
			distinct++
		}
		seen[p.MessageID] = true
	}
	// Random ids over a wide range; a fully colliding batch means the
	// generator is broken.
	assert.Greater(t, distinct, 1)
}
