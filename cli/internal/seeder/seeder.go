// Package seeder generates realistic Chatwoot message_created webhook
// payloads for exercising the platform end to end.
package seeder

import (
	"encoding/json"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Options controls payload generation.
type Options struct {
	AccountID int64
	InboxID   int64
	// ConversationID pins every payload to one conversation. Zero picks a
	// random conversation per payload.
	ConversationID int64
}

// Payload is one generated webhook body, JSON-encoded, plus the identifiers
// picked for it so callers can report what was sent.
type Payload struct {
	Body           []byte
	MessageID      int64
	ConversationID int64
}

// Generate produces count message_created payloads.
func Generate(count int, opts Options) ([]Payload, error) {
	if opts.AccountID == 0 {
		opts.AccountID = 1
	}
	if opts.InboxID == 0 {
		opts.InboxID = 1
	}

	payloads := make([]Payload, 0, count)
	for i := 0; i < count; i++ {
		conversationID := opts.ConversationID
		if conversationID == 0 {
			conversationID = int64(gofakeit.Number(1, 5000))
		}
		messageID := int64(gofakeit.Number(100000, 999999))

		// event, account and message_type sit at the top level; the message
		// itself travels under the data envelope, like Chatwoot sends it.
		body := map[string]interface{}{
			"event":        "message_created",
			"message_type": "incoming",
			"account": map[string]interface{}{
				"id": opts.AccountID,
			},
			"data": map[string]interface{}{
				"id":         messageID,
				"content":    gofakeit.HipsterSentence(8),
				"private":    false,
				"created_at": time.Now().UTC().Format(time.RFC3339),
				"inbox": map[string]interface{}{
					"id": opts.InboxID,
				},
				"conversation": map[string]interface{}{
					"id":       conversationID,
					"inbox_id": opts.InboxID,
				},
				"sender": map[string]interface{}{
					"id":           gofakeit.Number(1, 10000),
					"name":         gofakeit.Name(),
					"phone_number": gofakeit.Phone(),
				},
			},
		}

		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, Payload{
			Body:           data,
			MessageID:      messageID,
			ConversationID: conversationID,
		})
	}
	return payloads, nil
}
