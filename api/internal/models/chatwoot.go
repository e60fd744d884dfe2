package models

import (
	"encoding/json"
	"time"
)

// RawEvent is the immutable audit record of one inbound Chatwoot webhook
// call. A row is written for every call that passes token validation, even
// for event types the platform ignores. The only mutation ever applied is
// MarkInvalid after a post-hoc extraction or publish failure.
type RawEvent struct {
	ID              int64           `json:"id"`
	ReceivedAt      time.Time       `json:"received_at"`
	EventName       *string         `json:"event_name,omitempty"`
	AccountID       *int64          `json:"account_id,omitempty"`
	InboxID         *int64          `json:"inbox_id,omitempty"`
	ConversationID  *int64          `json:"conversation_id,omitempty"`
	MessageID       *int64          `json:"message_id,omitempty"`
	PayloadJSON     json.RawMessage `json:"payload_json"`
	HeadersJSON     json.RawMessage `json:"headers_json,omitempty"`
	IsValid         bool            `json:"is_valid"`
	ValidationError *string         `json:"validation_error,omitempty"`
}

// StreamSender is the sender block carried inside a stream record.
type StreamSender struct {
	ID          *int64  `json:"id"`
	Name        *string `json:"name"`
	PhoneNumber *string `json:"phone_number"`
}

// StreamEvent is the normalized projection published onto the event stream
// for each message_created webhook. It exists only in transit; the durable
// record is the RawEvent it references.
type StreamEvent struct {
	RawEventID     int64        `json:"raw_event_id"`
	AccountID      *int64       `json:"account_id"`
	InboxID        *int64       `json:"inbox_id"`
	ConversationID *int64       `json:"conversation_id"`
	MessageID      *int64       `json:"message_id"`
	MessageType    *string      `json:"message_type"`
	Sender         StreamSender `json:"sender"`
	Content        *string      `json:"content"`
	CreatedAt      time.Time    `json:"created_at"`
}
