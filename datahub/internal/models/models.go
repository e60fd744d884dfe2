// Package models holds the staging-row shapes the data hub mirrors from the
// Chatwoot REST API into Postgres.
package models

import (
	"encoding/json"
	"time"
)

// Conversation is one row of stg_conversations.
type Conversation struct {
	ConversationID int64
	AccountID      int64
	InboxID        int64
	Status         string
	AssigneeID     *int64
	ContactID      *int64
	CreatedAt      *time.Time
	UpdatedAt      *time.Time
	Payload        json.RawMessage
}

// Message is one row of stg_messages.
type Message struct {
	MessageID      int64
	ConversationID int64
	AccountID      int64
	InboxID        int64
	MessageType    int
	Content        string
	Private        bool
	SenderType     *string
	SenderID       *int64
	CreatedAt      *time.Time
	UpdatedAt      *time.Time
	Payload        json.RawMessage
}

// ReportingEvent is one row of stg_reporting_events.
type ReportingEvent struct {
	ReportingEventID          int64
	AccountID                 int64
	ConversationID            *int64
	InboxID                   *int64
	UserID                    *int64
	Name                      string
	ValueSeconds              int64
	ValueBusinessHoursSeconds int64
	EventStartTime            *time.Time
	EventEndTime              *time.Time
	CreatedAt                 *time.Time
	Payload                   json.RawMessage
}

// ConversationBundle groups everything fetched for one conversation so the
// repository can write it in a single transaction with the rest of its page.
type ConversationBundle struct {
	Conversation    Conversation
	Messages        []Message
	ReportingEvents []ReportingEvent
}

// BacklogRow is one inbox/status count inside a backlog snapshot.
type BacklogRow struct {
	SnapshotTS time.Time
	InboxID    int64
	Status     string
	Count      int64
}
