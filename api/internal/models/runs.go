package models

import (
	"encoding/json"
	"time"
)

// Run statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusSkipped = "skipped"
)

// Run sources.
const (
	RunSourceChatwoot = "chatwoot"
	RunSourceManual   = "manual"
)

// RunEvent types.
const (
	RunEventStart   = "run_start"
	RunEventSuccess = "run_success"
	RunEventFailed  = "run_failed"
	RunEventSkipped = "run_skipped"
)

// Run is one end-to-end execution attempt of a crew version against an input.
type Run struct {
	ID             string     `json:"id"`
	CrewVersionID  *int64     `json:"crew_version_id,omitempty"`
	RawEventID     *int64     `json:"raw_event_id,omitempty"`
	Source         string     `json:"source"`
	ConversationID *string    `json:"conversation_id,omitempty"`
	Status         string     `json:"status"`
	ResultOutput   *string    `json:"result_output,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// RunEvent is one entry of a run's append-only event log. Seq is a per-run
// monotonic counter; OccurredAt is for display only and is not a safe order.
type RunEvent struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	Seq         int             `json:"seq"`
	OccurredAt  time.Time       `json:"occurred_at"`
	EventType   string          `json:"event_type"`
	PayloadJSON json.RawMessage `json:"payload_json"`
}

// RunDetail is a run joined with its event log in sequence order.
type RunDetail struct {
	Run
	Events []*RunEvent `json:"events"`
}

// ListRunsRequest filters the run listing.
type ListRunsRequest struct {
	Source         string
	Status         string
	ConversationID string
	Limit          int
}
