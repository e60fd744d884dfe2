// Package models holds the bot runner's view of runs, crew snapshots and
// inbound stream records.
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
	// RunStatusSkipped marks a run that had nothing to execute, such as a
	// message arriving before any crew version was published.
	RunStatusSkipped = "skipped"
)

// RunEvent types.
const (
	RunEventStart   = "run_start"
	RunEventSuccess = "run_success"
	RunEventFailed  = "run_failed"
	RunEventSkipped = "run_skipped"
)

// Run is one execution attempt of a crew version against an inbound message.
type Run struct {
	ID             string
	CrewVersionID  *int64
	RawEventID     *int64
	Source         string
	ConversationID *string
	Status         string
	ResultOutput   *string
	CreatedAt      time.Time
	FinishedAt     *time.Time
}

// RunEvent is one entry of a run's append-only log. Seq is assigned by the
// repository and is the only safe ordering key.
type RunEvent struct {
	ID          string
	RunID       string
	Seq         int
	OccurredAt  time.Time
	EventType   string
	PayloadJSON json.RawMessage
}

// CrewVersion is a published, immutable crew snapshot.
type CrewVersion struct {
	ID           int64
	CrewID       int64
	VersionTag   string
	SnapshotJSON json.RawMessage
	CreatedAt    time.Time
}

// Snapshot is the self-contained execution document inside a CrewVersion.
type Snapshot struct {
	Crew   SnapshotCrew    `json:"crew"`
	Tasks  []SnapshotTask  `json:"tasks"`
	Agents []SnapshotAgent `json:"agents"`
	Flow   []int64         `json:"flow"`
}

type SnapshotCrew struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Process string `json:"process"`
	ModelID *int64 `json:"model_id"`
}

type SnapshotTask struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	ExpectedOutput *string `json:"expected_output"`
	AgentID        *int64  `json:"agent_id"`
}

type SnapshotAgent struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Role  string          `json:"role"`
	Goal  string          `json:"goal"`
	Tools json.RawMessage `json:"tools"`
}

// AgentByID resolves a snapshot agent reference, or nil.
func (s *Snapshot) AgentByID(id int64) *SnapshotAgent {
	for i := range s.Agents {
		if s.Agents[i].ID == id {
			return &s.Agents[i]
		}
	}
	return nil
}

// TaskByID resolves a snapshot task by id, or nil.
func (s *Snapshot) TaskByID(id int64) *SnapshotTask {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return &s.Tasks[i]
		}
	}
	return nil
}

// UsageLog records token consumption of one executor LLM call.
type UsageLog struct {
	RunID            *string
	ProviderName     string
	ModelName        string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCost    float64
}

// StreamSender is the sender block of an inbound stream record.
type StreamSender struct {
	ID          *int64  `json:"id"`
	Name        *string `json:"name"`
	PhoneNumber *string `json:"phone_number"`
}

// InboundMessage is one decoded stream record.
type InboundMessage struct {
	RawEventID     int64
	AccountID      *int64
	InboxID        *int64
	ConversationID *int64
	MessageID      *int64
	MessageType    string
	Sender         StreamSender
	Content        string
	CreatedAt      string
}
