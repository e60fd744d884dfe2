package models

import (
	"encoding/json"
	"time"
)

// Agent is a reusable bot persona: a role, a goal and an optional tool list.
type Agent struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Role      string          `json:"role"`
	Goal      string          `json:"goal"`
	ToolsJSON json.RawMessage `json:"tools_json,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Task is one unit of work a crew executes, optionally bound to an agent.
type Task struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	ExpectedOutput *string   `json:"expected_output,omitempty"`
	AgentID        *int64    `json:"agent_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Crew is a named, ordered set of tasks executed as one pipeline.
type Crew struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Process     string    `json:"process"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskLink orders one task within a crew. StepOrder carries no uniqueness
// guarantee; ties are resolved arbitrarily but deterministically (link id).
type TaskLink struct {
	ID        int64 `json:"id"`
	CrewID    int64 `json:"crew_id"`
	TaskID    int64 `json:"task_id"`
	StepOrder int   `json:"step_order"`
}

// CrewDetail is a crew joined with its tasks in execution order and its
// published versions.
type CrewDetail struct {
	Crew
	Tasks    []*Task        `json:"tasks"`
	Versions []*CrewVersion `json:"versions"`
}

// CrewVersion is an immutable point-in-time snapshot of a crew. Runs
// reference versions, never live crews, so historical runs stay reproducible.
type CrewVersion struct {
	ID           int64           `json:"id"`
	CrewID       int64           `json:"crew_id"`
	VersionTag   string          `json:"version_tag"`
	SnapshotJSON json.RawMessage `json:"snapshot_json"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Snapshot is the self-contained document stored in a CrewVersion: the crew's
// own configuration, every distinct agent referenced (first occurrence wins),
// every task with its configuration, and the execution order by task id.
type Snapshot struct {
	Crew   SnapshotCrew    `json:"crew"`
	Tasks  []SnapshotTask  `json:"tasks"`
	Agents []SnapshotAgent `json:"agents"`
	Flow   []int64         `json:"flow"`
}

// SnapshotCrew is the crew block of a snapshot.
type SnapshotCrew struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Process string `json:"process"`
	ModelID *int64 `json:"model_id"`
}

// SnapshotTask is the task block of a snapshot.
type SnapshotTask struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	ExpectedOutput *string `json:"expected_output"`
	AgentID        *int64  `json:"agent_id"`
}

// SnapshotAgent is the agent block of a snapshot.
type SnapshotAgent struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Role  string          `json:"role"`
	Goal  string          `json:"goal"`
	Tools json.RawMessage `json:"tools"`
}

// CreateAgentRequest is the API request for creating an agent.
type CreateAgentRequest struct {
	Name      string          `json:"name"`
	Role      string          `json:"role"`
	Goal      string          `json:"goal"`
	ToolsJSON json.RawMessage `json:"tools_json,omitempty"`
}

// CreateTaskRequest is the API request for creating a task.
type CreateTaskRequest struct {
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	ExpectedOutput *string `json:"expected_output,omitempty"`
	AgentID        *int64  `json:"agent_id,omitempty"`
}

// CreateCrewRequest is the API request for creating a crew.
type CreateCrewRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Process     string  `json:"process,omitempty"`
}

// TaskLinkRequest is one entry of a crew task-link overwrite.
type TaskLinkRequest struct {
	TaskID    int64 `json:"task_id"`
	StepOrder int   `json:"step_order"`
}
