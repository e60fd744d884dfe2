// Package executor runs published crew snapshots against inbound messages.
package executor

import (
	"context"
	"fmt"

	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/models"
)

// Input carries the inbound message a crew executes against.
type Input struct {
	Content        string
	SenderName     string
	ConversationID string
}

// StepUsage records token consumption of one flow step.
type StepUsage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is the outcome of a completed crew execution: the final task's
// output plus per-step usage.
type Result struct {
	Output string
	Usage  []StepUsage
}

// ExecutionError marks a failure inside the engine, as opposed to transport
// or bookkeeping errors around it.
type ExecutionError struct {
	TaskID int64
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed at task %d: %v", e.TaskID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Executor is the narrow seam between the consumer and whatever engine
// actually runs crews. The consumer depends on nothing else about it.
type Executor interface {
	Execute(ctx context.Context, snapshot *models.Snapshot, input Input) (*Result, error)
}
