// Package repository persists runs and reads published crew versions for
// the bot runner.
package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateRun is returned when a run already exists for the raw
	// event, i.e. a broker redelivery of handled work.
	ErrDuplicateRun = errors.New("run already exists for raw event")
)

// Repository is the bot runner's persistence surface.
type Repository interface {
	// GetCrewVersion loads a published version by id.
	GetCrewVersion(ctx context.Context, id int64) (*models.CrewVersion, error)
	// LatestCrewVersion returns the most recently published version across
	// all crews, used when no explicit version is configured.
	LatestCrewVersion(ctx context.Context) (*models.CrewVersion, error)

	// FindRunByRawEvent looks up the run created for a raw event, if any.
	FindRunByRawEvent(ctx context.Context, rawEventID int64) (*models.Run, error)
	CreateRun(ctx context.Context, run *models.Run) error
	// FinishRun sets the terminal status, result output and finished_at.
	FinishRun(ctx context.Context, runID, status string, resultOutput *string) error

	// AppendRunEvent appends to the run's log, assigning the next per-run
	// seq value atomically.
	AppendRunEvent(ctx context.Context, runID, eventType string, payload json.RawMessage) (*models.RunEvent, error)

	// LogUsage records one executor LLM call.
	LogUsage(ctx context.Context, usage *models.UsageLog) error

	Close()
}
