package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/models"
)

// MemoryRepository is an in-memory Repository used in tests.
type MemoryRepository struct {
	mu sync.Mutex

	versions  map[int64]*models.CrewVersion
	runs      map[string]*models.Run
	runEvents map[string][]*models.RunEvent
	usage     []*models.UsageLog
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		versions:  make(map[int64]*models.CrewVersion),
		runs:      make(map[string]*models.Run),
		runEvents: make(map[string][]*models.RunEvent),
	}
}

func (m *MemoryRepository) Close() {}

// SeedCrewVersion installs a published version fixture.
func (m *MemoryRepository) SeedCrewVersion(v *models.CrewVersion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *v
	m.versions[v.ID] = &clone
}

// Runs returns a copy of all stored runs.
func (m *MemoryRepository) Runs() []*models.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Run, 0, len(m.runs))
	for _, run := range m.runs {
		clone := *run
		out = append(out, &clone)
	}
	return out
}

// RunEvents returns the stored events of a run in append order.
func (m *MemoryRepository) RunEvents(runID string) []*models.RunEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.RunEvent, 0, len(m.runEvents[runID]))
	for _, ev := range m.runEvents[runID] {
		clone := *ev
		out = append(out, &clone)
	}
	return out
}

// UsageLogs returns all recorded usage rows.
func (m *MemoryRepository) UsageLogs() []*models.UsageLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.UsageLog, 0, len(m.usage))
	for _, u := range m.usage {
		clone := *u
		out = append(out, &clone)
	}
	return out
}

func (m *MemoryRepository) GetCrewVersion(_ context.Context, id int64) (*models.CrewVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *v
	return &clone, nil
}

func (m *MemoryRepository) LatestCrewVersion(_ context.Context) (*models.CrewVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.CrewVersion
	for _, v := range m.versions {
		if latest == nil || v.ID > latest.ID {
			latest = v
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (m *MemoryRepository) FindRunByRawEvent(_ context.Context, rawEventID int64) (*models.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.RawEventID != nil && *run.RawEventID == rawEventID {
			clone := *run
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRepository) CreateRun(_ context.Context, run *models.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.RawEventID != nil {
		for _, existing := range m.runs {
			if existing.RawEventID != nil && *existing.RawEventID == *run.RawEventID {
				return ErrDuplicateRun
			}
		}
	}
	run.CreatedAt = time.Now().UTC()
	clone := *run
	m.runs[run.ID] = &clone
	return nil
}

func (m *MemoryRepository) FinishRun(_ context.Context, runID, status string, resultOutput *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	run.Status = status
	run.ResultOutput = resultOutput
	run.FinishedAt = &now
	return nil
}

func (m *MemoryRepository) AppendRunEvent(_ context.Context, runID, eventType string, payload json.RawMessage) (*models.RunEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate event id: %w", err)
	}
	ev := &models.RunEvent{
		ID:          id.String(),
		RunID:       runID,
		Seq:         len(m.runEvents[runID]) + 1,
		OccurredAt:  time.Now().UTC(),
		EventType:   eventType,
		PayloadJSON: payload,
	}
	m.runEvents[runID] = append(m.runEvents[runID], ev)
	clone := *ev
	return &clone, nil
}

func (m *MemoryRepository) LogUsage(_ context.Context, usage *models.UsageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *usage
	m.usage = append(m.usage, &clone)
	return nil
}
