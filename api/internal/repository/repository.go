// Package repository persists the platform API's entities in PostgreSQL.
package repository

import (
	"context"
	"errors"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a uniqueness constraint is violated.
	ErrDuplicate = errors.New("record already exists")
)

// TaskWithAgent is one step of a crew's closure: the task in step order plus
// its resolved agent (nil when the task has none).
type TaskWithAgent struct {
	Task      *models.Task
	Agent     *models.Agent
	StepOrder int
}

// RawEventRepository stores the audit log of inbound webhooks.
type RawEventRepository interface {
	CreateRawEvent(ctx context.Context, ev *models.RawEvent) error
	MarkRawEventInvalid(ctx context.Context, id int64, validationError string) error
	GetRawEvent(ctx context.Context, id int64) (*models.RawEvent, error)
}

// RegistryRepository stores the bot studio graph (agents, tasks, crews,
// links) and its published versions.
type RegistryRepository interface {
	CreateAgent(ctx context.Context, agent *models.Agent) error
	ListAgents(ctx context.Context) ([]*models.Agent, error)
	GetAgent(ctx context.Context, id int64) (*models.Agent, error)
	DeleteAgent(ctx context.Context, id int64) error

	CreateTask(ctx context.Context, task *models.Task) error
	ListTasks(ctx context.Context) ([]*models.Task, error)
	GetTask(ctx context.Context, id int64) (*models.Task, error)
	DeleteTask(ctx context.Context, id int64) error

	CreateCrew(ctx context.Context, crew *models.Crew) error
	ListCrews(ctx context.Context) ([]*models.Crew, error)
	GetCrew(ctx context.Context, id int64) (*models.Crew, error)
	DeleteCrew(ctx context.Context, id int64) error

	// ReplaceTaskLinks deletes every existing link of the crew and inserts
	// the provided list. Overwrite is always full, never a diff.
	ReplaceTaskLinks(ctx context.Context, crewID int64, links []*models.TaskLink) error

	// ListCrewClosure returns the crew's tasks in step order (ties broken by
	// link id) with each task's agent resolved.
	ListCrewClosure(ctx context.Context, crewID int64) ([]*TaskWithAgent, error)

	CreateCrewVersion(ctx context.Context, version *models.CrewVersion) error
	ListCrewVersions(ctx context.Context, crewID int64) ([]*models.CrewVersion, error)
	GetCrewVersion(ctx context.Context, id int64) (*models.CrewVersion, error)
	DeleteCrewVersion(ctx context.Context, id int64) error
}

// RunRepository reads run history for the API surface. Writes happen in the
// bot runner.
type RunRepository interface {
	ListRuns(ctx context.Context, req *models.ListRunsRequest) ([]*models.Run, error)
	GetRun(ctx context.Context, id string) (*models.RunDetail, error)
}

// UserRepository stores operator accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, offset, limit int) ([]*models.User, error)
}

// TestLabRepository stores manual test harness sessions.
type TestLabRepository interface {
	CreateTestRun(ctx context.Context, run *models.TestRun) error
	GetTestRun(ctx context.Context, id string) (*models.TestRun, error)
	AddTestRunEvent(ctx context.Context, ev *models.TestRunEvent) error
	ListTestRunEvents(ctx context.Context, runID string) ([]*models.TestRunEvent, error)
}

// KBRepository stores knowledge bases and their file metadata.
type KBRepository interface {
	CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error
	ListKnowledgeBases(ctx context.Context) ([]*models.KnowledgeBase, error)
	GetKnowledgeBase(ctx context.Context, id int64) (*models.KnowledgeBase, error)
	DeleteKnowledgeBase(ctx context.Context, id int64) error

	CreateKBFile(ctx context.Context, file *models.KBFile) error
	ListKBFiles(ctx context.Context, kbID int64) ([]*models.KBFile, error)
	UpdateKBFileStatus(ctx context.Context, id int64, status string) error
}

// AIRepository stores the AI provider/model catalog and usage logs.
type AIRepository interface {
	CreateProvider(ctx context.Context, p *models.AIProvider) error
	ListProviders(ctx context.Context) ([]*models.AIProvider, error)
	UpdateProvider(ctx context.Context, p *models.AIProvider) error
	DeleteProvider(ctx context.Context, id int64) error

	CreateModel(ctx context.Context, m *models.AIModel) error
	ListModels(ctx context.Context, enabledOnly bool) ([]*models.AIModel, error)
	GetModel(ctx context.Context, id int64) (*models.AIModel, error)
	DeleteModel(ctx context.Context, id int64) error

	ListUsageLogs(ctx context.Context, runID string, limit int) ([]*models.AIUsageLog, error)
}

// BIRepository reads the analytics marts populated by the data hub.
type BIRepository interface {
	InboxVolume(ctx context.Context, filter *models.BIFilter) ([]*models.InboxDailyVolume, error)
	AgentVolume(ctx context.Context, filter *models.BIFilter) ([]*models.AgentVolume, error)
	TimeMetrics(ctx context.Context, filter *models.BIFilter) (*models.TimeMetrics, error)
	LatestBacklog(ctx context.Context, inboxID *int64) ([]*models.BacklogRow, error)
}

// Repository is the full persistence surface of the platform API.
type Repository interface {
	RawEventRepository
	RegistryRepository
	RunRepository
	UserRepository
	TestLabRepository
	KBRepository
	AIRepository
	BIRepository
	Close()
}
