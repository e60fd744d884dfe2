package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
)

// setupTestDatabase creates a PostgreSQL testcontainer and runs migrations.
func setupTestDatabase(t *testing.T) *PostgresRepository {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("ecocrm_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	if err := runMigrations(connStr); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	repo, err := NewPostgresRepository(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to create repository: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func runMigrations(connStr string) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	for _, name := range []string{"001_init.up.sql", "002_analytics.up.sql"} {
		path := filepath.Join("..", "..", "..", "migrations", name)
		migrationSQL, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read migration file: %w", err)
		}
		if _, err := db.Exec(string(migrationSQL)); err != nil {
			return fmt.Errorf("failed to execute %s: %w", name, err)
		}
	}
	return nil
}

func TestRawEventLifecycle(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	event := "message_created"
	accountID := int64(1)
	conversationID := int64(300)
	raw := &models.RawEvent{
		ReceivedAt:     time.Now().UTC(),
		EventName:      &event,
		AccountID:      &accountID,
		ConversationID: &conversationID,
		PayloadJSON:    []byte(`{"event":"message_created","id":55}`),
		HeadersJSON:    []byte(`{"User-Agent":"Chatwoot"}`),
		IsValid:        true,
	}
	require.NoError(t, repo.CreateRawEvent(ctx, raw))
	require.NotZero(t, raw.ID)

	got, err := repo.GetRawEvent(ctx, raw.ID)
	require.NoError(t, err)
	assert.True(t, got.IsValid)
	require.NotNil(t, got.EventName)
	assert.Equal(t, event, *got.EventName)
	assert.JSONEq(t, string(raw.PayloadJSON), string(got.PayloadJSON))

	require.NoError(t, repo.MarkRawEventInvalid(ctx, raw.ID, "publish failed"))
	got, err = repo.GetRawEvent(ctx, raw.ID)
	require.NoError(t, err)
	assert.False(t, got.IsValid)
	require.NotNil(t, got.ValidationError)
	assert.Equal(t, "publish failed", *got.ValidationError)

	assert.ErrorIs(t, repo.MarkRawEventInvalid(ctx, 999999, "x"), ErrNotFound)
}

func TestRegistryCRUDAndClosure(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	agent := &models.Agent{Name: "Helper", Role: "support", Goal: "answer questions"}
	require.NoError(t, repo.CreateAgent(ctx, agent))

	taskA := &models.Task{Name: "classify", Description: "classify the message", AgentID: &agent.ID}
	taskB := &models.Task{Name: "reply", Description: "draft a reply"}
	require.NoError(t, repo.CreateTask(ctx, taskA))
	require.NoError(t, repo.CreateTask(ctx, taskB))

	crew := &models.Crew{Name: "Support"}
	require.NoError(t, repo.CreateCrew(ctx, crew))
	assert.Equal(t, "sequential", crew.Process)

	require.NoError(t, repo.ReplaceTaskLinks(ctx, crew.ID, []*models.TaskLink{
		{TaskID: taskB.ID, StepOrder: 1},
		{TaskID: taskA.ID, StepOrder: 0},
	}))

	closure, err := repo.ListCrewClosure(ctx, crew.ID)
	require.NoError(t, err)
	require.Len(t, closure, 2)
	assert.Equal(t, taskA.ID, closure[0].Task.ID)
	require.NotNil(t, closure[0].Agent)
	assert.Equal(t, agent.Name, closure[0].Agent.Name)
	assert.Equal(t, taskB.ID, closure[1].Task.ID)
	assert.Nil(t, closure[1].Agent)

	// Full replace drops the old links.
	require.NoError(t, repo.ReplaceTaskLinks(ctx, crew.ID, []*models.TaskLink{
		{TaskID: taskB.ID, StepOrder: 0},
	}))
	closure, err = repo.ListCrewClosure(ctx, crew.ID)
	require.NoError(t, err)
	require.Len(t, closure, 1)
	assert.Equal(t, taskB.ID, closure[0].Task.ID)

	version := &models.CrewVersion{CrewID: crew.ID, VersionTag: "v1", SnapshotJSON: []byte(`{"crew":{}}`)}
	require.NoError(t, repo.CreateCrewVersion(ctx, version))
	versions, err := repo.ListCrewVersions(ctx, crew.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)

	require.NoError(t, repo.DeleteCrew(ctx, crew.ID))
	_, err = repo.GetCrewVersion(ctx, version.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClosureTiesBrokenByLinkID(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	crew := &models.Crew{Name: "Tied"}
	require.NoError(t, repo.CreateCrew(ctx, crew))

	taskA := &models.Task{Name: "a", Description: "first inserted"}
	taskB := &models.Task{Name: "b", Description: "second inserted"}
	require.NoError(t, repo.CreateTask(ctx, taskA))
	require.NoError(t, repo.CreateTask(ctx, taskB))

	// Same step_order for both; insertion order decides.
	require.NoError(t, repo.ReplaceTaskLinks(ctx, crew.ID, []*models.TaskLink{
		{TaskID: taskB.ID, StepOrder: 5},
		{TaskID: taskA.ID, StepOrder: 5},
	}))

	closure, err := repo.ListCrewClosure(ctx, crew.ID)
	require.NoError(t, err)
	require.Len(t, closure, 2)
	assert.Equal(t, taskB.ID, closure[0].Task.ID)
	assert.Equal(t, taskA.ID, closure[1].Task.ID)
}

func TestUserUniqueEmail(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	user := &models.User{Email: "ops@example.com", HashedPassword: "hash", IsActive: true, Role: models.RoleUser}
	require.NoError(t, repo.CreateUser(ctx, user))

	dup := &models.User{Email: "ops@example.com", HashedPassword: "hash2", IsActive: true, Role: models.RoleUser}
	assert.ErrorIs(t, repo.CreateUser(ctx, dup), ErrDuplicate)

	got, err := repo.GetUserByEmail(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestDefaultModelSwap(t *testing.T) {
	repo := setupTestDatabase(t)
	ctx := context.Background()

	provider := &models.AIProvider{Name: "openai", IsEnabled: true}
	require.NoError(t, repo.CreateProvider(ctx, provider))

	first := &models.AIModel{ProviderID: provider.ID, Name: "m1", Modality: "text", Currency: "USD", IsDefault: true, IsEnabled: true}
	second := &models.AIModel{ProviderID: provider.ID, Name: "m2", Modality: "text", Currency: "USD", IsDefault: true, IsEnabled: true}
	require.NoError(t, repo.CreateModel(ctx, first))
	require.NoError(t, repo.CreateModel(ctx, second))

	list, err := repo.ListModels(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	defaults := 0
	for _, m := range list {
		if m.IsDefault {
			defaults++
			assert.Equal(t, second.ID, m.ID)
		}
	}
	assert.Equal(t, 1, defaults)
}
