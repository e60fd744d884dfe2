package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/repository"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/service"
	"github.com/ecocrm-platform/ecocrm-stack/api/pkg/tokens"
	"github.com/ecocrm-platform/ecocrm-stack/common/logging"
	"github.com/ecocrm-platform/ecocrm-stack/common/streams"
)

const (
	testWebhookToken = "test-webhook-token"
	testStream       = "ecocrm:events"
)

type testEnv struct {
	handler *Handler
	repo    *repository.MemoryRepository
	broker  *streams.Client
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	broker := streams.NewFromRedis(rdb, slog.Default())
	repo := repository.NewMemoryRepository()
	logger := logging.Default()

	generator := tokens.NewTokenGenerator("test-secret-long-enough", time.Hour)
	h := NewHandler(
		repo,
		service.NewRegistryService(repo),
		service.NewAuthService(repo, generator),
		service.NewWebhookService(repo, broker, testStream, slog.Default()),
		testWebhookToken,
		logger,
	)
	return &testEnv{handler: h, repo: repo, broker: broker}
}

func doJSON(t *testing.T, fn http.HandlerFunc, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

// --- Webhooks ---

func TestChatwootWebhook_WrongTokenWritesNothing(t *testing.T) {
	env := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/chatwoot?t=wrong",
		bytes.NewBufferString(`{"event":"message_created","id":1}`))
	rec := httptest.NewRecorder()
	env.handler.ChatwootWebhook(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	_, err := env.repo.GetRawEvent(context.Background(), 1)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestChatwootWebhook_HappyPath(t *testing.T) {
	env := setup(t)
	require.NoError(t, env.broker.EnsureGroup(context.Background(), testStream, "g"))

	body := `{
		"event": "message_created", "message_type": "incoming",
		"account": {"id": 1},
		"data": {
			"id": 55, "content": "hi",
			"inbox": {"id": 2},
			"conversation": {"id": 77},
			"sender": {"id": 9, "name": "Ada"}
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/chatwoot?t="+testWebhookToken,
		bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	env.handler.ChatwootWebhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result service.WebhookResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, service.WebhookProcessed, result.Status)
	require.NotNil(t, result.MessageID)
	assert.Equal(t, int64(55), *result.MessageID)

	msgs, err := env.broker.Consume(context.Background(), testStream, "g", "c1", 1, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "77", msgs[0].Fields["conversation_id"])
}

func TestChatwootWebhook_MalformedBodyRejectedButAudited(t *testing.T) {
	env := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/chatwoot?t="+testWebhookToken,
		bytes.NewBufferString(`{"event":"message_created"`))
	rec := httptest.NewRecorder()
	env.handler.ChatwootWebhook(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid JSON payload")

	// The unparseable body still lands in the audit log.
	raw, err := env.repo.GetRawEvent(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, raw.IsValid)
}

func TestChatwootWebhook_IgnoredEventStillAudited(t *testing.T) {
	env := setup(t)
	require.NoError(t, env.broker.EnsureGroup(context.Background(), testStream, "g"))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/chatwoot?t="+testWebhookToken,
		bytes.NewBufferString(`{"event":"conversation_status_changed","conversation":{"id":5}}`))
	rec := httptest.NewRecorder()
	env.handler.ChatwootWebhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result service.WebhookResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, service.WebhookIgnored, result.Status)

	raw, err := env.repo.GetRawEvent(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, raw.IsValid)

	msgs, err := env.broker.Consume(context.Background(), testStream, "g", "c1", 1, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

// --- Registry ---

func TestRegistry_CreatePublishFlow(t *testing.T) {
	env := setup(t)

	rec := doJSON(t, env.handler.Agents, http.MethodPost, "/agents",
		models.CreateAgentRequest{Name: "Helper", Role: "support", Goal: "answer"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var agent models.Agent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agent))

	rec = doJSON(t, env.handler.Tasks, http.MethodPost, "/tasks",
		models.CreateTaskRequest{Name: "reply", Description: "draft a reply", AgentID: &agent.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	var task models.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))

	rec = doJSON(t, env.handler.Crews, http.MethodPost, "/crews",
		models.CreateCrewRequest{Name: "Support"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var crew models.Crew
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &crew))

	crewPath := fmt.Sprintf("/crews/%d", crew.ID)
	rec = doJSON(t, env.handler.CrewSubroutes, http.MethodPut, crewPath+"/tasks",
		[]models.TaskLinkRequest{{TaskID: task.ID, StepOrder: 0}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, env.handler.CrewSubroutes, http.MethodPost, crewPath+"/publish",
		map[string]string{"version_tag": "v1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var version models.CrewVersion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))
	assert.Equal(t, "v1", version.VersionTag)

	var snapshot models.Snapshot
	require.NoError(t, json.Unmarshal(version.SnapshotJSON, &snapshot))
	assert.Equal(t, []int64{task.ID}, snapshot.Flow)

	rec = doJSON(t, env.handler.CrewSubroutes, http.MethodGet, crewPath, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail models.CrewDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Len(t, detail.Tasks, 1)
	require.Len(t, detail.Versions, 1)
}

func TestRegistry_PublishWithModelBinding(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	provider := &models.AIProvider{Name: "openai", IsEnabled: true}
	require.NoError(t, env.repo.CreateProvider(ctx, provider))
	model := &models.AIModel{ProviderID: provider.ID, Name: "gpt-4o", Modality: "text", IsEnabled: true}
	require.NoError(t, env.repo.CreateModel(ctx, model))

	agent := &models.Agent{Name: "Helper", Role: "support", Goal: "answer"}
	require.NoError(t, env.repo.CreateAgent(ctx, agent))
	task := &models.Task{Name: "reply", Description: "draft a reply", AgentID: &agent.ID}
	require.NoError(t, env.repo.CreateTask(ctx, task))
	crew := &models.Crew{Name: "Support"}
	require.NoError(t, env.repo.CreateCrew(ctx, crew))
	require.NoError(t, env.repo.ReplaceTaskLinks(ctx, crew.ID, []*models.TaskLink{{TaskID: task.ID, StepOrder: 0}}))

	rec := doJSON(t, env.handler.CrewSubroutes, http.MethodPost,
		fmt.Sprintf("/crews/%d/publish", crew.ID),
		map[string]interface{}{"version_tag": "v1", "model_id": model.ID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var version models.CrewVersion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &version))
	var snapshot models.Snapshot
	require.NoError(t, json.Unmarshal(version.SnapshotJSON, &snapshot))
	require.NotNil(t, snapshot.Crew.ModelID)
	assert.Equal(t, model.ID, *snapshot.Crew.ModelID)
}

func TestRegistry_PublishEmptyCrewRejected(t *testing.T) {
	env := setup(t)

	rec := doJSON(t, env.handler.Crews, http.MethodPost, "/crews",
		models.CreateCrewRequest{Name: "Empty"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, env.handler.CrewSubroutes, http.MethodPost, "/crews/1/publish", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegistry_GetMissingAgent(t *testing.T) {
	env := setup(t)
	rec := doJSON(t, env.handler.AgentByID, http.MethodGet, "/agents/99", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- Runs ---

func TestRuns_ListAndDetail(t *testing.T) {
	env := setup(t)

	conv := "12"
	out := "done"
	finished := time.Now().UTC()
	env.repo.SeedRun(&models.Run{
		ID:             "run-1",
		Source:         models.RunSourceChatwoot,
		ConversationID: &conv,
		Status:         models.RunStatusSuccess,
		ResultOutput:   &out,
		CreatedAt:      time.Now().UTC().Add(-time.Minute),
		FinishedAt:     &finished,
	}, []*models.RunEvent{
		{ID: "ev-2", RunID: "run-1", Seq: 2, EventType: models.RunEventSuccess, PayloadJSON: []byte(`{}`)},
		{ID: "ev-1", RunID: "run-1", Seq: 1, EventType: models.RunEventStart, PayloadJSON: []byte(`{}`)},
	})

	rec := doJSON(t, env.handler.Runs, http.MethodGet, "/runs?status=success", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []*models.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)

	rec = doJSON(t, env.handler.RunByID, http.MethodGet, "/runs/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var detail models.RunDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Len(t, detail.Events, 2)
	// Events come back in seq order regardless of insertion order.
	assert.Equal(t, 1, detail.Events[0].Seq)
	assert.Equal(t, 2, detail.Events[1].Seq)
}

// --- Auth ---

func TestAuth_RegisterAndLogin(t *testing.T) {
	env := setup(t)

	rec := doJSON(t, env.handler.Register, http.MethodPost, "/auth/register",
		models.RegisterRequest{Email: "ops@example.com", Password: "hunter22"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hashed_password")

	rec = doJSON(t, env.handler.Login, http.MethodPost, "/auth/login",
		models.LoginRequest{Email: "ops@example.com", Password: "hunter22"})
	require.Equal(t, http.StatusOK, rec.Code)
	var token models.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))
	assert.NotEmpty(t, token.AccessToken)
	assert.Equal(t, "bearer", token.TokenType)

	rec = doJSON(t, env.handler.Login, http.MethodPost, "/auth/login",
		models.LoginRequest{Email: "ops@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_DuplicateEmail(t *testing.T) {
	env := setup(t)

	rec := doJSON(t, env.handler.Register, http.MethodPost, "/auth/register",
		models.RegisterRequest{Email: "dup@example.com", Password: "pw123456"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, env.handler.Register, http.MethodPost, "/auth/register",
		models.RegisterRequest{Email: "dup@example.com", Password: "pw123456"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// --- BI ---

func TestBI_BacklogFromFixtures(t *testing.T) {
	env := setup(t)
	env.repo.BacklogRows = []*models.BacklogRow{
		{InboxID: 1, Status: "open", Count: 4},
		{InboxID: 1, Status: "resolved", Count: 9},
	}

	rec := doJSON(t, env.handler.BIBacklog, http.MethodGet, "/bi/backlog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []*models.BacklogRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, int64(4), rows[0].Count)
}

func TestBI_EmptyListsRenderAsArrays(t *testing.T) {
	env := setup(t)
	rec := doJSON(t, env.handler.BIInboxVolume, http.MethodGet, "/bi/inbox-volume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

// --- Test Lab ---

func TestTestLab_EventAutoCreatesRun(t *testing.T) {
	env := setup(t)

	rec := doJSON(t, env.handler.TestRunSubroutes, http.MethodPost, "/test-runs/session-1/events",
		models.TestRunEvent{Role: "user", Content: "hello"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, env.handler.TestRunSubroutes, http.MethodGet, "/test-runs/session-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var detail struct {
		Run    models.TestRun        `json:"run"`
		Events []models.TestRunEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	assert.Equal(t, "session-1", detail.Run.ID)
	require.Len(t, detail.Events, 1)
	assert.Equal(t, "hello", detail.Events[0].Content)
}

func TestTestLab_DuplicateRunRejected(t *testing.T) {
	env := setup(t)

	rec := doJSON(t, env.handler.TestRuns, http.MethodPost, "/test-runs",
		models.TestRun{ID: "session-2"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, env.handler.TestRuns, http.MethodPost, "/test-runs",
		models.TestRun{ID: "session-2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}
