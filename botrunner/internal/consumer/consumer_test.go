package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/executor"
	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/models"
	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/repository"
	"github.com/ecocrm-platform/ecocrm-stack/common/chatwoot"
	"github.com/ecocrm-platform/ecocrm-stack/common/streams"
)

const (
	testStream = "ecocrm:events"
	testGroup  = "botrunner"
)

type fakeExecutor struct {
	mu     sync.Mutex
	calls  int
	output string
	err    error
}

func (f *fakeExecutor) Execute(_ context.Context, _ *models.Snapshot, _ executor.Input) (*executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &executor.Result{
		Output: f.output,
		Usage:  []executor.StepUsage{{Model: "gpt-4o-mini", PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}},
	}, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type replyRecorder struct {
	mu      sync.Mutex
	replies []string
	convs   []int64
	fail    bool
}

func (r *replyRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.fail {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		var body chatwoot.CreateMessageRequest
		json.NewDecoder(req.Body).Decode(&body)
		r.replies = append(r.replies, body.Content)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": 1, "content": body.Content})
	}
}

type testEnv struct {
	consumer *Consumer
	repo     *repository.MemoryRepository
	broker   *streams.Client
	exec     *fakeExecutor
	replies  *replyRecorder
}

func setup(t *testing.T, opts Options) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	broker := streams.NewFromRedis(rdb, slog.Default())
	repo := repository.NewMemoryRepository()
	exec := &fakeExecutor{output: "Thanks, we will get back to you."}
	replies := &replyRecorder{}
	srv := httptest.NewServer(replies.handler())
	t.Cleanup(srv.Close)

	if opts.Stream == "" {
		opts.Stream = testStream
	}
	if opts.Group == "" {
		opts.Group = testGroup
	}
	if opts.Consumer == "" {
		opts.Consumer = "test-consumer"
	}
	if opts.Block == 0 {
		opts.Block = 50 * time.Millisecond
	}

	c := New(broker, repo, exec, chatwoot.New(srv.URL, "token", 1), opts, slog.Default())
	require.NoError(t, broker.EnsureGroup(context.Background(), opts.Stream, opts.Group))
	return &testEnv{consumer: c, repo: repo, broker: broker, exec: exec, replies: replies}
}

func seedVersion(repo *repository.MemoryRepository, id int64) {
	agentID := int64(1)
	snapshot := models.Snapshot{
		Crew:   models.SnapshotCrew{ID: 1, Name: "Support", Process: "sequential"},
		Agents: []models.SnapshotAgent{{ID: agentID, Name: "Helper", Role: "support", Goal: "resolve"}},
		Tasks:  []models.SnapshotTask{{ID: 100, Name: "reply", Description: "draft a reply", AgentID: &agentID}},
		Flow:   []int64{100},
	}
	raw, _ := json.Marshal(snapshot)
	repo.SeedCrewVersion(&models.CrewVersion{ID: id, CrewID: 1, VersionTag: "v1", SnapshotJSON: raw})
}

func incomingFields(rawEventID string) map[string]string {
	return map[string]string{
		"raw_event_id":    rawEventID,
		"account_id":      "1",
		"inbox_id":        "2",
		"conversation_id": "300",
		"message_id":      "55",
		"message_type":    "incoming",
		"sender":          `{"id":9,"name":"Ada","phone_number":null}`,
		"content":         "where is my order?",
		"created_at":      "2026-08-29T10:00:00Z",
	}
}

func TestHandle_SuccessfulRun(t *testing.T) {
	env := setup(t, Options{})
	seedVersion(env.repo, 7)
	ctx := context.Background()

	err := env.consumer.handle(ctx, streams.Message{ID: "1-0", Fields: incomingFields("11")})
	require.NoError(t, err)

	runs := env.repo.Runs()
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, models.RunStatusSuccess, run.Status)
	require.NotNil(t, run.CrewVersionID)
	assert.Equal(t, int64(7), *run.CrewVersionID)
	require.NotNil(t, run.ConversationID)
	assert.Equal(t, "300", *run.ConversationID)
	require.NotNil(t, run.ResultOutput)
	assert.Equal(t, "Thanks, we will get back to you.", *run.ResultOutput)
	require.NotNil(t, run.FinishedAt)

	events := env.repo.RunEvents(run.ID)
	require.Len(t, events, 2)
	assert.Equal(t, models.RunEventStart, events[0].EventType)
	assert.Equal(t, 1, events[0].Seq)
	assert.Equal(t, models.RunEventSuccess, events[1].EventType)
	assert.Equal(t, 2, events[1].Seq)

	// The start event carries the inbound message, not just version refs.
	var start map[string]interface{}
	require.NoError(t, json.Unmarshal(events[0].PayloadJSON, &start))
	assert.Equal(t, "where is my order?", start["content"])
	assert.Equal(t, "Ada", start["sender"])
	assert.Equal(t, "v1", start["version_tag"])

	usage := env.repo.UsageLogs()
	require.Len(t, usage, 1)
	assert.Equal(t, 15, usage[0].TotalTokens)

	env.replies.mu.Lock()
	defer env.replies.mu.Unlock()
	require.Len(t, env.replies.replies, 1)
	assert.Equal(t, "Thanks, we will get back to you.", env.replies.replies[0])
}

func TestHandle_DuplicateRawEventSkipsExecution(t *testing.T) {
	env := setup(t, Options{})
	seedVersion(env.repo, 7)
	ctx := context.Background()

	require.NoError(t, env.consumer.handle(ctx, streams.Message{ID: "1-0", Fields: incomingFields("11")}))
	require.NoError(t, env.consumer.handle(ctx, streams.Message{ID: "1-1", Fields: incomingFields("11")}))

	assert.Len(t, env.repo.Runs(), 1)
	assert.Equal(t, 1, env.exec.callCount())
}

func TestHandle_NonIncomingAcked(t *testing.T) {
	env := setup(t, Options{})
	seedVersion(env.repo, 7)

	fields := incomingFields("12")
	fields["message_type"] = "outgoing"
	require.NoError(t, env.consumer.handle(context.Background(), streams.Message{ID: "1-0", Fields: fields}))

	assert.Empty(t, env.repo.Runs())
	assert.Equal(t, 0, env.exec.callCount())
}

func TestHandle_LegacyRecordDropped(t *testing.T) {
	env := setup(t, Options{})
	seedVersion(env.repo, 7)

	err := env.consumer.handle(context.Background(),
		streams.Message{ID: "1-0", Fields: map[string]string{"content": "old format"}})
	require.NoError(t, err)
	assert.Empty(t, env.repo.Runs())
}

func TestHandle_DoubleEncodedSender(t *testing.T) {
	env := setup(t, Options{})
	seedVersion(env.repo, 7)

	fields := incomingFields("13")
	fields["sender"] = `"{\"id\":9,\"name\":\"Ada\",\"phone_number\":null}"`
	require.NoError(t, env.consumer.handle(context.Background(), streams.Message{ID: "1-0", Fields: fields}))

	runs := env.repo.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusSuccess, runs[0].Status)
}

func TestHandle_NoPublishedVersionRecordsSkip(t *testing.T) {
	env := setup(t, Options{})
	ctx := context.Background()

	require.NoError(t, env.consumer.handle(ctx, streams.Message{ID: "1-0", Fields: incomingFields("14")}))

	runs := env.repo.Runs()
	require.Len(t, runs, 1)
	run := runs[0]
	// A skip is a deliberate no-work exit, not a failure.
	assert.Equal(t, models.RunStatusSkipped, run.Status)
	assert.Nil(t, run.CrewVersionID)
	require.NotNil(t, run.FinishedAt)

	events := env.repo.RunEvents(run.ID)
	require.Len(t, events, 1)
	assert.Equal(t, models.RunEventSkipped, events[0].EventType)
	assert.Equal(t, 0, env.exec.callCount())
}

func TestHandle_ExecutionFailureTerminal(t *testing.T) {
	env := setup(t, Options{})
	seedVersion(env.repo, 7)
	env.exec.err = &executor.ExecutionError{TaskID: 100, Err: errors.New("upstream 500")}

	require.NoError(t, env.consumer.handle(context.Background(),
		streams.Message{ID: "1-0", Fields: incomingFields("15")}))

	runs := env.repo.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusFailed, runs[0].Status)

	events := env.repo.RunEvents(runs[0].ID)
	require.Len(t, events, 2)
	assert.Equal(t, models.RunEventStart, events[0].EventType)
	assert.Equal(t, models.RunEventFailed, events[1].EventType)

	// No reply goes out for a failed run.
	env.replies.mu.Lock()
	defer env.replies.mu.Unlock()
	assert.Empty(t, env.replies.replies)
}

func TestHandle_ReplyFailureDoesNotFailRun(t *testing.T) {
	env := setup(t, Options{})
	seedVersion(env.repo, 7)
	env.replies.fail = true

	require.NoError(t, env.consumer.handle(context.Background(),
		streams.Message{ID: "1-0", Fields: incomingFields("16")}))

	runs := env.repo.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusSuccess, runs[0].Status)
}

func TestHandle_PinnedVersion(t *testing.T) {
	env := setup(t, Options{CrewVersionID: 3})
	seedVersion(env.repo, 3)
	seedVersion(env.repo, 9)

	require.NoError(t, env.consumer.handle(context.Background(),
		streams.Message{ID: "1-0", Fields: incomingFields("17")}))

	runs := env.repo.Runs()
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].CrewVersionID)
	assert.Equal(t, int64(3), *runs[0].CrewVersionID)
}

func TestRun_ConsumesAndAcks(t *testing.T) {
	env := setup(t, Options{})
	seedVersion(env.repo, 7)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- env.consumer.Run(ctx) }()

	fields := make(map[string]interface{}, len(incomingFields("21")))
	for k, v := range incomingFields("21") {
		fields[k] = v
	}
	_, err := env.broker.Publish(ctx, testStream, fields)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(env.repo.Runs()) == 1
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop on context cancellation")
	}
}
