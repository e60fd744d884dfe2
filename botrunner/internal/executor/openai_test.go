package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/models"
)

func testSnapshot() *models.Snapshot {
	agentID := int64(1)
	return &models.Snapshot{
		Crew: models.SnapshotCrew{ID: 10, Name: "Support", Process: "sequential"},
		Agents: []models.SnapshotAgent{
			{ID: agentID, Name: "Helper", Role: "support", Goal: "answer questions"},
		},
		Tasks: []models.SnapshotTask{
			{ID: 100, Name: "classify", Description: "classify the message", AgentID: &agentID},
			{ID: 101, Name: "reply", Description: "draft a reply", AgentID: &agentID},
		},
		Flow: []int64{100, 101},
	}
}

func completionServer(t *testing.T, reply func(call int, req map[string]interface{}) string) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls++

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": reply(calls, req)}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestExecute_SequentialFlowChainsOutputs(t *testing.T) {
	srv, calls := completionServer(t, func(call int, req map[string]interface{}) string {
		if call == 2 {
			// The second step must see the first step's output.
			msgs := req["messages"].([]interface{})
			user := msgs[1].(map[string]interface{})["content"].(string)
			require.Contains(t, user, "step-one-output")
		}
		return fmt.Sprintf("step-%s-output", map[int]string{1: "one", 2: "two"}[call])
	})

	ex := NewOpenAIExecutor(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-4o-mini"})
	result, err := ex.Execute(context.Background(), testSnapshot(), Input{Content: "hello", SenderName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "step-two-output", result.Output)
	assert.Equal(t, 2, *calls)
	require.Len(t, result.Usage, 2)
	assert.Equal(t, 15, result.Usage[0].TotalTokens)
}

func TestExecute_UpstreamErrorWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ex := NewOpenAIExecutor(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-4o-mini"})
	_, err := ex.Execute(context.Background(), testSnapshot(), Input{Content: "hello"})
	require.Error(t, err)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, int64(100), execErr.TaskID)
}

func TestExecute_EmptyFlowRejected(t *testing.T) {
	ex := NewOpenAIExecutor(Config{BaseURL: "http://unused", Model: "gpt-4o-mini"})
	snapshot := &models.Snapshot{}
	_, err := ex.Execute(context.Background(), snapshot, Input{Content: "hi"})
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestExecute_FlowReferencingUnknownTask(t *testing.T) {
	ex := NewOpenAIExecutor(Config{BaseURL: "http://unused", Model: "gpt-4o-mini"})
	snapshot := &models.Snapshot{Flow: []int64{42}}
	_, err := ex.Execute(context.Background(), snapshot, Input{Content: "hi"})
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, int64(42), execErr.TaskID)
}
