package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/models"
)

// Config configures the OpenAI-compatible executor.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float32
}

// OpenAIExecutor walks a snapshot's flow sequentially, sending one chat
// completion per task and feeding each task's output into the next.
type OpenAIExecutor struct {
	config     Config
	httpClient *http.Client
}

// NewOpenAIExecutor creates an executor against an OpenAI-compatible
// chat completions endpoint.
func NewOpenAIExecutor(config Config) *OpenAIExecutor {
	return &OpenAIExecutor{
		config: config,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float32      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the OpenAI chat completions response body.
type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (e *OpenAIExecutor) Execute(ctx context.Context, snapshot *models.Snapshot, input Input) (*Result, error) {
	if len(snapshot.Flow) == 0 {
		return nil, &ExecutionError{Err: fmt.Errorf("snapshot has no flow")}
	}

	result := &Result{}
	previous := ""
	for _, taskID := range snapshot.Flow {
		task := snapshot.TaskByID(taskID)
		if task == nil {
			return nil, &ExecutionError{TaskID: taskID, Err: fmt.Errorf("flow references unknown task")}
		}

		output, usage, err := e.runTask(ctx, snapshot, task, input, previous)
		if err != nil {
			return nil, &ExecutionError{TaskID: taskID, Err: err}
		}
		result.Usage = append(result.Usage, usage)
		previous = output
	}
	result.Output = previous
	return result, nil
}

func (e *OpenAIExecutor) runTask(ctx context.Context, snapshot *models.Snapshot, task *models.SnapshotTask, input Input, previous string) (string, StepUsage, error) {
	var system strings.Builder
	if task.AgentID != nil {
		if agent := snapshot.AgentByID(*task.AgentID); agent != nil {
			fmt.Fprintf(&system, "You are %s, acting as %s. Your goal: %s.\n", agent.Name, agent.Role, agent.Goal)
		}
	}
	fmt.Fprintf(&system, "Task: %s", task.Description)
	if task.ExpectedOutput != nil && *task.ExpectedOutput != "" {
		fmt.Fprintf(&system, "\nExpected output: %s", *task.ExpectedOutput)
	}

	var user strings.Builder
	if input.SenderName != "" {
		fmt.Fprintf(&user, "Customer %s wrote:\n", input.SenderName)
	}
	user.WriteString(input.Content)
	if previous != "" {
		fmt.Fprintf(&user, "\n\nOutput of the previous step:\n%s", previous)
	}

	reqBody := chatRequest{
		Model: e.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system.String()},
			{Role: "user", Content: user.String()},
		},
		MaxTokens:   e.config.MaxTokens,
		Temperature: e.config.Temperature,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", StepUsage{}, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(e.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", StepUsage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", StepUsage{}, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return "", StepUsage{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", StepUsage{}, fmt.Errorf("completion API returned %d: %s", resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", StepUsage{}, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", StepUsage{}, fmt.Errorf("completion returned no choices")
	}

	usage := StepUsage{
		Model:            e.config.Model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	return parsed.Choices[0].Message.Content, usage, nil
}
