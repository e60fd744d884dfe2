// Package client is a thin HTTP client for the ECOCRM platform API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to one ECOCRM API endpoint.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Crew mirrors the API's crew resource.
type Crew struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Process     string    `json:"process"`
	CreatedAt   time.Time `json:"created_at"`
}

type Task struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	AgentID     *int64 `json:"agent_id,omitempty"`
}

type CrewVersion struct {
	ID           int64           `json:"id"`
	CrewID       int64           `json:"crew_id"`
	VersionTag   string          `json:"version_tag"`
	SnapshotJSON json.RawMessage `json:"snapshot_json"`
	CreatedAt    time.Time       `json:"created_at"`
}

type CrewDetail struct {
	Crew
	Tasks    []Task        `json:"tasks"`
	Versions []CrewVersion `json:"versions"`
}

type Run struct {
	ID             string     `json:"id"`
	CrewVersionID  *int64     `json:"crew_version_id,omitempty"`
	Source         string     `json:"source"`
	ConversationID *string    `json:"conversation_id,omitempty"`
	Status         string     `json:"status"`
	ResultOutput   *string    `json:"result_output,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

type RunEvent struct {
	Seq         int             `json:"seq"`
	OccurredAt  time.Time       `json:"occurred_at"`
	EventType   string          `json:"event_type"`
	PayloadJSON json.RawMessage `json:"payload_json"`
}

type RunDetail struct {
	Run
	Events []RunEvent `json:"events"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func (c *Client) Login(email, password string) (*TokenResponse, error) {
	var out TokenResponse
	err := c.do(http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListCrews() ([]Crew, error) {
	var out []Crew
	if err := c.do(http.MethodGet, "/crews", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetCrew(id int64) (*CrewDetail, error) {
	var out CrewDetail
	if err := c.do(http.MethodGet, fmt.Sprintf("/crews/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PublishCrew(id int64, versionTag string, modelID int64) (*CrewVersion, error) {
	var out CrewVersion
	body := map[string]interface{}{}
	if versionTag != "" {
		body["version_tag"] = versionTag
	}
	if modelID > 0 {
		body["model_id"] = modelID
	}
	if err := c.do(http.MethodPost, fmt.Sprintf("/crews/%d/publish", id), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListRuns(source, status string, limit int) ([]Run, error) {
	q := url.Values{}
	if source != "" {
		q.Set("source", source)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Run
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetRun(id string) (*RunDetail, error) {
	var out RunDetail
	if err := c.do(http.MethodGet, "/runs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostWebhook sends a raw Chatwoot-style webhook payload through the API's
// receiver, authenticated with the shared webhook token.
func (c *Client) PostWebhook(webhookToken string, payload []byte) (map[string]interface{}, error) {
	endpoint := c.baseURL + "/webhooks/chatwoot?t=" + url.QueryEscape(webhookToken)
	req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, data)
	}

	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
