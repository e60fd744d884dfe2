// Package chatwoot is a minimal HTTP client for the Chatwoot platform API.
//
// It covers the two surfaces ECOCRM needs: posting bot replies back into a
// conversation, and the read endpoints the data hub mirrors (conversations,
// messages, reporting events). Authentication is a static api_access_token
// header. Any non-2xx response is a hard error; callers decide whether that
// is fatal.
package chatwoot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one Chatwoot account.
type Client struct {
	baseURL    string
	token      string
	accountID  int64
	httpClient *http.Client
}

// New creates a client for the given Chatwoot base URL, API access token and
// account id.
func New(baseURL, token string, accountID int64) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		token:     token,
		accountID: accountID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is returned for non-2xx responses, carrying the status code and
// response body for logging.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatwoot API error (%d): %s", e.StatusCode, e.Body)
}

// CreateMessageRequest is the body for posting a message into a conversation.
type CreateMessageRequest struct {
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Private     bool   `json:"private"`
	ContentType string `json:"content_type"`
}

// Message is the subset of a Chatwoot message the platform cares about.
type Message struct {
	ID             int64           `json:"id"`
	ConversationID int64           `json:"conversation_id"`
	MessageType    int             `json:"message_type"`
	Content        string          `json:"content"`
	Private        bool            `json:"private"`
	CreatedAt      int64           `json:"created_at"`
	Sender         json.RawMessage `json:"sender,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// Conversation is the subset of a Chatwoot conversation the data hub mirrors.
type Conversation struct {
	ID        int64           `json:"id"`
	AccountID int64           `json:"account_id"`
	InboxID   int64           `json:"inbox_id"`
	Status    string          `json:"status"`
	Timestamp int64           `json:"timestamp"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// ConversationPage is one page of the conversation list endpoint.
type ConversationPage struct {
	Conversations []Conversation
	CurrentPage   int
	TotalPages    int
}

// ReportingEvent mirrors a Chatwoot reporting (timing) event.
type ReportingEvent struct {
	ID                   int64           `json:"id"`
	Name                 string          `json:"name"`
	AccountID            int64           `json:"account_id"`
	InboxID              int64           `json:"inbox_id"`
	UserID               int64           `json:"user_id"`
	ConversationID       int64           `json:"conversation_id"`
	Value                int64           `json:"value"`
	ValueInBusinessHours int64           `json:"value_in_business_hours"`
	EventStartTime       string          `json:"event_start_time"`
	EventEndTime         string          `json:"event_end_time"`
	Raw                  json.RawMessage `json:"-"`
}

// CreateMessage posts a reply into the conversation. This is the reply
// dispatcher used by the bot runner; message_type is "outgoing" and the
// content type is plain text.
func (c *Client) CreateMessage(ctx context.Context, conversationID int64, content string) (*Message, error) {
	reqBody := CreateMessageRequest{
		Content:     content,
		MessageType: "outgoing",
		Private:     false,
		ContentType: "text",
	}

	endpoint := fmt.Sprintf("%s/api/v1/accounts/%d/conversations/%d/messages",
		c.baseURL, c.accountID, conversationID)

	body, err := c.do(ctx, http.MethodPost, endpoint, reqBody)
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message response: %w", err)
	}
	msg.Raw = body
	return &msg, nil
}

// ListConversations fetches one page of the account's conversations.
func (c *Client) ListConversations(ctx context.Context, page int, status string) (*ConversationPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("status", status)

	endpoint := fmt.Sprintf("%s/api/v1/accounts/%d/conversations?%s", c.baseURL, c.accountID, q.Encode())

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	// Chatwoot wraps the list in {"data": {"meta": {...}, "payload": [...]}}.
	var envelope struct {
		Data struct {
			Meta struct {
				CurrentPage json.Number `json:"current_page"`
				TotalPages  json.Number `json:"total_pages"`
			} `json:"meta"`
			Payload []json.RawMessage `json:"payload"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode conversation page: %w", err)
	}

	result := &ConversationPage{
		CurrentPage: jsonNumberToInt(envelope.Data.Meta.CurrentPage, page),
		TotalPages:  jsonNumberToInt(envelope.Data.Meta.TotalPages, page),
	}
	for _, raw := range envelope.Data.Payload {
		var conv Conversation
		if err := json.Unmarshal(raw, &conv); err != nil {
			return nil, fmt.Errorf("failed to decode conversation: %w", err)
		}
		conv.Raw = raw
		result.Conversations = append(result.Conversations, conv)
	}
	return result, nil
}

// ListMessages fetches the messages of a conversation.
func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	endpoint := fmt.Sprintf("%s/api/v1/accounts/%d/conversations/%d/messages",
		c.baseURL, c.accountID, conversationID)

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Payload []json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	messages := make([]Message, 0, len(envelope.Payload))
	for _, raw := range envelope.Payload {
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("failed to decode message: %w", err)
		}
		msg.Raw = raw
		messages = append(messages, msg)
	}
	return messages, nil
}

// ConversationReportingEvents fetches the timing metrics recorded for a
// conversation. Not every Chatwoot deployment exposes this endpoint, so the
// data hub treats failures here as best-effort.
func (c *Client) ConversationReportingEvents(ctx context.Context, conversationID int64) ([]ReportingEvent, error) {
	endpoint := fmt.Sprintf("%s/api/v1/accounts/%d/conversations/%d/reporting_events",
		c.baseURL, c.accountID, conversationID)

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("failed to decode reporting events: %w", err)
	}

	events := make([]ReportingEvent, 0, len(raws))
	for _, raw := range raws {
		var ev ReportingEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode reporting event: %w", err)
		}
		ev.Raw = raw
		events = append(events, ev)
	}
	return events, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("api_access_token", c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chatwoot request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func jsonNumberToInt(n json.Number, def int) int {
	if n == "" {
		return def
	}
	v, err := n.Int64()
	if err != nil {
		return def
	}
	return int(v)
}
