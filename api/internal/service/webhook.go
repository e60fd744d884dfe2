package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/metrics"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/repository"
	"github.com/ecocrm-platform/ecocrm-stack/common/streams"
)

// Webhook processing outcomes.
const (
	WebhookProcessed = "processed"
	WebhookIgnored   = "ignored"
	WebhookInvalid   = "invalid"
)

// WebhookResult tells the caller what happened to an accepted webhook.
type WebhookResult struct {
	Status    string `json:"status"`
	MessageID *int64 `json:"message_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// chatwootPayload is the subset of the Chatwoot webhook body the platform
// reads. Chatwoot nests the message itself under a `data` envelope while
// `event`, `account` and `message_type` sit at the top level. Every field is
// optional; extraction never panics on absent blocks.
type chatwootPayload struct {
	Event       *string     `json:"event"`
	MessageType *string     `json:"message_type"`
	Account     *idBlock    `json:"account"`
	Data        webhookData `json:"data"`
}

type webhookData struct {
	ID           *int64   `json:"id"`
	Content      *string  `json:"content"`
	CreatedAt    *string  `json:"created_at"`
	Private      *bool    `json:"private"`
	Inbox        *idBlock `json:"inbox"`
	Conversation *struct {
		ID      *int64 `json:"id"`
		InboxID *int64 `json:"inbox_id"`
	} `json:"conversation"`
	Sender *struct {
		ID          *int64  `json:"id"`
		Name        *string `json:"name"`
		PhoneNumber *string `json:"phone_number"`
	} `json:"sender"`
}

type idBlock struct {
	ID *int64 `json:"id"`
}

// WebhookService persists inbound Chatwoot webhooks and publishes the
// normalized projection of message_created events onto the event stream.
type WebhookService struct {
	repo   repository.RawEventRepository
	broker *streams.Client
	stream string
	logger *slog.Logger
}

func NewWebhookService(repo repository.RawEventRepository, broker *streams.Client, stream string, logger *slog.Logger) *WebhookService {
	return &WebhookService{repo: repo, broker: broker, stream: stream, logger: logger}
}

// Process stores the raw webhook body and, for message_created events,
// publishes a stream record. The raw row is written before any parsing
// outcome is known: audit coverage includes bodies the platform ignores.
func (s *WebhookService) Process(ctx context.Context, body []byte, headers map[string]string) (*WebhookResult, error) {
	var payload chatwootPayload
	parseErr := json.Unmarshal(body, &payload)

	headersJSON, _ := json.Marshal(headers)

	raw := &models.RawEvent{
		ReceivedAt:  time.Now().UTC(),
		PayloadJSON: body,
		HeadersJSON: headersJSON,
		IsValid:     parseErr == nil,
	}
	if parseErr != nil {
		msg := parseErr.Error()
		raw.ValidationError = &msg
	} else {
		raw.EventName = payload.Event
		raw.MessageID = payload.Data.ID
		if payload.Account != nil {
			raw.AccountID = payload.Account.ID
		}
		if payload.Data.Inbox != nil {
			raw.InboxID = payload.Data.Inbox.ID
		}
		if payload.Data.Conversation != nil {
			raw.ConversationID = payload.Data.Conversation.ID
			if raw.InboxID == nil {
				raw.InboxID = payload.Data.Conversation.InboxID
			}
		}
	}

	if err := s.repo.CreateRawEvent(ctx, raw); err != nil {
		return nil, fmt.Errorf("failed to persist webhook: %w", err)
	}

	if parseErr != nil {
		return &WebhookResult{Status: WebhookInvalid, Detail: "malformed JSON body"}, nil
	}
	if payload.Event == nil || *payload.Event != "message_created" {
		return &WebhookResult{Status: WebhookIgnored}, nil
	}

	if err := s.publish(ctx, raw, &payload); err != nil {
		metrics.StreamPublishErrors.Inc()
		s.logger.ErrorContext(ctx, "failed to publish stream event",
			"raw_event_id", raw.ID, "error", err)
		if markErr := s.repo.MarkRawEventInvalid(ctx, raw.ID, err.Error()); markErr != nil {
			s.logger.ErrorContext(ctx, "failed to mark raw event invalid",
				"raw_event_id", raw.ID, "error", markErr)
		}
		return nil, err
	}

	return &WebhookResult{Status: WebhookProcessed, MessageID: payload.Data.ID}, nil
}

func (s *WebhookService) publish(ctx context.Context, raw *models.RawEvent, payload *chatwootPayload) error {
	sender := models.StreamSender{}
	if payload.Data.Sender != nil {
		sender.ID = payload.Data.Sender.ID
		sender.Name = payload.Data.Sender.Name
		sender.PhoneNumber = payload.Data.Sender.PhoneNumber
	}
	senderJSON, err := json.Marshal(sender)
	if err != nil {
		return fmt.Errorf("failed to marshal sender: %w", err)
	}

	createdAt := time.Now().UTC().Format(time.RFC3339)
	if payload.Data.CreatedAt != nil && *payload.Data.CreatedAt != "" {
		createdAt = *payload.Data.CreatedAt
	}

	fields := map[string]interface{}{
		"raw_event_id":    raw.ID,
		"account_id":      int64String(raw.AccountID),
		"inbox_id":        int64String(raw.InboxID),
		"conversation_id": int64String(raw.ConversationID),
		"message_id":      int64String(raw.MessageID),
		"message_type":    stringOrEmpty(payload.MessageType),
		"sender":          string(senderJSON),
		"content":         stringOrEmpty(payload.Data.Content),
		"created_at":      createdAt,
	}

	_, err = s.broker.Publish(ctx, s.stream, fields)
	return err
}

func int64String(v *int64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%d", *v)
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
