// Package worker runs the periodic Chatwoot-to-Postgres sync that feeds the
// analytics marts.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ecocrm-platform/ecocrm-stack/common/chatwoot"
	"github.com/ecocrm-platform/ecocrm-stack/datahub/internal/metrics"
	"github.com/ecocrm-platform/ecocrm-stack/datahub/internal/models"
	"github.com/ecocrm-platform/ecocrm-stack/datahub/internal/repository"
)

// Source is the slice of the Chatwoot API the worker reads.
// *chatwoot.Client satisfies it.
type Source interface {
	ListConversations(ctx context.Context, page int, status string) (*chatwoot.ConversationPage, error)
	ListMessages(ctx context.Context, conversationID int64) ([]chatwoot.Message, error)
	ConversationReportingEvents(ctx context.Context, conversationID int64) ([]chatwoot.ReportingEvent, error)
}

// Options configures the sync worker.
type Options struct {
	Interval  time.Duration
	Status    string // conversation status filter passed to Chatwoot
	AccountID int64
}

// Worker mirrors Chatwoot conversations, messages and reporting events into
// the staging tables, then rebuilds the marts and records a backlog snapshot.
type Worker struct {
	source  Source
	repo    repository.Repository
	opts    Options
	logger  *slog.Logger
	stop    chan struct{}
	stopped chan struct{}
}

func New(source Source, repo repository.Repository, opts Options, logger *slog.Logger) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = 15 * time.Minute
	}
	if opts.Status == "" {
		opts.Status = "all"
	}
	return &Worker{
		source:  source,
		repo:    repo,
		opts:    opts,
		logger:  logger,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins the sync loop, running one cycle immediately. Call in a
// goroutine.
func (w *Worker) Start(ctx context.Context) {
	defer close(w.stopped)

	w.logger.Info("sync worker started", "interval", w.opts.Interval)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.runCycle(ctx)

	for {
		select {
		case <-ticker.C:
			w.runCycle(ctx)
		case <-w.stop:
			w.logger.Info("sync worker stopped")
			return
		case <-ctx.Done():
			w.logger.Info("sync worker context cancelled")
			return
		}
	}
}

// Stop signals the worker to stop and waits for it to finish.
func (w *Worker) Stop() {
	close(w.stop)
	<-w.stopped
}

func (w *Worker) runCycle(ctx context.Context) {
	start := time.Now()
	if err := w.syncCycle(ctx); err != nil {
		metrics.SyncCycles.WithLabelValues("error").Inc()
		w.logger.Error("sync cycle failed", "error", err)
		return
	}
	metrics.SyncCycles.WithLabelValues("success").Inc()
	metrics.SyncDuration.Observe(time.Since(start).Seconds())
	w.logger.Info("sync cycle finished", "duration", time.Since(start))
}

// syncCycle walks every conversation page, committing each page in its own
// transaction, then rebuilds the marts and snapshots the backlog.
func (w *Worker) syncCycle(ctx context.Context) error {
	page := 1
	total := 0
	for {
		convPage, err := w.source.ListConversations(ctx, page, w.opts.Status)
		if err != nil {
			return fmt.Errorf("failed to list conversations page %d: %w", page, err)
		}

		bundles := make([]models.ConversationBundle, 0, len(convPage.Conversations))
		for _, conv := range convPage.Conversations {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			bundle, err := w.fetchConversation(ctx, conv)
			if err != nil {
				// One broken conversation must not starve the rest of the
				// cycle; it will be retried on the next pass.
				metrics.ConversationErrors.Inc()
				w.logger.Error("skipping conversation", "conversation_id", conv.ID, "error", err)
				continue
			}
			bundles = append(bundles, bundle)
		}

		if len(bundles) > 0 {
			if err := w.repo.UpsertPage(ctx, bundles); err != nil {
				return fmt.Errorf("failed to persist page %d: %w", page, err)
			}
			total += len(bundles)
			metrics.ConversationsSynced.Add(float64(len(bundles)))
		}

		if convPage.TotalPages == 0 || convPage.CurrentPage >= convPage.TotalPages {
			break
		}
		page = convPage.CurrentPage + 1
	}

	w.logger.Info("staging sync complete", "conversations", total)

	if err := w.repo.RefreshMarts(ctx); err != nil {
		return err
	}

	rows, err := w.repo.SnapshotBacklog(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	w.logger.Info("backlog snapshot recorded", "rows", rows)
	return nil
}

func (w *Worker) fetchConversation(ctx context.Context, conv chatwoot.Conversation) (models.ConversationBundle, error) {
	bundle := models.ConversationBundle{
		Conversation: w.conversationRow(conv),
	}

	messages, err := w.source.ListMessages(ctx, conv.ID)
	if err != nil {
		return bundle, fmt.Errorf("failed to list messages for conversation %d: %w", conv.ID, err)
	}
	for _, msg := range messages {
		bundle.Messages = append(bundle.Messages, w.messageRow(conv, msg))
	}

	// Reporting events are not exposed by every Chatwoot deployment.
	events, err := w.source.ConversationReportingEvents(ctx, conv.ID)
	if err != nil {
		metrics.ReportingEventErrors.Inc()
		w.logger.Warn("skipping reporting events", "conversation_id", conv.ID, "error", err)
	} else {
		for _, ev := range events {
			bundle.ReportingEvents = append(bundle.ReportingEvents, w.reportingEventRow(ev))
		}
	}

	return bundle, nil
}

func (w *Worker) conversationRow(conv chatwoot.Conversation) models.Conversation {
	row := models.Conversation{
		ConversationID: conv.ID,
		AccountID:      w.accountID(conv.AccountID),
		InboxID:        conv.InboxID,
		Status:         conv.Status,
		Payload:        conv.Raw,
	}
	if conv.Timestamp > 0 {
		t := time.Unix(conv.Timestamp, 0).UTC()
		row.CreatedAt = &t
		row.UpdatedAt = &t
	}
	row.AssigneeID, row.ContactID = parseConversationMeta(conv.Meta)
	return row
}

func (w *Worker) messageRow(conv chatwoot.Conversation, msg chatwoot.Message) models.Message {
	row := models.Message{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		AccountID:      w.accountID(conv.AccountID),
		InboxID:        conv.InboxID,
		MessageType:    msg.MessageType,
		Content:        msg.Content,
		Private:        msg.Private,
		Payload:        msg.Raw,
	}
	if msg.CreatedAt > 0 {
		t := time.Unix(msg.CreatedAt, 0).UTC()
		row.CreatedAt = &t
		row.UpdatedAt = &t
	}
	row.SenderID, row.SenderType = parseSender(msg.Sender)
	return row
}

func (w *Worker) reportingEventRow(ev chatwoot.ReportingEvent) models.ReportingEvent {
	row := models.ReportingEvent{
		ReportingEventID:          ev.ID,
		AccountID:                 w.accountID(ev.AccountID),
		Name:                      ev.Name,
		ValueSeconds:              ev.Value,
		ValueBusinessHoursSeconds: ev.ValueInBusinessHours,
		Payload:                   ev.Raw,
	}
	if ev.ConversationID != 0 {
		row.ConversationID = &ev.ConversationID
	}
	if ev.InboxID != 0 {
		row.InboxID = &ev.InboxID
	}
	if ev.UserID != 0 {
		row.UserID = &ev.UserID
	}
	row.EventStartTime = parseEventTime(ev.EventStartTime)
	row.EventEndTime = parseEventTime(ev.EventEndTime)
	return row
}

func (w *Worker) accountID(fromPayload int64) int64 {
	if fromPayload != 0 {
		return fromPayload
	}
	return w.opts.AccountID
}

// parseConversationMeta pulls the assignee and contact ids out of the
// conversation's meta block when present.
func parseConversationMeta(meta json.RawMessage) (assigneeID, contactID *int64) {
	if len(meta) == 0 {
		return nil, nil
	}
	var parsed struct {
		Assignee *struct {
			ID int64 `json:"id"`
		} `json:"assignee"`
		Sender *struct {
			ID int64 `json:"id"`
		} `json:"sender"`
	}
	if err := json.Unmarshal(meta, &parsed); err != nil {
		return nil, nil
	}
	if parsed.Assignee != nil {
		assigneeID = &parsed.Assignee.ID
	}
	if parsed.Sender != nil {
		contactID = &parsed.Sender.ID
	}
	return assigneeID, contactID
}

// parseSender extracts the id and Rails class name of a message sender. The
// marts filter on sender_type = 'User' for agent volume.
func parseSender(raw json.RawMessage) (*int64, *string) {
	if len(raw) == 0 {
		return nil, nil
	}
	var parsed struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, nil
	}
	var senderType *string
	switch parsed.Type {
	case "user":
		t := "User"
		senderType = &t
	case "contact":
		t := "Contact"
		senderType = &t
	case "agent_bot":
		t := "AgentBot"
		senderType = &t
	case "":
	default:
		t := parsed.Type
		senderType = &t
	}
	return &parsed.ID, senderType
}

func parseEventTime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil
	}
	return &t
}
