// Package consumer drives the one-at-a-time crew execution pipeline off the
// event stream.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/executor"
	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/metrics"
	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/models"
	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/repository"
	"github.com/ecocrm-platform/ecocrm-stack/common/chatwoot"
	"github.com/ecocrm-platform/ecocrm-stack/common/streams"
)

const errorBackoff = 5 * time.Second

// Replier delivers the crew's answer back into the source conversation.
// *chatwoot.Client satisfies it.
type Replier interface {
	CreateMessage(ctx context.Context, conversationID int64, content string) (*chatwoot.Message, error)
}

// Options configures a Consumer.
type Options struct {
	Stream   string
	Group    string
	Consumer string
	Block    time.Duration
	// CrewVersionID pins execution to one published version; zero selects
	// the most recently published version per message.
	CrewVersionID int64
}

// Consumer reads stream records one at a time, runs the crew, replies, and
// acknowledges only after the run reached a terminal state.
type Consumer struct {
	broker   *streams.Client
	repo     repository.Repository
	executor executor.Executor
	replier  Replier
	opts     Options
	logger   *slog.Logger
}

func New(broker *streams.Client, repo repository.Repository, exec executor.Executor, replier Replier, opts Options, logger *slog.Logger) *Consumer {
	if opts.Block <= 0 {
		opts.Block = 5 * time.Second
	}
	return &Consumer{
		broker:   broker,
		repo:     repo,
		executor: exec,
		replier:  replier,
		opts:     opts,
		logger:   logger,
	}
}

// Run consumes until ctx is cancelled. Transient failures are logged and
// retried after a fixed backoff; the loop itself never gives up.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.broker.EnsureGroup(ctx, c.opts.Stream, c.opts.Group); err != nil {
		return fmt.Errorf("failed to ensure consumer group: %w", err)
	}

	c.logger.Info("consumer started",
		"stream", c.opts.Stream, "group", c.opts.Group, "consumer", c.opts.Consumer)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msgs, err := c.broker.Consume(ctx, c.opts.Stream, c.opts.Group, c.opts.Consumer, 1, c.opts.Block)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			metrics.ConsumeErrors.Inc()
			c.logger.Error("failed to read stream", "error", err)
			c.sleep(ctx, errorBackoff)
			continue
		}

		for _, msg := range msgs {
			if err := c.handle(ctx, msg); err != nil {
				c.logger.Error("failed to handle message, will retry after redelivery",
					"message_id", msg.ID, "error", err)
				c.sleep(ctx, errorBackoff)
				continue
			}
			if err := c.broker.Ack(ctx, c.opts.Stream, c.opts.Group, msg.ID); err != nil {
				c.logger.Error("failed to ack message", "message_id", msg.ID, "error", err)
			}
		}
	}
}

// handle processes one stream record. A nil return means the record reached
// a terminal disposition and must be acked; an error leaves it pending for
// redelivery.
func (c *Consumer) handle(ctx context.Context, msg streams.Message) error {
	inbound, err := decode(msg.Fields)
	if err != nil {
		// Records without a usable raw_event_id predate the current schema
		// or were corrupted in transit. They can never be processed, so
		// they are dropped rather than poisoning the group.
		metrics.MessagesTotal.WithLabelValues("legacy").Inc()
		c.logger.Warn("dropping undecodable stream record", "message_id", msg.ID, "error", err)
		return nil
	}

	if inbound.MessageType != "incoming" {
		metrics.MessagesTotal.WithLabelValues("non_incoming").Inc()
		return nil
	}

	// At-least-once delivery: a run keyed to this raw event means the work
	// already happened.
	if _, err := c.repo.FindRunByRawEvent(ctx, inbound.RawEventID); err == nil {
		metrics.MessagesTotal.WithLabelValues("duplicate").Inc()
		c.logger.Info("raw event already handled", "raw_event_id", inbound.RawEventID)
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed idempotency lookup: %w", err)
	}

	version, err := c.resolveVersion(ctx)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("failed to resolve crew version: %w", err)
	}

	run, err := c.createRun(ctx, inbound, version)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateRun) {
			// Lost the race against another delivery of the same event.
			metrics.MessagesTotal.WithLabelValues("duplicate").Inc()
			return nil
		}
		return fmt.Errorf("failed to create run: %w", err)
	}

	if version == nil {
		return c.skipRun(ctx, run)
	}
	return c.executeRun(ctx, run, version, inbound)
}

func (c *Consumer) resolveVersion(ctx context.Context) (*models.CrewVersion, error) {
	if c.opts.CrewVersionID != 0 {
		return c.repo.GetCrewVersion(ctx, c.opts.CrewVersionID)
	}
	return c.repo.LatestCrewVersion(ctx)
}

func (c *Consumer) createRun(ctx context.Context, inbound *models.InboundMessage, version *models.CrewVersion) (*models.Run, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}

	run := &models.Run{
		ID:         id.String(),
		RawEventID: &inbound.RawEventID,
		Source:     "chatwoot",
		Status:     models.RunStatusRunning,
	}
	if version != nil {
		run.CrewVersionID = &version.ID
	}
	if inbound.ConversationID != nil {
		conv := strconv.FormatInt(*inbound.ConversationID, 10)
		run.ConversationID = &conv
	}
	if err := c.repo.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// skipRun records a visible terminal run for a message that arrived while
// no crew version was published. The event is consumed, not left pending:
// publishing a version later must not replay old traffic.
func (c *Consumer) skipRun(ctx context.Context, run *models.Run) error {
	payload, _ := json.Marshal(map[string]string{"reason": "no published crew version"})
	if _, err := c.repo.AppendRunEvent(ctx, run.ID, models.RunEventSkipped, payload); err != nil {
		return fmt.Errorf("failed to append skip event: %w", err)
	}
	reason := "no published crew version"
	if err := c.repo.FinishRun(ctx, run.ID, models.RunStatusSkipped, &reason); err != nil {
		return fmt.Errorf("failed to finish skipped run: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues("skipped").Inc()
	c.logger.Warn("no published crew version, run skipped", "run_id", run.ID)
	return nil
}

func (c *Consumer) executeRun(ctx context.Context, run *models.Run, version *models.CrewVersion, inbound *models.InboundMessage) error {
	// The start event records the user message that triggered the run, so
	// the run timeline is readable without joining back to the raw event.
	startFields := map[string]interface{}{
		"crew_version_id": version.ID,
		"version_tag":     version.VersionTag,
		"raw_event_id":    inbound.RawEventID,
		"content":         inbound.Content,
	}
	if inbound.Sender.Name != nil {
		startFields["sender"] = *inbound.Sender.Name
	}
	startPayload, _ := json.Marshal(startFields)
	if _, err := c.repo.AppendRunEvent(ctx, run.ID, models.RunEventStart, startPayload); err != nil {
		return fmt.Errorf("failed to append start event: %w", err)
	}

	var snapshot models.Snapshot
	if err := json.Unmarshal(version.SnapshotJSON, &snapshot); err != nil {
		return c.failRun(ctx, run, fmt.Errorf("corrupt snapshot: %w", err))
	}

	input := executor.Input{Content: inbound.Content}
	if inbound.Sender.Name != nil {
		input.SenderName = *inbound.Sender.Name
	}
	if run.ConversationID != nil {
		input.ConversationID = *run.ConversationID
	}

	started := time.Now()
	result, err := c.executor.Execute(ctx, &snapshot, input)
	metrics.RunDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return c.failRun(ctx, run, err)
	}

	c.logUsage(ctx, run, result)

	successPayload, _ := json.Marshal(map[string]interface{}{"output": result.Output})
	if _, err := c.repo.AppendRunEvent(ctx, run.ID, models.RunEventSuccess, successPayload); err != nil {
		return fmt.Errorf("failed to append success event: %w", err)
	}
	if err := c.repo.FinishRun(ctx, run.ID, models.RunStatusSuccess, &result.Output); err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues("success").Inc()

	// The reply is best-effort: the run already reached its terminal state
	// and a Chatwoot outage must not trigger re-execution.
	if inbound.ConversationID != nil && result.Output != "" {
		if _, err := c.replier.CreateMessage(ctx, *inbound.ConversationID, result.Output); err != nil {
			metrics.ReplyErrors.Inc()
			c.logger.Error("failed to deliver reply",
				"run_id", run.ID, "conversation_id", *inbound.ConversationID, "error", err)
		}
	}
	return nil
}

func (c *Consumer) failRun(ctx context.Context, run *models.Run, execErr error) error {
	payload, _ := json.Marshal(map[string]string{"error": execErr.Error()})
	if _, err := c.repo.AppendRunEvent(ctx, run.ID, models.RunEventFailed, payload); err != nil {
		return fmt.Errorf("failed to append failure event: %w", err)
	}
	msg := execErr.Error()
	if err := c.repo.FinishRun(ctx, run.ID, models.RunStatusFailed, &msg); err != nil {
		return fmt.Errorf("failed to finish failed run: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues("failed").Inc()
	c.logger.Error("run failed", "run_id", run.ID, "error", execErr)
	return nil
}

func (c *Consumer) logUsage(ctx context.Context, run *models.Run, result *executor.Result) {
	for _, step := range result.Usage {
		usage := &models.UsageLog{
			RunID:            &run.ID,
			ProviderName:     "openai",
			ModelName:        step.Model,
			PromptTokens:     step.PromptTokens,
			CompletionTokens: step.CompletionTokens,
			TotalTokens:      step.TotalTokens,
		}
		if err := c.repo.LogUsage(ctx, usage); err != nil {
			c.logger.Warn("failed to log usage", "run_id", run.ID, "error", err)
		}
	}
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// decode turns raw stream fields into an InboundMessage. The sender field
// may arrive JSON-encoded once or twice; both forms decode to the same
// struct.
func decode(fields map[string]string) (*models.InboundMessage, error) {
	rawID, err := strconv.ParseInt(fields["raw_event_id"], 10, 64)
	if err != nil || rawID <= 0 {
		return nil, fmt.Errorf("missing or invalid raw_event_id %q", fields["raw_event_id"])
	}

	inbound := &models.InboundMessage{
		RawEventID:  rawID,
		MessageType: fields["message_type"],
		Content:     fields["content"],
		CreatedAt:   fields["created_at"],
	}
	inbound.AccountID = parseOptionalInt(fields["account_id"])
	inbound.InboxID = parseOptionalInt(fields["inbox_id"])
	inbound.ConversationID = parseOptionalInt(fields["conversation_id"])
	inbound.MessageID = parseOptionalInt(fields["message_id"])

	if raw := fields["sender"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &inbound.Sender); err != nil {
			// Double-encoded: a JSON string containing the sender object.
			var once string
			if err2 := json.Unmarshal([]byte(raw), &once); err2 == nil {
				if err3 := json.Unmarshal([]byte(once), &inbound.Sender); err3 != nil {
					return nil, fmt.Errorf("undecodable sender field: %w", err3)
				}
			} else {
				return nil, fmt.Errorf("undecodable sender field: %w", err)
			}
		}
	}
	return inbound, nil
}

func parseOptionalInt(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
