package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecocrm-platform/ecocrm-stack/datahub/internal/models"
)

const queryTimeout = 30 * time.Second

// The marts the BI endpoints read, refreshed in dependency-free order.
var martViews = []string{
	"mart_inbox_daily_volume",
	"mart_agent_daily_volume",
	"mart_conversation_time_metrics",
}

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresRepository connects to PostgreSQL and verifies the connection.
func NewPostgresRepository(ctx context.Context, connString string, logger *slog.Logger) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool, logger: logger}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) UpsertPage(ctx context.Context, bundles []models.ConversationBundle) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, b := range bundles {
		c := b.Conversation
		_, err := tx.Exec(ctx, `
			INSERT INTO stg_conversations (
				conversation_id, account_id, inbox_id, status, assignee_id,
				contact_id, created_at_ts, updated_at_ts, payload_json
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (conversation_id) DO UPDATE SET
				account_id    = EXCLUDED.account_id,
				inbox_id      = EXCLUDED.inbox_id,
				status        = EXCLUDED.status,
				assignee_id   = EXCLUDED.assignee_id,
				contact_id    = EXCLUDED.contact_id,
				created_at_ts = EXCLUDED.created_at_ts,
				updated_at_ts = EXCLUDED.updated_at_ts,
				payload_json  = EXCLUDED.payload_json`,
			c.ConversationID, c.AccountID, c.InboxID, c.Status, c.AssigneeID,
			c.ContactID, c.CreatedAt, c.UpdatedAt, c.Payload)
		if err != nil {
			return fmt.Errorf("failed to upsert conversation %d: %w", c.ConversationID, err)
		}

		for _, m := range b.Messages {
			_, err := tx.Exec(ctx, `
				INSERT INTO stg_messages (
					message_id, conversation_id, account_id, inbox_id,
					message_type, content, private, sender_type, sender_id,
					created_at_ts, updated_at_ts, payload_json
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				ON CONFLICT (message_id) DO UPDATE SET
					conversation_id = EXCLUDED.conversation_id,
					account_id      = EXCLUDED.account_id,
					inbox_id        = EXCLUDED.inbox_id,
					message_type    = EXCLUDED.message_type,
					content         = EXCLUDED.content,
					private         = EXCLUDED.private,
					sender_type     = EXCLUDED.sender_type,
					sender_id       = EXCLUDED.sender_id,
					created_at_ts   = EXCLUDED.created_at_ts,
					updated_at_ts   = EXCLUDED.updated_at_ts,
					payload_json    = EXCLUDED.payload_json`,
				m.MessageID, m.ConversationID, m.AccountID, m.InboxID,
				m.MessageType, m.Content, m.Private, m.SenderType, m.SenderID,
				m.CreatedAt, m.UpdatedAt, m.Payload)
			if err != nil {
				return fmt.Errorf("failed to upsert message %d: %w", m.MessageID, err)
			}
		}

		for _, ev := range b.ReportingEvents {
			_, err := tx.Exec(ctx, `
				INSERT INTO stg_reporting_events (
					reporting_event_id, account_id, conversation_id, inbox_id,
					user_id, name, value_seconds, value_business_hours_seconds,
					event_start_time, event_end_time, created_at_ts, payload_json
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
				ON CONFLICT (reporting_event_id) DO UPDATE SET
					account_id                   = EXCLUDED.account_id,
					conversation_id              = EXCLUDED.conversation_id,
					inbox_id                     = EXCLUDED.inbox_id,
					user_id                      = EXCLUDED.user_id,
					name                         = EXCLUDED.name,
					value_seconds                = EXCLUDED.value_seconds,
					value_business_hours_seconds = EXCLUDED.value_business_hours_seconds,
					event_start_time             = EXCLUDED.event_start_time,
					event_end_time               = EXCLUDED.event_end_time,
					created_at_ts                = EXCLUDED.created_at_ts,
					payload_json                 = EXCLUDED.payload_json`,
				ev.ReportingEventID, ev.AccountID, ev.ConversationID, ev.InboxID,
				ev.UserID, ev.Name, ev.ValueSeconds, ev.ValueBusinessHoursSeconds,
				ev.EventStartTime, ev.EventEndTime, ev.CreatedAt, ev.Payload)
			if err != nil {
				return fmt.Errorf("failed to upsert reporting event %d: %w", ev.ReportingEventID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit page: %w", err)
	}
	return nil
}

// RefreshMarts refreshes each materialized view CONCURRENTLY so the BI
// endpoints keep serving during the rebuild. A concurrent refresh fails on a
// view that was never populated, so it falls back to a blocking refresh.
func (r *PostgresRepository) RefreshMarts(ctx context.Context) error {
	for _, view := range martViews {
		if _, err := r.pool.Exec(ctx, "REFRESH MATERIALIZED VIEW CONCURRENTLY "+view); err != nil {
			r.logger.Warn("concurrent refresh failed, retrying non-concurrently",
				"view", view, "error", err)
			if _, err := r.pool.Exec(ctx, "REFRESH MATERIALIZED VIEW "+view); err != nil {
				return fmt.Errorf("failed to refresh %s: %w", view, err)
			}
		}
	}
	return nil
}

func (r *PostgresRepository) SnapshotBacklog(ctx context.Context, ts time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		INSERT INTO mart_backlog_snapshot (snapshot_ts, inbox_id, status, count)
		SELECT $1, inbox_id, status, COUNT(*)
		FROM stg_conversations
		WHERE status IS NOT NULL
		GROUP BY inbox_id, status`, ts)
	if err != nil {
		return 0, fmt.Errorf("failed to snapshot backlog: %w", err)
	}
	return tag.RowsAffected(), nil
}
