package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
)

func (r *PostgresRepository) InboxVolume(ctx context.Context, filter *models.BIFilter) ([]*models.InboxDailyVolume, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT day, inbox_id, conversations_count, messages_count
		FROM mart_inbox_daily_volume
		WHERE ($1 = '' OR day >= $1::date)
		  AND ($2 = '' OR day <= $2::date)
		  AND ($3::bigint IS NULL OR inbox_id = $3)
		ORDER BY day, inbox_id`,
		filter.DateFrom, filter.DateTo, filter.InboxID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inbox volume: %w", err)
	}
	defer rows.Close()

	var out []*models.InboxDailyVolume
	for rows.Next() {
		var v models.InboxDailyVolume
		if err := rows.Scan(&v.Day, &v.InboxID, &v.ConversationsCount, &v.MessagesCount); err != nil {
			return nil, fmt.Errorf("failed to scan inbox volume: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) AgentVolume(ctx context.Context, filter *models.BIFilter) ([]*models.AgentVolume, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT user_id, SUM(messages_count) AS total_messages,
		       SUM(conversations_touched) AS total_conversations
		FROM mart_agent_daily_volume
		WHERE ($1 = '' OR day >= $1::date)
		  AND ($2 = '' OR day <= $2::date)
		GROUP BY user_id
		ORDER BY total_messages DESC`,
		filter.DateFrom, filter.DateTo)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent volume: %w", err)
	}
	defer rows.Close()

	var out []*models.AgentVolume
	for rows.Next() {
		var v models.AgentVolume
		if err := rows.Scan(&v.UserID, &v.TotalMessages, &v.TotalConversations); err != nil {
			return nil, fmt.Errorf("failed to scan agent volume: %w", err)
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) TimeMetrics(ctx context.Context, filter *models.BIFilter) (*models.TimeMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var m models.TimeMetrics
	err := r.pool.QueryRow(ctx, `
		SELECT AVG(first_response_seconds),
		       percentile_cont(0.5) WITHIN GROUP (ORDER BY first_response_seconds),
		       percentile_cont(0.9) WITHIN GROUP (ORDER BY first_response_seconds),
		       AVG(resolution_seconds),
		       percentile_cont(0.5) WITHIN GROUP (ORDER BY resolution_seconds),
		       AVG(reply_time_seconds)
		FROM mart_conversation_time_metrics
		WHERE ($1::bigint IS NULL OR inbox_id = $1)`,
		filter.InboxID,
	).Scan(&m.AvgFirstResponse, &m.P50FirstResponse, &m.P90FirstResponse,
		&m.AvgResolution, &m.P50Resolution, &m.AvgReplyTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &models.TimeMetrics{}, nil
		}
		return nil, fmt.Errorf("failed to query time metrics: %w", err)
	}
	return &m, nil
}

func (r *PostgresRepository) LatestBacklog(ctx context.Context, inboxID *int64) ([]*models.BacklogRow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT inbox_id, status, count
		FROM mart_backlog_snapshot
		WHERE snapshot_ts = (SELECT MAX(snapshot_ts) FROM mart_backlog_snapshot)
		  AND ($1::bigint IS NULL OR inbox_id = $1)
		ORDER BY inbox_id, status`, inboxID)
	if err != nil {
		return nil, fmt.Errorf("failed to query backlog snapshot: %w", err)
	}
	defer rows.Close()

	var out []*models.BacklogRow
	for rows.Next() {
		var b models.BacklogRow
		if err := rows.Scan(&b.InboxID, &b.Status, &b.Count); err != nil {
			return nil, fmt.Errorf("failed to scan backlog row: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}
