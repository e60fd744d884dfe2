package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
)

const defaultRunLimit = 50

func (r *PostgresRepository) ListRuns(ctx context.Context, req *models.ListRunsRequest) ([]*models.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = defaultRunLimit
	}

	query := `
		SELECT id, crew_version_id, raw_event_id, source, conversation_id,
		       status, result_output, created_at, finished_at
		FROM bot_runs
		WHERE ($1 = '' OR source = $1)
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR conversation_id = $3)
		ORDER BY created_at DESC
		LIMIT $4
	`
	rows, err := r.pool.Query(ctx, query, req.Source, req.Status, req.ConversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		var run models.Run
		err := rows.Scan(&run.ID, &run.CrewVersionID, &run.RawEventID, &run.Source,
			&run.ConversationID, &run.Status, &run.ResultOutput, &run.CreatedAt, &run.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (r *PostgresRepository) GetRun(ctx context.Context, id string) (*models.RunDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var detail models.RunDetail
	err := r.pool.QueryRow(ctx, `
		SELECT id, crew_version_id, raw_event_id, source, conversation_id,
		       status, result_output, created_at, finished_at
		FROM bot_runs WHERE id = $1`, id,
	).Scan(&detail.ID, &detail.CrewVersionID, &detail.RawEventID, &detail.Source,
		&detail.ConversationID, &detail.Status, &detail.ResultOutput,
		&detail.CreatedAt, &detail.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, run_id, seq, occurred_at, event_type, payload_json
		FROM bot_run_events WHERE run_id = $1 ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list run events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev models.RunEvent
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Seq, &ev.OccurredAt, &ev.EventType, &ev.PayloadJSON); err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		detail.Events = append(detail.Events, &ev)
	}
	return &detail, rows.Err()
}

// --- Users ---

func (r *PostgresRepository) CreateUser(ctx context.Context, user *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (full_name, email, hashed_password, is_active, is_superuser, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		user.FullName, user.Email, user.HashedPassword, user.IsActive, user.IsSuperuser, user.Role,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, full_name, email, hashed_password, is_active, is_superuser, role, created_at, updated_at
		FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.FullName, &u.Email, &u.HashedPassword, &u.IsActive,
		&u.IsSuperuser, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *PostgresRepository) ListUsers(ctx context.Context, offset, limit int) ([]*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, full_name, email, hashed_password, is_active, is_superuser, role, created_at, updated_at
		FROM users ORDER BY id OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		err := rows.Scan(&u.ID, &u.FullName, &u.Email, &u.HashedPassword, &u.IsActive,
			&u.IsSuperuser, &u.Role, &u.CreatedAt, &u.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}
