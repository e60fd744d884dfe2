package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/models"
)

const queryTimeout = 5 * time.Second

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to PostgreSQL and verifies the connection.
func NewPostgresRepository(ctx context.Context, connString string) (*PostgresRepository, error) {
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

	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRepository) GetCrewVersion(ctx context.Context, id int64) (*models.CrewVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var v models.CrewVersion
	err := r.pool.QueryRow(ctx, `
		SELECT id, crew_id, version_tag, snapshot_json, created_at
		FROM bot_crew_versions WHERE id = $1`, id,
	).Scan(&v.ID, &v.CrewID, &v.VersionTag, &v.SnapshotJSON, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get crew version: %w", err)
	}
	return &v, nil
}

func (r *PostgresRepository) LatestCrewVersion(ctx context.Context) (*models.CrewVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var v models.CrewVersion
	err := r.pool.QueryRow(ctx, `
		SELECT id, crew_id, version_tag, snapshot_json, created_at
		FROM bot_crew_versions ORDER BY id DESC LIMIT 1`,
	).Scan(&v.ID, &v.CrewID, &v.VersionTag, &v.SnapshotJSON, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest crew version: %w", err)
	}
	return &v, nil
}

func (r *PostgresRepository) FindRunByRawEvent(ctx context.Context, rawEventID int64) (*models.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var run models.Run
	err := r.pool.QueryRow(ctx, `
		SELECT id, crew_version_id, raw_event_id, source, conversation_id,
		       status, result_output, created_at, finished_at
		FROM bot_runs WHERE raw_event_id = $1`, rawEventID,
	).Scan(&run.ID, &run.CrewVersionID, &run.RawEventID, &run.Source,
		&run.ConversationID, &run.Status, &run.ResultOutput, &run.CreatedAt, &run.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find run by raw event: %w", err)
	}
	return &run, nil
}

func (r *PostgresRepository) CreateRun(ctx context.Context, run *models.Run) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.pool.QueryRow(ctx, `
		INSERT INTO bot_runs (id, crew_version_id, raw_event_id, source, conversation_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		run.ID, run.CrewVersionID, run.RawEventID, run.Source, run.ConversationID, run.Status,
	).Scan(&run.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateRun
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FinishRun(ctx context.Context, runID, status string, resultOutput *string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE bot_runs SET status = $2, result_output = $3, finished_at = NOW()
		WHERE id = $1`, runID, status, resultOutput)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) AppendRunEvent(ctx context.Context, runID, eventType string, payload json.RawMessage) (*models.RunEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if len(payload) == 0 {
		payload = []byte("{}")
	}

	// seq is computed inside the insert so two appenders cannot race to the
	// same value; the UNIQUE (run_id, seq) constraint backstops it.
	ev := &models.RunEvent{RunID: runID, EventType: eventType, PayloadJSON: payload}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO bot_run_events (id, run_id, seq, event_type, payload_json)
		SELECT gen_random_uuid()::text, $1,
		       COALESCE(MAX(seq), 0) + 1, $2, $3
		FROM bot_run_events WHERE run_id = $1
		RETURNING id, seq, occurred_at`,
		runID, eventType, payload,
	).Scan(&ev.ID, &ev.Seq, &ev.OccurredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append run event: %w", err)
	}
	return ev, nil
}

func (r *PostgresRepository) LogUsage(ctx context.Context, usage *models.UsageLog) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO ai_usage_logs
		(run_id, provider_name, model_name, prompt_tokens, completion_tokens, total_tokens, estimated_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usage.RunID, usage.ProviderName, usage.ModelName,
		usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens, usage.EstimatedCost)
	if err != nil {
		return fmt.Errorf("failed to log usage: %w", err)
	}
	return nil
}
