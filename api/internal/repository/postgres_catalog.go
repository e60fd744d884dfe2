package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
)

// --- Test lab ---

func (r *PostgresRepository) CreateTestRun(ctx context.Context, run *models.TestRun) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.pool.QueryRow(ctx, `
		INSERT INTO test_runs (id, name, persona)
		VALUES ($1, $2, $3)
		RETURNING created_at`,
		run.ID, run.Name, run.Persona,
	).Scan(&run.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create test run: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetTestRun(ctx context.Context, id string) (*models.TestRun, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var run models.TestRun
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, persona, created_at FROM test_runs WHERE id = $1`, id,
	).Scan(&run.ID, &run.Name, &run.Persona, &run.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get test run: %w", err)
	}
	return &run, nil
}

func (r *PostgresRepository) AddTestRunEvent(ctx context.Context, ev *models.TestRunEvent) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.pool.QueryRow(ctx, `
		INSERT INTO test_run_events (run_id, role, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		ev.RunID, ev.Role, ev.Content,
	).Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add test run event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListTestRunEvents(ctx context.Context, runID string) ([]*models.TestRunEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, run_id, role, content, created_at FROM test_run_events WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list test run events: %w", err)
	}
	defer rows.Close()

	var events []*models.TestRunEvent
	for rows.Next() {
		var ev models.TestRunEvent
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Role, &ev.Content, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan test run event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// --- Knowledge bases ---

func (r *PostgresRepository) CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if kb.Strategy == "" {
		kb.Strategy = "openai_vector_store"
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO knowledge_bases (name, description, strategy, vector_store_id, expires_after_days)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		kb.Name, kb.Description, kb.Strategy, kb.VectorStoreID, kb.ExpiresAfterDays,
	).Scan(&kb.ID, &kb.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create knowledge base: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListKnowledgeBases(ctx context.Context) ([]*models.KnowledgeBase, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, strategy, vector_store_id, expires_after_days, created_at
		FROM knowledge_bases ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge bases: %w", err)
	}
	defer rows.Close()

	var kbs []*models.KnowledgeBase
	for rows.Next() {
		var kb models.KnowledgeBase
		err := rows.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.Strategy,
			&kb.VectorStoreID, &kb.ExpiresAfterDays, &kb.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan knowledge base: %w", err)
		}
		kbs = append(kbs, &kb)
	}
	return kbs, rows.Err()
}

func (r *PostgresRepository) GetKnowledgeBase(ctx context.Context, id int64) (*models.KnowledgeBase, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var kb models.KnowledgeBase
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, strategy, vector_store_id, expires_after_days, created_at
		FROM knowledge_bases WHERE id = $1`, id,
	).Scan(&kb.ID, &kb.Name, &kb.Description, &kb.Strategy,
		&kb.VectorStoreID, &kb.ExpiresAfterDays, &kb.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get knowledge base: %w", err)
	}
	return &kb, nil
}

func (r *PostgresRepository) DeleteKnowledgeBase(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, "knowledge_bases", id)
}

func (r *PostgresRepository) CreateKBFile(ctx context.Context, file *models.KBFile) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if file.Status == "" {
		file.Status = models.KBFileInProgress
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO kb_files (kb_id, filename, mime_type, remote_file_id, vector_store_file_id,
		                      local_file_path, status, usage_bytes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`,
		file.KBID, file.Filename, file.MimeType, file.RemoteFileID, file.VectorStoreFileID,
		file.LocalFilePath, file.Status, file.UsageBytes,
	).Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create kb file: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListKBFiles(ctx context.Context, kbID int64) ([]*models.KBFile, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id, kb_id, filename, mime_type, remote_file_id, vector_store_file_id,
		       local_file_path, status, usage_bytes, created_at
		FROM kb_files WHERE kb_id = $1 ORDER BY id`, kbID)
	if err != nil {
		return nil, fmt.Errorf("failed to list kb files: %w", err)
	}
	defer rows.Close()

	var files []*models.KBFile
	for rows.Next() {
		var f models.KBFile
		err := rows.Scan(&f.ID, &f.KBID, &f.Filename, &f.MimeType, &f.RemoteFileID,
			&f.VectorStoreFileID, &f.LocalFilePath, &f.Status, &f.UsageBytes, &f.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kb file: %w", err)
		}
		files = append(files, &f)
	}
	return files, rows.Err()
}

func (r *PostgresRepository) UpdateKBFileStatus(ctx context.Context, id int64, status string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `UPDATE kb_files SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update kb file status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- AI catalog ---

func (r *PostgresRepository) CreateProvider(ctx context.Context, p *models.AIProvider) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.pool.QueryRow(ctx, `
		INSERT INTO ai_providers (name, base_url, is_enabled, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		p.Name, p.BaseURL, p.IsEnabled, p.Notes,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create provider: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListProviders(ctx context.Context) ([]*models.AIProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, name, base_url, is_enabled, notes, created_at FROM ai_providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var providers []*models.AIProvider
	for rows.Next() {
		var p models.AIProvider
		if err := rows.Scan(&p.ID, &p.Name, &p.BaseURL, &p.IsEnabled, &p.Notes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, &p)
	}
	return providers, rows.Err()
}

func (r *PostgresRepository) UpdateProvider(ctx context.Context, p *models.AIProvider) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
		UPDATE ai_providers SET name = $2, base_url = $3, is_enabled = $4, notes = $5
		WHERE id = $1`,
		p.ID, p.Name, p.BaseURL, p.IsEnabled, p.Notes)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteProvider(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, "ai_providers", id)
}

func (r *PostgresRepository) CreateModel(ctx context.Context, m *models.AIModel) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Only one default model at a time.
	if m.IsDefault {
		if _, err := tx.Exec(ctx, `UPDATE ai_models SET is_default = FALSE WHERE is_default`); err != nil {
			return fmt.Errorf("failed to clear default model: %w", err)
		}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO ai_models (provider_id, name, modality, input_cost_per_1m, output_cost_per_1m,
		                       currency, context_window_tokens, max_output_tokens, is_default, is_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		m.ProviderID, m.Name, m.Modality, m.InputCostPer1M, m.OutputCostPer1M,
		m.Currency, m.ContextWindowTokens, m.MaxOutputTokens, m.IsDefault, m.IsEnabled,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create model: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit model: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListModels(ctx context.Context, enabledOnly bool) ([]*models.AIModel, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_id, name, modality, input_cost_per_1m, output_cost_per_1m,
		       currency, context_window_tokens, max_output_tokens, is_default, is_enabled, created_at
		FROM ai_models
		WHERE $1 = FALSE OR is_enabled
		ORDER BY id`, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	defer rows.Close()

	var out []*models.AIModel
	for rows.Next() {
		var m models.AIModel
		err := rows.Scan(&m.ID, &m.ProviderID, &m.Name, &m.Modality, &m.InputCostPer1M,
			&m.OutputCostPer1M, &m.Currency, &m.ContextWindowTokens, &m.MaxOutputTokens,
			&m.IsDefault, &m.IsEnabled, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetModel(ctx context.Context, id int64) (*models.AIModel, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var m models.AIModel
	err := r.pool.QueryRow(ctx, `
		SELECT id, provider_id, name, modality, input_cost_per_1m, output_cost_per_1m,
		       currency, context_window_tokens, max_output_tokens, is_default, is_enabled, created_at
		FROM ai_models WHERE id = $1`, id,
	).Scan(&m.ID, &m.ProviderID, &m.Name, &m.Modality, &m.InputCostPer1M,
		&m.OutputCostPer1M, &m.Currency, &m.ContextWindowTokens, &m.MaxOutputTokens,
		&m.IsDefault, &m.IsEnabled, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return &m, nil
}

func (r *PostgresRepository) DeleteModel(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, "ai_models", id)
}

func (r *PostgresRepository) ListUsageLogs(ctx context.Context, runID string, limit int) ([]*models.AIUsageLog, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, run_id, provider_name, model_name, prompt_tokens, completion_tokens,
		       total_tokens, estimated_cost, created_at
		FROM ai_usage_logs
		WHERE $1 = '' OR run_id = $1
		ORDER BY id DESC
		LIMIT $2`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AIUsageLog
	for rows.Next() {
		var l models.AIUsageLog
		err := rows.Scan(&l.ID, &l.RunID, &l.ProviderName, &l.ModelName, &l.PromptTokens,
			&l.CompletionTokens, &l.TotalTokens, &l.EstimatedCost, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
