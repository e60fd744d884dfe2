package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/models"
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

	config.MaxConns = 25
	config.MinConns = 5
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

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Raw events ---

func (r *PostgresRepository) CreateRawEvent(ctx context.Context, ev *models.RawEvent) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO raw_chatwoot_events
		(received_at, event_name, account_id, inbox_id, conversation_id, message_id,
		 payload_json, headers_json, is_valid, validation_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		ev.ReceivedAt, ev.EventName, ev.AccountID, ev.InboxID, ev.ConversationID,
		ev.MessageID, ev.PayloadJSON, ev.HeadersJSON, ev.IsValid, ev.ValidationError,
	).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("failed to create raw event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkRawEventInvalid(ctx context.Context, id int64, validationError string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx,
		`UPDATE raw_chatwoot_events SET is_valid = FALSE, validation_error = $2 WHERE id = $1`,
		id, validationError)
	if err != nil {
		return fmt.Errorf("failed to mark raw event invalid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) GetRawEvent(ctx context.Context, id int64) (*models.RawEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var ev models.RawEvent
	err := r.pool.QueryRow(ctx, `
		SELECT id, received_at, event_name, account_id, inbox_id, conversation_id,
		       message_id, payload_json, headers_json, is_valid, validation_error
		FROM raw_chatwoot_events WHERE id = $1`, id,
	).Scan(&ev.ID, &ev.ReceivedAt, &ev.EventName, &ev.AccountID, &ev.InboxID,
		&ev.ConversationID, &ev.MessageID, &ev.PayloadJSON, &ev.HeadersJSON,
		&ev.IsValid, &ev.ValidationError)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get raw event: %w", err)
	}
	return &ev, nil
}

// --- Agents ---

func (r *PostgresRepository) CreateAgent(ctx context.Context, agent *models.Agent) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tools := agent.ToolsJSON
	if len(tools) == 0 {
		tools = []byte("[]")
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO bot_agents (name, role, goal, tools_json)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		agent.Name, agent.Role, agent.Goal, tools,
	).Scan(&agent.ID, &agent.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	agent.ToolsJSON = tools
	return nil
}

func (r *PostgresRepository) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, name, role, goal, tools_json, created_at FROM bot_agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Role, &a.Goal, &a.ToolsJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

func (r *PostgresRepository) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var a models.Agent
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, role, goal, tools_json, created_at FROM bot_agents WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.Role, &a.Goal, &a.ToolsJSON, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &a, nil
}

func (r *PostgresRepository) DeleteAgent(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, "bot_agents", id)
}

// --- Tasks ---

func (r *PostgresRepository) CreateTask(ctx context.Context, task *models.Task) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.pool.QueryRow(ctx, `
		INSERT INTO bot_tasks (name, description, expected_output, agent_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		task.Name, task.Description, task.ExpectedOutput, task.AgentID,
	).Scan(&task.ID, &task.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListTasks(ctx context.Context) ([]*models.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, expected_output, agent_id, created_at FROM bot_tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.ExpectedOutput, &t.AgentID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func (r *PostgresRepository) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t models.Task
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description, expected_output, agent_id, created_at FROM bot_tasks WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Description, &t.ExpectedOutput, &t.AgentID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &t, nil
}

func (r *PostgresRepository) DeleteTask(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, "bot_tasks", id)
}

// --- Crews ---

func (r *PostgresRepository) CreateCrew(ctx context.Context, crew *models.Crew) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if crew.Process == "" {
		crew.Process = "sequential"
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO bot_crews (name, description, process)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		crew.Name, crew.Description, crew.Process,
	).Scan(&crew.ID, &crew.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create crew: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListCrews(ctx context.Context) ([]*models.Crew, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, process, created_at FROM bot_crews ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list crews: %w", err)
	}
	defer rows.Close()

	var crews []*models.Crew
	for rows.Next() {
		var c models.Crew
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Process, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan crew: %w", err)
		}
		crews = append(crews, &c)
	}
	return crews, rows.Err()
}

func (r *PostgresRepository) GetCrew(ctx context.Context, id int64) (*models.Crew, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var c models.Crew
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description, process, created_at FROM bot_crews WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Description, &c.Process, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get crew: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) DeleteCrew(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, "bot_crews", id)
}

func (r *PostgresRepository) ReplaceTaskLinks(ctx context.Context, crewID int64, links []*models.TaskLink) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM bot_crew_task_links WHERE crew_id = $1`, crewID); err != nil {
		return fmt.Errorf("failed to delete existing task links: %w", err)
	}

	for _, link := range links {
		err := tx.QueryRow(ctx, `
			INSERT INTO bot_crew_task_links (crew_id, task_id, step_order)
			VALUES ($1, $2, $3)
			RETURNING id`,
			crewID, link.TaskID, link.StepOrder,
		).Scan(&link.ID)
		if err != nil {
			return fmt.Errorf("failed to insert task link: %w", err)
		}
		link.CrewID = crewID
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit task links: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListCrewClosure(ctx context.Context, crewID int64) ([]*TaskWithAgent, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// Ties on step_order fall back to link id so the ordering stays stable.
	rows, err := r.pool.Query(ctx, `
		SELECT l.step_order,
		       t.id, t.name, t.description, t.expected_output, t.agent_id, t.created_at,
		       a.id, a.name, a.role, a.goal, a.tools_json, a.created_at
		FROM bot_crew_task_links l
		JOIN bot_tasks t ON t.id = l.task_id
		LEFT JOIN bot_agents a ON a.id = t.agent_id
		WHERE l.crew_id = $1
		ORDER BY l.step_order, l.id`, crewID)
	if err != nil {
		return nil, fmt.Errorf("failed to list crew closure: %w", err)
	}
	defer rows.Close()

	var closure []*TaskWithAgent
	for rows.Next() {
		var (
			step  TaskWithAgent
			task  models.Task
			agent models.Agent

			agentID    *int64
			agentName  *string
			agentRole  *string
			agentGoal  *string
			agentTools []byte
			agentAt    *time.Time
		)
		err := rows.Scan(&step.StepOrder,
			&task.ID, &task.Name, &task.Description, &task.ExpectedOutput, &task.AgentID, &task.CreatedAt,
			&agentID, &agentName, &agentRole, &agentGoal, &agentTools, &agentAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crew closure: %w", err)
		}
		step.Task = &task
		if agentID != nil {
			agent = models.Agent{ID: *agentID, Name: *agentName, Role: *agentRole, Goal: *agentGoal, ToolsJSON: agentTools}
			if agentAt != nil {
				agent.CreatedAt = *agentAt
			}
			step.Agent = &agent
		}
		closure = append(closure, &step)
	}
	return closure, rows.Err()
}

// --- Crew versions ---

func (r *PostgresRepository) CreateCrewVersion(ctx context.Context, version *models.CrewVersion) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	err := r.pool.QueryRow(ctx, `
		INSERT INTO bot_crew_versions (crew_id, version_tag, snapshot_json)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`,
		version.CrewID, version.VersionTag, version.SnapshotJSON,
	).Scan(&version.ID, &version.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create crew version: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListCrewVersions(ctx context.Context, crewID int64) ([]*models.CrewVersion, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, `
		SELECT id, crew_id, version_tag, snapshot_json, created_at
		FROM bot_crew_versions WHERE crew_id = $1 ORDER BY id DESC`, crewID)
	if err != nil {
		return nil, fmt.Errorf("failed to list crew versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.CrewVersion
	for rows.Next() {
		var v models.CrewVersion
		if err := rows.Scan(&v.ID, &v.CrewID, &v.VersionTag, &v.SnapshotJSON, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan crew version: %w", err)
		}
		versions = append(versions, &v)
	}
	return versions, rows.Err()
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

func (r *PostgresRepository) DeleteCrewVersion(ctx context.Context, id int64) error {
	return r.deleteByID(ctx, "bot_crew_versions", id)
}

// deleteByID removes one row by primary key from tables with an integer id.
func (r *PostgresRepository) deleteByID(ctx context.Context, table string, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
