package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/flowplan/pkg/models"
	"github.com/ignatij/flowplan/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

// SaveWorkflow creates a new workflow and returns its ID
func (s *PostgresStore) SaveWorkflow(w models.Workflow) (int64, error) {
	var wfID int64
	err := s.db.QueryRowx(`
		INSERT INTO workflows (name, board, definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		w.Name, w.Board, w.Definition, orNow(w.CreatedAt), orNow(w.UpdatedAt)).Scan(&wfID)
	if err != nil {
		return 0, fmt.Errorf("save workflow: %w", err)
	}
	return wfID, nil
}

// GetWorkflow retrieves a workflow by ID, including its board and compiled definition
func (s *PostgresStore) GetWorkflow(id int64) (models.Workflow, error) {
	var wf models.Workflow
	err := s.db.Get(&wf, "SELECT * FROM workflows WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Workflow{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Workflow{}, fmt.Errorf("get workflow %d: %w", id, err)
	}
	return wf, nil
}

func (s *PostgresStore) ListWorkflows() ([]models.Workflow, error) {
	workflows := []models.Workflow{}
	query := "SELECT id, name, created_at, updated_at FROM workflows ORDER BY created_at DESC, id DESC"
	err := s.db.Select(&workflows, query)
	if err != nil {
		return nil, err
	}
	return workflows, nil
}

// UpdateWorkflowBoard stores the board and the definition compiled from it
func (s *PostgresStore) UpdateWorkflowBoard(id int64, board models.Board, def models.ExecutionDefinition) error {
	res, err := s.db.Exec(`
		UPDATE workflows SET board = $1, definition = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3`,
		board, def, id)
	if err != nil {
		return fmt.Errorf("update workflow %d board: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SaveContentPlan(p models.ContentPlan) (string, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.ScheduledPlanStatus
	}
	_, err := s.db.Exec(`
		INSERT INTO content_plans (id, user_id, influencer_id, look_id, prompt, title, starts_at, rrule,
			status, error_msg, last_run_at, claimed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.UserID, p.InfluencerID, p.LookID, p.Prompt, p.Title, p.StartsAt, p.RRule,
		p.Status, p.ErrorMsg, p.LastRunAt, p.ClaimedAt, orNow(p.CreatedAt), orNow(p.UpdatedAt))
	if err != nil {
		return "", fmt.Errorf("save content plan: %w", err)
	}
	return p.ID, nil
}

func (s *PostgresStore) GetContentPlan(id string) (models.ContentPlan, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.ContentPlan{}, storage.ErrNotFound
	}
	var p models.ContentPlan
	err := s.db.Get(&p, "SELECT * FROM content_plans WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.ContentPlan{}, storage.ErrNotFound
	}
	if err != nil {
		return models.ContentPlan{}, fmt.Errorf("get content plan %s: %w", id, err)
	}
	return p, nil
}

// ListContentPlans returns plans ordered by start time; an empty status lists all of them
func (s *PostgresStore) ListContentPlans(status models.PlanStatus) ([]models.ContentPlan, error) {
	plans := []models.ContentPlan{}
	err := s.db.Select(&plans, `
		SELECT * FROM content_plans
		WHERE $1 = '' OR status = $1
		ORDER BY starts_at, id`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list content plans: %w", err)
	}
	return plans, nil
}

// ClaimDuePlans flips due rows to processing in a single statement. Rows
// locked by a concurrent claim are skipped instead of waited on.
func (s *PostgresStore) ClaimDuePlans(opts storage.ClaimOptions) ([]models.ContentPlan, error) {
	plans := []models.ContentPlan{}
	if opts.Limit <= 0 {
		return plans, nil
	}
	var staleBefore *time.Time
	if !opts.StaleBefore.IsZero() {
		staleBefore = &opts.StaleBefore
	}
	err := s.db.Select(&plans, `
		UPDATE content_plans
		SET status = 'processing', claimed_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM content_plans
			WHERE (status = 'scheduled' AND starts_at <= $1)
			   OR ($3::timestamptz IS NOT NULL AND status = 'processing' AND claimed_at < $3)
			ORDER BY starts_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		opts.Now, opts.Limit, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("claim due plans: %w", err)
	}
	// RETURNING does not preserve the subquery order
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].StartsAt.Equal(plans[j].StartsAt) {
			return plans[i].ID < plans[j].ID
		}
		return plans[i].StartsAt.Before(plans[j].StartsAt)
	})
	return plans, nil
}

func (s *PostgresStore) MarkCompleted(id string, next *time.Time, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE content_plans
		SET status = CASE WHEN $1::timestamptz IS NULL THEN 'completed' ELSE 'scheduled' END,
			starts_at = COALESCE($1::timestamptz, starts_at),
			last_run_at = $2,
			error_msg = '',
			claimed_at = NULL,
			updated_at = $2
		WHERE id = $3 AND status = 'processing'`,
		next, at, id)
	if err != nil {
		return fmt.Errorf("mark plan %s completed: %w", id, err)
	}
	return s.checkTransition(res, id)
}

func (s *PostgresStore) MarkFailed(id string, message string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE content_plans
		SET status = 'failed', error_msg = $1, last_run_at = $2, claimed_at = NULL, updated_at = $2
		WHERE id = $3 AND status = 'processing'`,
		message, at, id)
	if err != nil {
		return fmt.Errorf("mark plan %s failed: %w", id, err)
	}
	return s.checkTransition(res, id)
}

// RequeuePlan moves a failed plan back to scheduled at its current start time
func (s *PostgresStore) RequeuePlan(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return storage.ErrNotFound
	}
	res, err := s.db.Exec(`
		UPDATE content_plans
		SET status = 'scheduled', error_msg = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND status = 'failed'`,
		id)
	if err != nil {
		return fmt.Errorf("requeue plan %s: %w", id, err)
	}
	return s.checkTransition(res, id)
}

// checkTransition tells a missing plan apart from one in the wrong status
// when a guarded update touched no rows.
func (s *PostgresStore) checkTransition(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetContentPlan(id); err != nil {
		return err
	}
	return storage.ErrInvalidTransition
}

func (s *PostgresStore) SaveCapturedEvent(e models.CapturedEvent) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO captured_events (workflow_id, node_id, payload, format, headers, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		e.WorkflowID, e.NodeID, string(e.Payload), e.Format, e.Headers, orNow(e.CapturedAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save captured event: %w", err)
	}
	return id, nil
}

// ListCapturedEvents returns the newest events first; an empty nodeID lists the whole workflow
func (s *PostgresStore) ListCapturedEvents(workflowID int64, nodeID string) ([]models.CapturedEvent, error) {
	events := []models.CapturedEvent{}
	err := s.db.Select(&events, `
		SELECT * FROM captured_events
		WHERE workflow_id = $1 AND ($2 = '' OR node_id = $2)
		ORDER BY captured_at DESC, id DESC`,
		workflowID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("list captured events: %w", err)
	}
	return events, nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
