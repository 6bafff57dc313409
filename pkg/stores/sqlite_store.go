package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/phasekit/pkg/engine"
	"github.com/openfroyo/phasekit/pkg/telemetry"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ Store = (*SQLiteStore)(nil)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db      *sql.DB
	cfg     Config
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// Config holds SQLite store configuration
type Config struct {
	Path              string
	BusyTimeoutMillis int
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *SQLiteStore) { s.logger = logger }
}

// WithTelemetry traces every store call and records it in the metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(s *SQLiteStore) {
		if tel == nil {
			return
		}
		s.metrics = tel.Metrics
		s.tracer = tel.Tracer
	}
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config, opts ...Option) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.BusyTimeoutMillis == 0 {
		cfg.BusyTimeoutMillis = 5000
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: is a separate database.
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	s := &SQLiteStore{cfg: cfg, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init opens the database connection. File databases use WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)&_txlock=immediate",
		s.cfg.Path, s.cfg.BusyTimeoutMillis)
	if s.cfg.Path != MemoryPath {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	s.logger.Debug().Str("path", s.cfg.Path).Msg("Database opened")
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ := m.Version()
	s.logger.Debug().Uint("version", version).Msg("Database migrated")
	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// observe starts the span of a store call. The returned func ends it and
// records the duration and outcome.
func (s *SQLiteStore) observe(ctx context.Context, operation string) (context.Context, func(*error)) {
	ctx, span := s.tracer.StartStoreSpan(ctx, operation)
	start := time.Now()
	return ctx, func(err *error) {
		*err = classify(*err)
		s.metrics.RecordStoreOperation(operation, time.Since(start), *err)
		telemetry.EndSpan(span, *err)
	}
}

// classify marks SQLITE_BUSY and SQLITE_LOCKED failures as transient so
// callers can tell them apart from broken queries.
func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return engine.NewTransientError("database is busy", err).WithCode(engine.ErrCodeStoreBusy)
	}
	return err
}

func notFound(kind, id string) *engine.EngineError {
	return engine.NewPermanentError(fmt.Sprintf("%s not found: %s", kind, id), nil).
		WithCode(engine.ErrCodeNotFound).
		WithResource(id)
}

// SaveWorkflow stores a workflow document. An expectedVersion of zero creates
// the workflow; otherwise the stored version must equal expectedVersion. The
// saved version is always newer than expectedVersion and is written back to
// wf.Version. A stale expectedVersion is a conflict. Only workflows that pass
// Validate are written, so every stored document decodes again.
func (s *SQLiteStore) SaveWorkflow(ctx context.Context, wf *engine.OrchestrationWorkflow, expectedVersion int64) (err error) {
	ctx, done := s.observe(ctx, "save_workflow")
	defer done(&err)

	if wf == nil || wf.ID == "" {
		return engine.NewPermanentError("workflow id is required", nil).WithCode(engine.ErrCodeValidation)
	}
	if err := wf.Validate(); err != nil {
		return fmt.Errorf("refusing to store workflow %s: %w", wf.ID, err)
	}
	version := wf.Version
	if version <= expectedVersion {
		version = expectedVersion + 1
	}

	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("failed to encode workflow: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var current int64
	err = tx.QueryRowContext(ctx, `SELECT version FROM workflows WHERE id = ?`, wf.ID).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectedVersion != 0 {
			return notFound("workflow", wf.ID)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflows (id, name, account_id, topology, version, document, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, wf.ID, wf.Name, wf.AccountID, string(wf.Topology), version, string(doc), now, now)
		if err != nil {
			return fmt.Errorf("failed to create workflow: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to get workflow version: %w", err)
	default:
		if expectedVersion == 0 {
			return engine.NewConflictError(fmt.Sprintf("workflow already exists: %s", wf.ID), nil).
				WithCode(engine.ErrCodeAlreadyExists).
				WithResource(wf.ID)
		}
		if current != expectedVersion {
			return engine.NewConflictError(
				fmt.Sprintf("workflow version is %d, expected %d", current, expectedVersion), nil).
				WithResource(wf.ID).
				WithOperation("save_workflow")
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE workflows
			SET name = ?, account_id = ?, topology = ?, version = ?, document = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`, wf.Name, wf.AccountID, string(wf.Topology), version, string(doc), now, wf.ID, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update workflow: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit workflow: %w", err)
	}
	wf.Version = version

	s.logger.Debug().
		Str("workflow_id", wf.ID).
		Int64("version", wf.Version).
		Msg("Workflow saved")
	return nil
}

// GetWorkflow loads a workflow document with its index rebuilt.
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (wf *engine.OrchestrationWorkflow, err error) {
	ctx, done := s.observe(ctx, "get_workflow")
	defer done(&err)

	var doc string
	var version int64
	err = s.db.QueryRowContext(ctx, `SELECT document, version FROM workflows WHERE id = ?`, id).Scan(&doc, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("workflow", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	// The version column is authoritative; the document may carry an older one.
	wf = &engine.OrchestrationWorkflow{}
	if err := json.Unmarshal([]byte(doc), wf); err != nil {
		return nil, fmt.Errorf("failed to decode workflow %s: %w", id, err)
	}
	wf.Version = version
	return wf, nil
}

// ListWorkflows lists workflows, most recently updated first. A non-positive
// limit lists all of them.
func (s *SQLiteStore) ListWorkflows(ctx context.Context, limit, offset int) (list []*WorkflowSummary, err error) {
	ctx, done := s.observe(ctx, "list_workflows")
	defer done(&err)

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, account_id, topology, version, created_at, updated_at
		FROM workflows
		ORDER BY updated_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	list = []*WorkflowSummary{}
	for rows.Next() {
		w := &WorkflowSummary{}
		var topology string
		if err := rows.Scan(&w.ID, &w.Name, &w.AccountID, &topology, &w.Version, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		w.Topology = engine.OrchestrationWorkflowType(topology)
		list = append(list, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}
	return list, nil
}

// DeleteWorkflow deletes a workflow by ID
func (s *SQLiteStore) DeleteWorkflow(ctx context.Context, id string) (err error) {
	ctx, done := s.observe(ctx, "delete_workflow")
	defer done(&err)

	result, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound("workflow", id)
	}
	return nil
}

// RecordAttempt appends an attempt of a state.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, attempt *Attempt) (err error) {
	ctx, done := s.observe(ctx, "record_attempt")
	defer done(&err)

	if attempt.ExecutionID == "" || attempt.StateID == "" {
		return engine.NewPermanentError("attempt requires an execution and a state", nil).WithCode(engine.ErrCodeValidation)
	}
	if err := attempt.Status.Validate(); err != nil {
		return engine.NewPermanentError("invalid attempt status", err).WithCode(engine.ErrCodeValidation)
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO state_attempts (execution_id, state_id, status, message, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, attempt.ExecutionID, attempt.StateID, string(attempt.Status), attempt.Message, attempt.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get attempt ID: %w", err)
	}
	attempt.ID = id
	return nil
}

// AttemptCount implements engine.AttemptHistory. Every recorded attempt of
// the state counts.
func (s *SQLiteStore) AttemptCount(ctx context.Context, executionID, stateID string) (n int, err error) {
	ctx, done := s.observe(ctx, "attempt_count")
	defer done(&err)

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM state_attempts WHERE execution_id = ? AND state_id = ?
	`, executionID, stateID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return n, nil
}

// ListAttempts lists the attempts of an execution in the order they were recorded.
func (s *SQLiteStore) ListAttempts(ctx context.Context, executionID string) (list []*Attempt, err error) {
	ctx, done := s.observe(ctx, "list_attempts")
	defer done(&err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, state_id, status, message, created_at
		FROM state_attempts
		WHERE execution_id = ?
		ORDER BY id
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	list = []*Attempt{}
	for rows.Next() {
		a := &Attempt{}
		var status string
		if err := rows.Scan(&a.ID, &a.ExecutionID, &a.StateID, &status, &a.Message, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Status = engine.ExecutionStatus(status)
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}
	return list, nil
}

// AddInterrupt raises an interrupt against an execution. A missing ID is generated.
func (s *SQLiteStore) AddInterrupt(ctx context.Context, interrupt *engine.Interrupt) (err error) {
	ctx, done := s.observe(ctx, "add_interrupt")
	defer done(&err)

	if interrupt.ExecutionID == "" {
		return engine.NewPermanentError("interrupt requires an execution", nil).WithCode(engine.ErrCodeValidation)
	}
	if err := interrupt.Type.Validate(); err != nil {
		return engine.NewPermanentError("invalid interrupt", err).WithCode(engine.ErrCodeValidation)
	}
	if interrupt.ID == "" {
		interrupt.ID = uuid.New().String()
	}
	if interrupt.CreatedAt.IsZero() {
		interrupt.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interrupts (id, execution_id, type, created_at)
		VALUES (?, ?, ?, ?)
	`, interrupt.ID, interrupt.ExecutionID, string(interrupt.Type), interrupt.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add interrupt: %w", err)
	}

	s.logger.Info().
		Str("execution_id", interrupt.ExecutionID).
		Str("type", string(interrupt.Type)).
		Msg("Interrupt added")
	return nil
}

// PendingInterrupts implements engine.InterruptSource.
func (s *SQLiteStore) PendingInterrupts(ctx context.Context, executionID string) (list []engine.Interrupt, err error) {
	ctx, done := s.observe(ctx, "pending_interrupts")
	defer done(&err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, type, created_at
		FROM interrupts
		WHERE execution_id = ? AND cleared_at IS NULL
		ORDER BY created_at, id
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list interrupts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var i engine.Interrupt
		var t string
		if err := rows.Scan(&i.ID, &i.ExecutionID, &t, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interrupt: %w", err)
		}
		i.Type = engine.ExecutionInterruptType(t)
		list = append(list, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating interrupts: %w", err)
	}
	return list, nil
}

// ClearInterrupts clears the pending interrupts of an execution. An empty
// type clears all of them. It returns how many were cleared.
func (s *SQLiteStore) ClearInterrupts(ctx context.Context, executionID string, t engine.ExecutionInterruptType) (n int64, err error) {
	ctx, done := s.observe(ctx, "clear_interrupts")
	defer done(&err)

	query := `UPDATE interrupts SET cleared_at = ? WHERE execution_id = ? AND cleared_at IS NULL`
	args := []interface{}{time.Now().UTC(), executionID}
	if t != "" {
		query += ` AND type = ?`
		args = append(args, string(t))
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear interrupts: %w", err)
	}
	n, err = result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// NotifyPhaseStatusChange implements engine.NotificationSink by appending the
// change to the phase status log.
func (s *SQLiteStore) NotifyPhaseStatusChange(ctx context.Context, ev *engine.ExecutionEvent, phase *engine.WorkflowPhase) (err error) {
	ctx, done := s.observe(ctx, "log_phase_status")
	defer done(&err)

	var workflowID string
	groups := []string{}
	if ev.Workflow != nil {
		workflowID = ev.Workflow.ID
		if g := engine.MatchingUserGroups(ev.Workflow.NotificationRules, engine.ScopeWorkflowPhase, ev.Status); g != nil {
			groups = g
		}
	}
	encoded, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("failed to encode user groups: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO phase_status_log (execution_id, workflow_id, phase_id, phase_name, display_name, status, rollback, user_groups, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ExecutionID, workflowID, phase.ID, phase.Name, ev.DisplayName, string(ev.Status), phase.Rollback, string(encoded), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to log phase status: %w", err)
	}
	return nil
}

// PhaseHistory lists the phase status changes of an execution in order.
func (s *SQLiteStore) PhaseHistory(ctx context.Context, executionID string) (list []*PhaseStatusEntry, err error) {
	ctx, done := s.observe(ctx, "phase_history")
	defer done(&err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_id, workflow_id, phase_id, phase_name, display_name, status, rollback, user_groups, created_at
		FROM phase_status_log
		WHERE execution_id = ?
		ORDER BY id
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phase history: %w", err)
	}
	defer rows.Close()

	list = []*PhaseStatusEntry{}
	for rows.Next() {
		e := &PhaseStatusEntry{}
		var status, groups string
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.WorkflowID, &e.PhaseID, &e.PhaseName,
			&e.DisplayName, &status, &e.Rollback, &groups, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan phase status: %w", err)
		}
		e.Status = engine.ExecutionStatus(status)
		if err := json.Unmarshal([]byte(groups), &e.UserGroups); err != nil {
			return nil, fmt.Errorf("failed to decode user groups: %w", err)
		}
		list = append(list, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating phase history: %w", err)
	}
	return list, nil
}

// RegisterInstances adds pending instances to the inventory of a phase.
// Instances already known keep their status.
func (s *SQLiteStore) RegisterInstances(ctx context.Context, executionID, phaseID string, names []string) (err error) {
	ctx, done := s.observe(ctx, "register_instances")
	defer done(&err)
	return s.upsertInstances(ctx, executionID, phaseID, names, InstanceStatusPending)
}

// ExtractInstances implements engine.InstanceExtractor. The instances a phase
// deployed to are read from the "instances" entry of the event state data and
// marked deployed.
func (s *SQLiteStore) ExtractInstances(ctx context.Context, ev *engine.ExecutionEvent, phase *engine.WorkflowPhase) (err error) {
	ctx, done := s.observe(ctx, "extract_instances")
	defer done(&err)

	names, err := instanceNames(ev.StateData["instances"])
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	if err := s.upsertInstances(ctx, ev.ExecutionID, phase.ID, names, InstanceStatusDeployed); err != nil {
		return err
	}

	s.logger.Debug().
		Str("execution_id", ev.ExecutionID).
		Str("phase_id", phase.ID).
		Int("instances", len(names)).
		Msg("Instances deployed")
	return nil
}

// RemainingInstances implements engine.InstanceSelector.
func (s *SQLiteStore) RemainingInstances(ctx context.Context, executionID, phaseID string) (n int, err error) {
	ctx, done := s.observe(ctx, "remaining_instances")
	defer done(&err)

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM instances WHERE execution_id = ? AND phase_id = ? AND status = ?
	`, executionID, phaseID, string(InstanceStatusPending)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count instances: %w", err)
	}
	return n, nil
}

// ListInstances lists the inventory of a phase by name.
func (s *SQLiteStore) ListInstances(ctx context.Context, executionID, phaseID string) (list []*Instance, err error) {
	ctx, done := s.observe(ctx, "list_instances")
	defer done(&err)

	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, phase_id, name, status, updated_at
		FROM instances
		WHERE execution_id = ? AND phase_id = ?
		ORDER BY name
	`, executionID, phaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	list = []*Instance{}
	for rows.Next() {
		i := &Instance{}
		var status string
		if err := rows.Scan(&i.ExecutionID, &i.PhaseID, &i.Name, &status, &i.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		i.Status = InstanceStatus(status)
		list = append(list, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}
	return list, nil
}

func (s *SQLiteStore) upsertInstances(ctx context.Context, executionID, phaseID string, names []string, status InstanceStatus) error {
	if executionID == "" || phaseID == "" {
		return engine.NewPermanentError("instances require an execution and a phase", nil).WithCode(engine.ErrCodeValidation)
	}

	conflict := `DO NOTHING`
	if status == InstanceStatusDeployed {
		conflict = `DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO instances (execution_id, phase_id, name, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (execution_id, phase_id, name) `+conflict)
	if err != nil {
		return fmt.Errorf("failed to prepare instance upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, executionID, phaseID, name, string(status), now); err != nil {
			return fmt.Errorf("failed to upsert instance %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit instances: %w", err)
	}
	return nil
}

// instanceNames reads instance names from state data. Entries are names or
// objects with a "name" or "hostName" field.
func instanceNames(v interface{}) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return list, nil
	case []interface{}:
		names := make([]string, 0, len(list))
		for i, item := range list {
			switch it := item.(type) {
			case string:
				names = append(names, it)
			case map[string]interface{}:
				name, _ := it["name"].(string)
				if name == "" {
					name, _ = it["hostName"].(string)
				}
				if name == "" {
					return nil, fmt.Errorf("instance %d has no name", i)
				}
				names = append(names, name)
			default:
				return nil, fmt.Errorf("instance %d has unsupported type %T", i, item)
			}
		}
		return names, nil
	default:
		return nil, fmt.Errorf("instances have unsupported type %T", v)
	}
}
