package database

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"dev/bravebird/uiverify/pkg/models"
)

//go:embed schema.sql
var schemaSQL string

// Supported drivers
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// ErrRunNotFound is returned when updating a run that does not exist
var ErrRunNotFound = errors.New("verification run not found")

// DB represents the database connection
type DB struct {
	conn   *sql.DB
	driver string
}

// New connects to MySQL
func New(dsn string) (*DB, error) {
	return Open(DriverMySQL, dsn)
}

// Open connects with the given driver and applies the schema. SQLite keeps a
// local run history for the CLI.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		// Report matched rather than changed rows so unchanged updates are not "not found".
		cfg.ClientFoundRows = true
		dsn = cfg.FormatDSN()
	case DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
		conn.SetConnMaxLifetime(0)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, driver: driver}
	if driver == DriverSQLite {
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}
	if err := db.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (db *DB) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// ==================== Verification Runs ====================

// CreateRun inserts a pending run. ID and CreatedAt are filled in when empty.
func (db *DB) CreateRun(ctx context.Context, run *models.VerificationRun) error {
	query := `
		INSERT INTO verification_runs (id, base_url, scenarios, temporal_workflow_id, temporal_run_id, status, created_at, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = models.RunPending
	}
	run.CreatedAt = time.Now().UTC().Truncate(time.Second)

	scenariosJSON, err := json.Marshal(run.Scenarios)
	if err != nil {
		return fmt.Errorf("failed to encode scenarios: %w", err)
	}
	run.ScenariosJSON = string(scenariosJSON)

	_, err = db.conn.ExecContext(ctx, query,
		run.ID,
		run.BaseURL,
		run.ScenariosJSON,
		run.TemporalWorkflowID,
		run.TemporalRunID,
		run.Status,
		run.CreatedAt,
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// SetTemporalIDs records the workflow execution backing a run
func (db *DB) SetTemporalIDs(ctx context.Context, id, workflowID, runID string) error {
	query := `UPDATE verification_runs SET temporal_workflow_id = ?, temporal_run_id = ? WHERE id = ?`
	res, err := db.conn.ExecContext(ctx, query, workflowID, runID, id)
	return checkUpdated(res, err, id)
}

// UpdateRunStatus moves a run to status. Entering running stamps started_at
// once; a finished status stamps completed_at.
func (db *DB) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error {
	query := `
		UPDATE verification_runs
		SET status = ?, error_message = ?,
		    started_at = CASE WHEN ? AND started_at IS NULL THEN ? ELSE started_at END,
		    completed_at = CASE WHEN ? THEN ? ELSE completed_at END
		WHERE id = ?
	`

	now := time.Now().UTC().Truncate(time.Second)
	res, err := db.conn.ExecContext(ctx, query,
		status, errorMsg,
		status == models.RunRunning, now,
		status.Done(), now,
		id,
	)
	return checkUpdated(res, err, id)
}

func checkUpdated(res sql.Result, err error, id string) error {
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, base_url, scenarios, temporal_workflow_id, temporal_run_id, status,
		       created_at, started_at, completed_at, error_message`

// GetRun retrieves a run and its scenario results. A missing run is nil, nil.
func (db *DB) GetRun(ctx context.Context, id string) (*models.VerificationRun, error) {
	query := `SELECT ` + runColumns + ` FROM verification_runs WHERE id = ?`

	run, err := scanRun(db.conn.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Results, err = db.GetScenarioResults(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first, without results
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.VerificationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runColumns + ` FROM verification_runs ORDER BY created_at DESC, id LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.VerificationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.VerificationRun, error) {
	var (
		run                    models.VerificationRun
		startedAt, completedAt sql.NullTime
		errorMessage           sql.NullString
	)
	err := row.Scan(
		&run.ID,
		&run.BaseURL,
		&run.ScenariosJSON,
		&run.TemporalWorkflowID,
		&run.TemporalRunID,
		&run.Status,
		&run.CreatedAt,
		&startedAt,
		&completedAt,
		&errorMessage,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	run.ErrorMessage = errorMessage.String
	if err := json.Unmarshal([]byte(run.ScenariosJSON), &run.Scenarios); err != nil {
		return nil, fmt.Errorf("failed to decode scenarios of run %s: %w", run.ID, err)
	}
	return &run, nil
}

// ==================== Scenario Results ====================

// SaveScenarioResult stores a result and its step outcomes atomically
func (db *DB) SaveScenarioResult(ctx context.Context, r models.ScenarioResult) error {
	if r.RunID == "" {
		return errors.New("scenario result has no run id")
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	resultID := uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO scenario_results (id, run_id, scenario, status, reason, truncated, skipped,
		                              artifact_path, artifact_error, started_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		resultID,
		r.RunID,
		r.Scenario,
		r.Status,
		r.Reason,
		r.Truncated,
		r.Skipped,
		r.ArtifactPath,
		r.ArtifactError,
		r.StartedAt.UTC(),
		int64(r.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to insert scenario result: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO step_outcomes (id, result_id, step_index, name, kind, status, error_kind,
		                           query_text, condition_name, observed, message, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, o := range r.Outcomes {
		_, err := stmt.ExecContext(ctx,
			uuid.New().String(),
			resultID,
			o.Index,
			o.Name,
			o.Kind,
			o.Status,
			o.ErrorKind,
			o.Query,
			o.Condition,
			o.Observed,
			o.Message,
			int64(o.Duration),
		)
		if err != nil {
			return fmt.Errorf("failed to insert step outcome: %w", err)
		}
	}

	return tx.Commit()
}

// GetScenarioResults retrieves the results of a run with their outcomes
func (db *DB) GetScenarioResults(ctx context.Context, runID string) ([]models.ScenarioResult, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, run_id, scenario, status, reason, truncated, skipped,
		       artifact_path, artifact_error, started_at, duration_ns
		FROM scenario_results
		WHERE run_id = ?
		ORDER BY started_at, scenario
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get results: %w", err)
	}
	defer rows.Close()

	var (
		results []models.ScenarioResult
		ids     []string
	)
	for rows.Next() {
		var (
			r        models.ScenarioResult
			id       string
			duration int64
		)
		err := rows.Scan(
			&id,
			&r.RunID,
			&r.Scenario,
			&r.Status,
			&r.Reason,
			&r.Truncated,
			&r.Skipped,
			&r.ArtifactPath,
			&r.ArtifactError,
			&r.StartedAt,
			&duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Duration = time.Duration(duration)
		results = append(results, r)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i, id := range ids {
		outcomes, err := db.stepOutcomes(ctx, id)
		if err != nil {
			return nil, err
		}
		results[i].Outcomes = outcomes
	}
	return results, nil
}

func (db *DB) stepOutcomes(ctx context.Context, resultID string) ([]models.StepOutcome, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT step_index, name, kind, status, error_kind, query_text, condition_name, observed, message, duration_ns
		FROM step_outcomes
		WHERE result_id = ?
		ORDER BY step_index
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("failed to get step outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []models.StepOutcome{}
	for rows.Next() {
		var (
			o        models.StepOutcome
			duration int64
		)
		err := rows.Scan(
			&o.Index,
			&o.Name,
			&o.Kind,
			&o.Status,
			&o.ErrorKind,
			&o.Query,
			&o.Condition,
			&o.Observed,
			&o.Message,
			&duration,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step outcome: %w", err)
		}
		o.Duration = time.Duration(duration)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
