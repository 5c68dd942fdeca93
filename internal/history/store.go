package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"deployx/internal/errdefs"
	"deployx/internal/logger"
	"deployx/internal/models"
)

// ErrInFlight is returned by BeginAttempt when the project already has
// a deployment in progress. New requests are rejected, not queued.
var ErrInFlight = errors.New("a deployment is already in progress for this project")

// ErrNotFound is returned by Get/Latest when no matching record exists.
var ErrNotFound = errors.New("deployment record not found")

// StateDirName holds per-project deployx state next to deployx.yml.
const StateDirName = ".deployx"

// Store is the append-only deployment history for one project,
// backed by a sqlite database local to the project directory.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open creates (if needed) and opens the history database under
// <projectDir>/.deployx/history.db.
func Open(projectDir string) (*Store, error) {
	stateDir := filepath.Join(projectDir, StateDirName)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, errdefs.HistoryPersistence(fmt.Errorf("create state dir: %w", err))
	}

	dbPath := filepath.Join(stateDir, "history.db")
	// _txlock=immediate makes BeginTx take the write lock up front so
	// the check-then-insert in BeginAttempt is one critical section.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errdefs.HistoryPersistence(fmt.Errorf("open history db: %w", err))
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errdefs.HistoryPersistence(fmt.Errorf("connect history db: %w", err))
	}

	createTable := `
	CREATE TABLE IF NOT EXISTS deployments (
		sequence      INTEGER NOT NULL,
		project       TEXT NOT NULL,
		platform      TEXT NOT NULL,
		status        TEXT NOT NULL,
		started_at    DATETIME NOT NULL,
		finished_at   DATETIME,
		resource_id   TEXT NOT NULL DEFAULT '',
		resource_url  TEXT NOT NULL DEFAULT '',
		deployment_id TEXT NOT NULL DEFAULT '',
		url           TEXT NOT NULL DEFAULT '',
		rollback_of   INTEGER NOT NULL DEFAULT 0,
		error_detail  TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (project, sequence)
	);`
	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, errdefs.HistoryPersistence(fmt.Errorf("create deployments table: %w", err))
	}

	log := logger.WithModule("history")
	log.WithField("path", dbPath).Debug("history store opened")

	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// BeginAttempt enforces the single-flight invariant and opens a new
// record in one transaction: if any record for the project is still
// pending or running it returns ErrInFlight, otherwise it inserts a
// pending record with the next sequence number.
func (s *Store) BeginAttempt(ctx context.Context, project, platform string) (*models.DeploymentRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errdefs.HistoryPersistence(err)
	}
	defer tx.Rollback()

	var inFlight int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deployments WHERE project = ? AND status IN (?, ?)`,
		project, models.StatusPending, models.StatusRunning).Scan(&inFlight)
	if err != nil {
		return nil, errdefs.HistoryPersistence(err)
	}
	if inFlight > 0 {
		return nil, ErrInFlight
	}

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM deployments WHERE project = ?`,
		project).Scan(&next)
	if err != nil {
		return nil, errdefs.HistoryPersistence(err)
	}

	rec := &models.DeploymentRecord{
		Sequence:  next,
		Project:   project,
		Platform:  platform,
		Status:    models.StatusPending,
		StartedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO deployments (sequence, project, platform, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Sequence, rec.Project, rec.Platform, rec.Status, rec.StartedAt)
	if err != nil {
		return nil, errdefs.HistoryPersistence(fmt.Errorf("insert deployment record: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return nil, errdefs.HistoryPersistence(err)
	}

	s.log.WithFields(logrus.Fields{
		"project":  project,
		"platform": platform,
		"sequence": rec.Sequence,
	}).Debug("deployment attempt recorded")
	return rec, nil
}

// MarkRunning moves a pending record to running.
func (s *Store) MarkRunning(ctx context.Context, project string, sequence int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET status = ? WHERE project = ? AND sequence = ?`,
		models.StatusRunning, project, sequence)
	if err != nil {
		return errdefs.HistoryPersistence(err)
	}
	return nil
}

// SetResource records the remote resource identifiers. Identifiers are
// write-once: an already-set resource_id is never overwritten.
func (s *Store) SetResource(ctx context.Context, project string, sequence int64, resourceID, resourceURL string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deployments SET resource_id = ?, resource_url = ?
		 WHERE project = ? AND sequence = ? AND resource_id = ''`,
		resourceID, resourceURL, project, sequence)
	if err != nil {
		return errdefs.HistoryPersistence(err)
	}
	return nil
}

// Complete moves a record to a terminal status.
func (s *Store) Complete(ctx context.Context, project string, sequence int64, status models.Status, deploymentID, url, errDetail string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deployments
		 SET status = ?, deployment_id = ?, url = ?, error_detail = ?, finished_at = ?
		 WHERE project = ? AND sequence = ?`,
		status, deploymentID, url, errDetail, time.Now().UTC(), project, sequence)
	if err != nil {
		return errdefs.HistoryPersistence(err)
	}
	return nil
}

// Append inserts a complete terminal record with the next sequence
// number, used for rollback records. History is append-only: rollback
// never rewrites the record it references.
func (s *Store) Append(ctx context.Context, rec *models.DeploymentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errdefs.HistoryPersistence(err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM deployments WHERE project = ?`,
		rec.Project).Scan(&rec.Sequence)
	if err != nil {
		return errdefs.HistoryPersistence(err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO deployments
		 (sequence, project, platform, status, started_at, finished_at,
		  resource_id, resource_url, deployment_id, url, rollback_of, error_detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Sequence, rec.Project, rec.Platform, rec.Status, rec.StartedAt, rec.FinishedAt,
		rec.ResourceID, rec.ResourceURL, rec.DeploymentID, rec.URL, rec.RollbackOf, rec.ErrorDetail)
	if err != nil {
		return errdefs.HistoryPersistence(fmt.Errorf("append deployment record: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return errdefs.HistoryPersistence(err)
	}
	return nil
}

// Get returns the record with the given sequence number.
func (s *Store) Get(ctx context.Context, project string, sequence int64) (*models.DeploymentRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE project = ? AND sequence = ?`, project, sequence)
	return scanRecord(row)
}

// Latest returns the most recent record for the project.
func (s *Store) Latest(ctx context.Context, project string) (*models.DeploymentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` WHERE project = ? ORDER BY sequence DESC LIMIT 1`, project)
	return scanRecord(row)
}

// LatestSucceeded returns the most recent record with status succeeded.
func (s *Store) LatestSucceeded(ctx context.Context, project string) (*models.DeploymentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` WHERE project = ? AND status = ? ORDER BY sequence DESC LIMIT 1`,
		project, models.StatusSucceeded)
	return scanRecord(row)
}

// List returns up to limit records, most recent first. limit <= 0
// means no limit.
func (s *Store) List(ctx context.Context, project string, limit int) ([]*models.DeploymentRecord, error) {
	query := selectColumns + ` WHERE project = ? ORDER BY sequence DESC`
	args := []interface{}{project}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errdefs.HistoryPersistence(err)
	}
	defer rows.Close()

	var records []*models.DeploymentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.HistoryPersistence(err)
	}
	return records, nil
}

const selectColumns = `
	SELECT sequence, project, platform, status, started_at, finished_at,
	       resource_id, resource_url, deployment_id, url, rollback_of, error_detail
	FROM deployments`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.DeploymentRecord, error) {
	var rec models.DeploymentRecord
	var status string
	var finished sql.NullTime
	err := row.Scan(&rec.Sequence, &rec.Project, &rec.Platform, &status,
		&rec.StartedAt, &finished, &rec.ResourceID, &rec.ResourceURL,
		&rec.DeploymentID, &rec.URL, &rec.RollbackOf, &rec.ErrorDetail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errdefs.HistoryPersistence(err)
	}
	rec.Status = models.Status(status)
	if finished.Valid {
		rec.FinishedAt = finished.Time
	}
	return &rec, nil
}
