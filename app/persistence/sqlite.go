// Package persistence keeps execution logs seen by the console in a local SQLite database.
// The scheduler returns only the last few executions of a job, the archive accumulates them
// until the retention cleanup removes old ones. Records are append-only, keyed by job group,
// job name and execution id.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/umputun/qman/app/scheduler"
)

// SQLiteStore implements the execution archive using SQLite
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// execRecord is a row of executions table
type execRecord struct {
	JobGroup     string `db:"job_group"`
	JobName      string `db:"job_name"`
	LogID        string `db:"log_id"`
	TriggerName  string `db:"trigger_name"`
	TriggerGroup string `db:"trigger_group"`
	Status       string `db:"status"`
	FireTime     string `db:"fire_time"`
	FireTS       int64  `db:"fire_ts"` // unix seconds, 0 if fire time can't be parsed
	EndTime      string `db:"end_time"`
	Duration     int64  `db:"duration"`
	Message      string `db:"message"`
	ArchivedAt   int64  `db:"archived_at"`
}

// NewSQLiteStore opens or creates the database and its schema
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite allows a single writer

	// enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, closeOnErr(db, fmt.Errorf("failed to set WAL mode: %w", err))
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, closeOnErr(db, fmt.Errorf("failed to set busy timeout: %w", err))
	}

	res := &SQLiteStore{db: db, now: time.Now}
	if err := res.initialize(); err != nil {
		return nil, closeOnErr(db, err)
	}
	return res, nil
}

// closeOnErr closes the db after a failed setup step, close failure is joined to the original error
func closeOnErr(db io.Closer, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return errors.Join(err, fmt.Errorf("failed to close db: %w", closeErr))
	}
	return err
}

func (s *SQLiteStore) initialize() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			job_group TEXT NOT NULL,
			job_name TEXT NOT NULL,
			log_id TEXT NOT NULL,
			trigger_name TEXT NOT NULL DEFAULT '',
			trigger_group TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT '',
			fire_time TEXT NOT NULL DEFAULT '',
			fire_ts INTEGER NOT NULL DEFAULT 0,
			end_time TEXT NOT NULL DEFAULT '',
			duration INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			archived_at INTEGER NOT NULL,
			PRIMARY KEY (job_group, job_name, log_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_fire_ts ON executions(fire_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// SaveExecutions stores logs of the job, already stored ones are ignored.
// Returns logs inserted by this call, in the given order.
func (s *SQLiteStore) SaveExecutions(ctx context.Context, group, name string, logs []scheduler.ExecutionLog) ([]scheduler.ExecutionLog, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	archivedAt := s.now().Unix()
	added := []scheduler.ExecutionLog{}
	for _, l := range logs {
		if l.ID == "" {
			log.Printf("[DEBUG] skip execution of %s/%s without id", group, name)
			continue
		}
		rec := execRecord{JobGroup: group, JobName: name, LogID: string(l.ID), TriggerName: l.TriggerName,
			TriggerGroup: l.TriggerGroup, Status: l.Status, FireTime: l.FireTime, EndTime: l.EndTime,
			Duration: l.Duration, Message: l.Message, ArchivedAt: archivedAt}
		if ts, ok := l.Fired(); ok {
			rec.FireTS = ts.Unix()
		}

		res, err := tx.NamedExecContext(ctx, `INSERT OR IGNORE INTO executions
			(job_group, job_name, log_id, trigger_name, trigger_group, status, fire_time, fire_ts, end_time, duration, message, archived_at)
			VALUES (:job_group, :job_name, :log_id, :trigger_name, :trigger_group, :status, :fire_time, :fire_ts, :end_time,
			:duration, :message, :archived_at)`, rec)
		if err != nil {
			return nil, fmt.Errorf("failed to save execution %s of %s/%s: %w", l.ID, group, name, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			added = append(added, rec.log())
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return added, nil
}

// Executions returns archived logs of the job, most recent first. Limit <= 0 means no limit.
func (s *SQLiteStore) Executions(ctx context.Context, group, name string, limit int) ([]scheduler.ExecutionLog, error) {
	if limit <= 0 {
		limit = -1 // sqlite's no limit
	}
	var recs []execRecord
	err := s.db.SelectContext(ctx, &recs, `SELECT * FROM executions WHERE job_group = ? AND job_name = ?
		ORDER BY fire_ts DESC, archived_at DESC, rowid DESC LIMIT ?`, group, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions of %s/%s: %w", group, name, err)
	}

	res := make([]scheduler.ExecutionLog, 0, len(recs))
	for _, r := range recs {
		res = append(res, r.log())
	}
	return res, nil
}

// CleanupOlderThan removes logs fired before the cutoff, logs with unknown fire time are aged by
// their archive time. Returns number of removed logs.
func (s *SQLiteStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM executions
		WHERE (fire_ts > 0 AND fire_ts < ?) OR (fire_ts = 0 AND archived_at < ?)`, cutoff.Unix(), cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup executions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get cleanup count: %w", err)
	}
	return n, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (r execRecord) log() scheduler.ExecutionLog {
	return scheduler.ExecutionLog{ID: scheduler.LogID(r.LogID), JobName: r.JobName, JobGroup: r.JobGroup,
		TriggerName: r.TriggerName, TriggerGroup: r.TriggerGroup, Status: r.Status, FireTime: r.FireTime,
		EndTime: r.EndTime, Duration: r.Duration, Message: r.Message}
}
