// Package ledger keeps a local run history in SQLite so past extraction
// runs stay queryable after the process exits.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eventmill/eventmill/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id            TEXT PRIMARY KEY,
	started_at        INTEGER NOT NULL,
	finished_at       INTEGER NOT NULL,
	success           INTEGER NOT NULL,
	events_processed  INTEGER NOT NULL,
	clients_processed INTEGER NOT NULL,
	uploaded_bytes    INTEGER NOT NULL,
	failed_clients    TEXT NOT NULL DEFAULT '',
	errors            TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

// RunRow is one recorded pipeline run.
type RunRow struct {
	RunID            string
	StartedAt        time.Time
	FinishedAt       time.Time
	Success          bool
	EventsProcessed  int
	ClientsProcessed int
	UploadedBytes    int64
	FailedClients    []string
	Errors           []string
}

// Ledger records pipeline runs in a local SQLite database.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the run ledger at the given path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: failed to create schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// RecordRun persists the result of one pipeline run.
func (l *Ledger) RecordRun(ctx context.Context, result *types.RunResult) error {
	failed := result.FailedClients()
	sort.Strings(failed)

	_, err := l.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(run_id, started_at, finished_at, success, events_processed,
			 clients_processed, uploaded_bytes, failed_clients, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.RunID,
		result.StartTime.UnixMilli(),
		result.EndTime.UnixMilli(),
		boolToInt(result.Success),
		result.EventsProcessed,
		result.ClientsProcessed,
		uploadedBytes(result),
		strings.Join(failed, ","),
		strings.Join(result.Errors, "\n"),
	)
	if err != nil {
		return fmt.Errorf("ledger: failed to record run %s: %w", result.RunID, err)
	}
	return nil
}

// RecentRuns returns up to n runs, most recent first.
func (l *Ledger) RecentRuns(ctx context.Context, n int) ([]RunRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, success, events_processed,
		       clients_processed, uploaded_bytes, failed_clients, errors
		FROM runs ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("ledger: failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRow
	for rows.Next() {
		var (
			r                      RunRow
			startedAt, finishedAt  int64
			success                int
			failedClients, errText string
		)
		if err := rows.Scan(&r.RunID, &startedAt, &finishedAt, &success,
			&r.EventsProcessed, &r.ClientsProcessed, &r.UploadedBytes,
			&failedClients, &errText); err != nil {
			return nil, fmt.Errorf("ledger: failed to scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(startedAt).UTC()
		r.FinishedAt = time.UnixMilli(finishedAt).UTC()
		r.Success = success != 0
		if failedClients != "" {
			r.FailedClients = strings.Split(failedClients, ",")
		}
		if errText != "" {
			r.Errors = strings.Split(errText, "\n")
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the ledger database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func uploadedBytes(result *types.RunResult) int64 {
	if result.UploadStats == nil {
		return 0
	}
	return result.UploadStats.TotalSizeBytes
}
