// Package sqlite keeps queue dead letters in a SQLite database so that jobs
// which exhausted their attempts survive a restart and can be retried by an
// operator.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/wastedispatch/core/queue"
)

// DeadLetterStore implements queue.DeadLetterSink.
type DeadLetterStore struct {
	db *sql.DB
}

// NewDeadLetterStore opens or creates the database and ensures the schema.
func NewDeadLetterStore(path string) (*DeadLetterStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	schema := `CREATE TABLE IF NOT EXISTS dead_letters (
        id TEXT PRIMARY KEY,
        kind TEXT NOT NULL,
        payload BLOB,
        attempt INTEGER NOT NULL,
        max_attempts INTEGER NOT NULL,
        last_error TEXT,
        created_at INTEGER NOT NULL,
        failed_at INTEGER NOT NULL
    );`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DeadLetterStore{db: db}, nil
}

// Record inserts the job, replacing an earlier failure with the same id.
func (s *DeadLetterStore) Record(ctx context.Context, j queue.Job) error {
	failed := j.UpdatedAt
	if failed.IsZero() {
		failed = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO dead_letters
        (id, kind, payload, attempt, max_attempts, last_error, created_at, failed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            attempt = excluded.attempt,
            last_error = excluded.last_error,
            failed_at = excluded.failed_at`,
		j.ID, string(j.Kind), []byte(j.Payload), j.Attempt, j.MaxAttempts, j.LastError,
		j.CreatedAt.UnixNano(), failed.UnixNano())
	if err != nil {
		return fmt.Errorf("record dead letter %s: %w", j.ID, err)
	}
	return nil
}

func (s *DeadLetterStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove dead letter %s: %w", id, err)
	}
	return nil
}

// List returns dead letters, oldest failure first.
func (s *DeadLetterStore) List(ctx context.Context) ([]queue.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, payload, attempt, max_attempts, last_error, created_at, failed_at
        FROM dead_letters ORDER BY failed_at, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []queue.Job
	for rows.Next() {
		var (
			j               queue.Job
			kind            string
			payload         []byte
			lastErr         sql.NullString
			created, failed int64
		)
		if err := rows.Scan(&j.ID, &kind, &payload, &j.Attempt, &j.MaxAttempts, &lastErr, &created, &failed); err != nil {
			return nil, err
		}
		j.Kind = queue.Kind(kind)
		j.Payload = payload
		j.LastError = lastErr.String
		j.Status = queue.StatusFailed
		j.CreatedAt = time.Unix(0, created).UTC()
		j.UpdatedAt = time.Unix(0, failed).UTC()
		res = append(res, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes the underlying database.
func (s *DeadLetterStore) Close() error { return s.db.Close() }
