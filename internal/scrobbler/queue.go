package scrobbler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jfmyers9/scrobbler/pkg/lastfm"
)

const (
	// MaxBacklogAttempts is how many failed submissions a queued scrobble
	// survives.
	MaxBacklogAttempts = 10

	// MaxScrobbleAge is the oldest timestamp Last.fm accepts.
	MaxScrobbleAge = 14 * 24 * time.Hour

	memoryDSN = ":memory:"
)

// Queue holds scrobbles that could not be delivered while their track was
// current, until a later batch submission succeeds.
type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// QueuedScrobble represents a scrobble in the queue.
type QueuedScrobble struct {
	ID        int64
	Scrobble  Scrobble
	Attempts  int
	LastError string
}

// NewQueue opens a queue backed by SQLite. An empty dsn keeps the queue in
// memory for the lifetime of the process.
func NewQueue(dsn string) (*Queue, error) {
	if dsn == "" {
		dsn = memoryDSN
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database, so there must
	// only ever be one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 10000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS scrobbles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			track_name TEXT NOT NULL,
			artist TEXT NOT NULL,
			album TEXT,
			duration INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			UNIQUE(artist, track_name, timestamp)
		);

		CREATE INDEX IF NOT EXISTS idx_timestamp ON scrobbles(timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Queue{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (q *Queue) Close() error {
	if q.db != nil {
		return q.db.Close()
	}
	return nil
}

// Add queues a scrobble. Adding the same artist, track and timestamp twice
// keeps a single entry.
func (q *Queue) Add(ctx context.Context, s Scrobble) error {
	query := `
		INSERT OR IGNORE INTO scrobbles (track_name, artist, album, duration, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := q.db.ExecContext(ctx, query,
		s.Track,
		s.Artist,
		s.Album,
		int64(s.Duration.Seconds()),
		s.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert scrobble: %w", err)
	}
	return nil
}

// Pending returns up to limit queued scrobbles, oldest play first.
func (q *Queue) Pending(ctx context.Context, limit int) ([]QueuedScrobble, error) {
	query := `
		SELECT id, track_name, artist, COALESCE(album, ''), duration, timestamp, attempts, COALESCE(error, '')
		FROM scrobbles
		ORDER BY timestamp ASC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending scrobbles: %w", err)
	}
	defer rows.Close()

	var out []QueuedScrobble
	for rows.Next() {
		var (
			qs            QueuedScrobble
			durationSecs  int64
			timestampUnix int64
		)
		if err := rows.Scan(
			&qs.ID,
			&qs.Scrobble.Track,
			&qs.Scrobble.Artist,
			&qs.Scrobble.Album,
			&durationSecs,
			&timestampUnix,
			&qs.Attempts,
			&qs.LastError,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scrobble: %w", err)
		}
		qs.Scrobble.Duration = time.Duration(durationSecs) * time.Second
		qs.Scrobble.Timestamp = time.Unix(timestampUnix, 0)
		out = append(out, qs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scrobbles: %w", err)
	}
	return out, nil
}

// Remove deletes delivered scrobbles.
func (q *Queue) Remove(ctx context.Context, ids []int64) error {
	return q.execBatch(ctx, "DELETE FROM scrobbles WHERE id = ?", ids)
}

// MarkFailed records a failed submission attempt for each id.
func (q *Queue) MarkFailed(ctx context.Context, ids []int64, errMsg string) error {
	return q.execBatch(ctx, "UPDATE scrobbles SET attempts = attempts + 1, error = ? WHERE id = ?", ids, errMsg)
}

func (q *Queue) execBatch(ctx context.Context, stmtSQL string, ids []int64, leading ...any) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, stmtSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		args := append(append([]any{}, leading...), id)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to update scrobble %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Prune drops scrobbles that exhausted their attempts or are too old for
// Last.fm to accept, returning how many were dropped.
func (q *Queue) Prune(ctx context.Context) (int64, error) {
	cutoff := q.now().Add(-MaxScrobbleAge).Unix()

	result, err := q.db.ExecContext(ctx,
		"DELETE FROM scrobbles WHERE attempts >= ? OR timestamp < ?",
		MaxBacklogAttempts, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune scrobbles: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// Count returns the number of queued scrobbles.
func (q *Queue) Count(ctx context.Context) (int, error) {
	var count int
	if err := q.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM scrobbles").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count scrobbles: %w", err)
	}
	return count, nil
}

// ids collects the ids of queued scrobbles.
func ids(qs []QueuedScrobble) []int64 {
	out := make([]int64, len(qs))
	for i, s := range qs {
		out[i] = s.ID
	}
	return out
}

// BatchSubmitter submits several scrobbles in one request.
type BatchSubmitter interface {
	ScrobbleBatch(ctx context.Context, scrobbles []Scrobble) (lastfm.Outcome, error)
}

// Drain prunes stale entries and submits up to one batch of queued
// scrobbles. Delivered entries are removed. A failure that needs new
// credentials leaves the batch untouched; any other failure raises the
// attempt count of every entry in the batch so Prune eventually drops it.
func (q *Queue) Drain(ctx context.Context, client BatchSubmitter) (int, lastfm.Outcome, error) {
	if _, err := q.Prune(ctx); err != nil {
		return 0, lastfm.OutcomeSoftFailure, err
	}

	batch, err := q.Pending(ctx, lastfm.MaxBatchSize)
	if err != nil {
		return 0, lastfm.OutcomeSoftFailure, err
	}
	if len(batch) == 0 {
		return 0, lastfm.OutcomeSuccess, nil
	}

	scrobbles := make([]Scrobble, len(batch))
	for i, qs := range batch {
		scrobbles[i] = qs.Scrobble
	}

	outcome, subErr := client.ScrobbleBatch(ctx, scrobbles)
	switch outcome {
	case lastfm.OutcomeSuccess:
		if err := q.Remove(ctx, ids(batch)); err != nil {
			return 0, outcome, err
		}
		// Ignored entries are reported but not retried.
		return len(batch), outcome, subErr
	case lastfm.OutcomeHardFailure:
		if lastfm.RequiresReauth(subErr) {
			return 0, outcome, subErr
		}
	}

	msg := "submission failed"
	if subErr != nil {
		msg = subErr.Error()
	}
	if err := q.MarkFailed(ctx, ids(batch), msg); err != nil {
		return 0, outcome, err
	}
	return 0, outcome, subErr
}
