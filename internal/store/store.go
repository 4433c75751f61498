// Package store persists ProcessedRecords in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"awardbot/internal/domain"
)

// ErrNotFound is returned when no record exists for an announcement ID.
var ErrNotFound = errors.New("record not found")

const recordsTable = "processed_records"

var recordColumns = []string{"announcement_id", "title", "url", "first_seen_at", "completed_at", "outcome"}

// SQLiteStore implements domain.RecordStore.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// brings its schema up to date.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for diagnostics.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	seen, err := s.Seen(ctx, []string{id})
	if err != nil {
		return false, err
	}
	return seen[id], nil
}

// Seen reports which of ids already have a record.
func (s *SQLiteStore) Seen(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sq.Select("announcement_id").From(recordsTable).Where(sq.Eq{"announcement_id": ids}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build seen query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query seen: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// Create inserts rec unless a record with the same ID exists. The bool
// result is true only when this call wrote the row.
func (s *SQLiteStore) Create(ctx context.Context, rec domain.ProcessedRecord) (bool, error) {
	if rec.FirstSeenAt.IsZero() {
		rec.FirstSeenAt = time.Now()
	}
	query, args, err := sq.Insert(recordsTable).
		Options("OR IGNORE").
		Columns("announcement_id", "title", "url", "first_seen_at").
		Values(rec.AnnouncementID, rec.Title, rec.URL, formatTime(rec.FirstSeenAt)).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert record %s: %w", rec.AnnouncementID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RecordOutcome stores the final outcome and per-platform results of a
// dispatch run.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, outcome domain.DispatchOutcome) error {
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	completed := outcome.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outcome tx: %w", err)
	}
	defer tx.Rollback()

	query, args, err := sq.Update(recordsTable).
		Set("completed_at", formatTime(completed)).
		Set("status", string(outcome.Status)).
		Set("outcome", string(data)).
		Where(sq.Eq{"announcement_id": outcome.AnnouncementID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update record %s: %w", outcome.AnnouncementID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record outcome %s: %w", outcome.AnnouncementID, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM publish_results WHERE announcement_id = ?", outcome.AnnouncementID); err != nil {
		return fmt.Errorf("clear publish results: %w", err)
	}
	if len(outcome.Results) > 0 {
		ins := sq.Insert("publish_results").Columns(
			"announcement_id", "platform", "status", "failure_kind", "post_id", "post_url", "error", "attempts", "elapsed_ms", "position",
		)
		for i, r := range outcome.Results {
			ins = ins.Values(outcome.AnnouncementID, r.Platform, string(r.Status), string(r.FailureKind),
				r.PostID, r.PostURL, r.Error, r.Attempts, r.Elapsed.Milliseconds(), i)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return fmt.Errorf("build results insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert publish results: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.ProcessedRecord, error) {
	recs, err := s.query(ctx, sq.Select(recordColumns...).From(recordsTable).Where(sq.Eq{"announcement_id": id}))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return &recs[0], nil
}

// List returns the most recently seen records first. limit <= 0 means all.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]domain.ProcessedRecord, error) {
	q := sq.Select(recordColumns...).From(recordsTable).OrderBy("first_seen_at DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.query(ctx, q)
}

// ListIncomplete returns records that never received an outcome, oldest first.
func (s *SQLiteStore) ListIncomplete(ctx context.Context) ([]domain.ProcessedRecord, error) {
	return s.query(ctx, sq.Select(recordColumns...).From(recordsTable).
		Where(sq.Eq{"completed_at": nil}).
		OrderBy("first_seen_at ASC"))
}

// Delete removes a record so the announcement can be accepted again.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	query, args, err := sq.Delete(recordsTable).Where(sq.Eq{"announcement_id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) query(ctx context.Context, q sq.SelectBuilder) ([]domain.ProcessedRecord, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []domain.ProcessedRecord
	for rows.Next() {
		var (
			rec         domain.ProcessedRecord
			firstSeen   string
			completedAt sql.NullString
			outcome     sql.NullString
		)
		if err := rows.Scan(&rec.AnnouncementID, &rec.Title, &rec.URL, &firstSeen, &completedAt, &outcome); err != nil {
			return nil, err
		}
		rec.FirstSeenAt = parseTime(firstSeen)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			rec.CompletedAt = &t
		}
		if outcome.Valid && outcome.String != "" {
			var o domain.DispatchOutcome
			if err := json.Unmarshal([]byte(outcome.String), &o); err != nil {
				s.logger.Warn("corrupt outcome column", "announcement", rec.AnnouncementID, "err", err)
			} else {
				rec.Outcome = &o
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
