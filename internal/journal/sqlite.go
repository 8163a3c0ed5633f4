package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	run_id            TEXT PRIMARY KEY,
	hotfolder_id      TEXT NOT NULL,
	file_hash         TEXT NOT NULL DEFAULT '',
	original_filename TEXT NOT NULL DEFAULT '',
	has_sidecar       INTEGER NOT NULL DEFAULT 0,
	status            TEXT NOT NULL,
	error_kind        TEXT NOT NULL DEFAULT '',
	error_details     TEXT NOT NULL DEFAULT '',
	page_count        INTEGER NOT NULL DEFAULT 0,
	output_count      INTEGER NOT NULL DEFAULT 0,
	exports           TEXT NOT NULL DEFAULT '[]',
	created_at        TEXT NOT NULL,
	finished_at       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_records_created ON records(created_at);

CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// SQLiteJournal keeps records and counters in a local SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// OpenSQLite opens path with WAL mode enabled and creates the schema.
// ":memory:" is accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One connection serializes writers; counters rely on it.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) Close() error { return j.db.Close() }

func (j *SQLiteJournal) Begin(ctx context.Context, rec *models.ProcessingRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO records (run_id, hotfolder_id, file_hash, original_filename, has_sidecar, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.HotfolderID, rec.FileHash, rec.OriginalFilename, rec.HasSidecar,
		rec.Status, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert record %s: %w", rec.RunID, err)
	}
	return nil
}

func (j *SQLiteJournal) Finish(ctx context.Context, rec *models.ProcessingRecord) error {
	exports, err := json.Marshal(rec.Exports)
	if err != nil {
		return fmt.Errorf("encode exports: %w", err)
	}
	res, err := j.db.ExecContext(ctx, `
		UPDATE records SET status = ?, error_kind = ?, error_details = ?, page_count = ?,
			output_count = ?, exports = ?, finished_at = ?
		WHERE run_id = ?`,
		rec.Status, string(rec.ErrorKind), rec.ErrorDetails, rec.PageCount, rec.OutputCount,
		string(exports), rec.FinishedAt.UTC().Format(time.RFC3339Nano), rec.RunID)
	if err != nil {
		return fmt.Errorf("update record %s: %w", rec.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update record %s: not found", rec.RunID)
	}
	return nil
}

func (j *SQLiteJournal) Recent(ctx context.Context, n int) ([]models.ProcessingRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, hotfolder_id, file_hash, original_filename, has_sidecar, status, error_kind,
			error_details, page_count, output_count, exports, created_at, finished_at
		FROM records ORDER BY created_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []models.ProcessingRecord
	for rows.Next() {
		var (
			rec               models.ProcessingRecord
			kind, exports     string
			created, finished string
		)
		if err := rows.Scan(&rec.RunID, &rec.HotfolderID, &rec.FileHash, &rec.OriginalFilename, &rec.HasSidecar,
			&rec.Status, &kind, &rec.ErrorDetails, &rec.PageCount, &rec.OutputCount, &exports, &created, &finished); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.ErrorKind = models.ErrorKind(kind)
		if err := json.Unmarshal([]byte(exports), &rec.Exports); err != nil {
			return nil, fmt.Errorf("decode exports of %s: %w", rec.RunID, err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		if finished != "" {
			rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// NextValue returns the counter's current value and advances it by step.
// A missing counter starts at start.
func (j *SQLiteJournal) NextValue(ctx context.Context, name string, start, step int64) (int64, error) {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin counter tx: %w", err)
	}
	defer tx.Rollback()

	var v int64
	err = tx.QueryRowContext(ctx, "SELECT value FROM counters WHERE name = ?", name).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		v = start
	case err != nil:
		return 0, fmt.Errorf("read counter %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO counters (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value",
		name, v+step); err != nil {
		return 0, fmt.Errorf("advance counter %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit counter %s: %w", name, err)
	}
	return v, nil
}

// Counters lists every counter with the value the next use will return.
func (j *SQLiteJournal) Counters(ctx context.Context) ([]Counter, error) {
	rows, err := j.db.QueryContext(ctx, "SELECT name, value FROM counters ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query counters: %w", err)
	}
	defer rows.Close()
	var out []Counter
	for rows.Next() {
		var c Counter
		if err := rows.Scan(&c.Name, &c.Value); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetCounter creates or overwrites a counter.
func (j *SQLiteJournal) SetCounter(ctx context.Context, name string, value int64) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO counters (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value",
		name, value)
	if err != nil {
		return fmt.Errorf("set counter %s: %w", name, err)
	}
	return nil
}

func (j *SQLiteJournal) DeleteCounter(ctx context.Context, name string) error {
	res, err := j.db.ExecContext(ctx, "DELETE FROM counters WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete counter %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCounter, name)
	}
	return nil
}
