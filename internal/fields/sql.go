package fields

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Lookup resolves a single value from a database.
type Lookup interface {
	Lookup(ctx context.Context, dsn string, timeout time.Duration, query string, args ...any) (string, error)
}

// SQLLookup runs field-mapping queries through database/sql with the pgx
// driver. Connections are opened lazily per DSN and kept for reuse.
type SQLLookup struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewSQLLookup() *SQLLookup {
	return &SQLLookup{dbs: make(map[string]*sql.DB)}
}

func (l *SQLLookup) db(dsn string) (*sql.DB, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if db, ok := l.dbs[dsn]; ok {
		return db, nil
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	l.dbs[dsn] = db
	return db, nil
}

// Lookup returns the first column of the first row, or "" when the query
// yields no rows.
func (l *SQLLookup) Lookup(ctx context.Context, dsn string, timeout time.Duration, query string, args ...any) (string, error) {
	db, err := l.db(dsn)
	if err != nil {
		return "", err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	var v sql.NullString
	if err := db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("query: %w", err)
	}
	return v.String, nil
}

func (l *SQLLookup) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for dsn, db := range l.dbs {
		errs = append(errs, db.Close())
		delete(l.dbs, dsn)
	}
	return errors.Join(errs...)
}
