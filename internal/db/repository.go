// Package db provides the durable local record store for Finch Core.
package db

import (
	"database/sql"
	"fmt"
	"sync"
)

// Repository provides store operations for all Finch models.
// Frequently used queries are prepared on first use and cached.
type Repository struct {
	db *DB

	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// DB returns the underlying database handle, for callers that need to
// open their own transactions around repository Tx methods.
func (r *Repository) DB() *DB {
	return r.db
}

// prepare gets or creates a prepared statement from the cache.
func (r *Repository) prepare(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine won the race; drop the duplicate.
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		if err := value.(*sql.Stmt).Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		r.stmtCache.Delete(key)
		return true
	})
	return firstErr
}
