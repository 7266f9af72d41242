package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// stmtCache maps exact SQL text to a compiled, reusable statement handle.
//
// A second request for identical query text reuses the same handle rather
// than recompiling. Concurrent first requests for the same text are
// deduplicated through singleflight so each text is prepared at most once.
// Lifetime is bounded by the connection: closeAll finalizes every handle
// at shutdown.
type stmtCache struct {
	db *sql.DB

	mu     sync.Mutex
	stmts  map[string]*sql.Stmt
	closed bool

	group singleflight.Group
}

func newStmtCache(db *sql.DB) *stmtCache {
	return &stmtCache{
		db:    db,
		stmts: make(map[string]*sql.Stmt),
	}
}

// get returns the compiled statement for text, preparing it on first use.
func (c *stmtCache) get(ctx context.Context, text string) (*sql.Stmt, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("statement cache closed")
	}
	if stmt, ok := c.stmts[text]; ok {
		c.mu.Unlock()
		return stmt, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(text, func() (any, error) {
		stmt, err := c.db.PrepareContext(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("prepare %q: %w", text, err)
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			stmt.Close()
			return nil, fmt.Errorf("statement cache closed")
		}
		c.stmts[text] = stmt
		return stmt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.Stmt), nil
}

// size returns the number of cached statements.
func (c *stmtCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stmts)
}

// closeAll finalizes every cached statement and empties the cache.
// Further get calls fail.
func (c *stmtCache) closeAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for text, stmt := range c.stmts {
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("finalize %q: %w", text, err)
		}
	}
	c.stmts = make(map[string]*sql.Stmt)
	c.closed = true
	return firstErr
}
