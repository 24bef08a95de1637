// Package keylock provides a table of mutual-exclusion locks keyed by
// string. Holders of the same key serialize; different keys never block
// each other. Waiting honours context cancellation.
package keylock

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/glorpus-work/modkit/pkg/errors"
)

type entry struct {
	sem  *semaphore.Weighted
	refs int // holders plus waiters
}

// Table owns the per-key locks. The zero value is not usable; call New.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty lock table.
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

// Token is a held lock. Release it exactly once; extra calls are no-ops.
type Token struct {
	table *Table
	key   string
	e     *entry
	once  sync.Once
}

// Key returns the key the token holds.
func (t *Token) Key() string {
	return t.key
}

// Acquire blocks until the lock for key is held or ctx is done. A caller
// whose context ends while waiting gets an error wrapping ErrLockAcquire
// and the context's error, and leaves the table as if it never waited.
func (t *Table) Acquire(ctx context.Context, key string) (*Token, error) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		t.entries[key] = e
	}
	e.refs++
	t.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		t.unref(key, e)
		return nil, fmt.Errorf("%w: %s: %w", errors.ErrLockAcquire, key, err)
	}
	return &Token{table: t, key: key, e: e}, nil
}

// TryAcquire takes the lock for key only if it is free.
func (t *Table) TryAcquire(key string) (*Token, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		t.entries[key] = e
	}
	if !e.sem.TryAcquire(1) {
		return nil, false
	}
	e.refs++
	return &Token{table: t, key: key, e: e}, true
}

// Release frees the lock.
func (tok *Token) Release() {
	tok.once.Do(func() {
		tok.e.sem.Release(1)
		tok.table.unref(tok.key, tok.e)
	})
}

// Len returns the number of keys currently held or waited on.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *Table) unref(key string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 && t.entries[key] == e {
		delete(t.entries, key)
	}
}
