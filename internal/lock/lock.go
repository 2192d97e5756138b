// Package lock provides per-key mutual exclusion for snapshot and ledger computations.
package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Locker serializes work on a string key.
type Locker interface {
	// TryLock acquires key without waiting. ok is false when another holder has it.
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
	// Lock waits for key until ctx is done.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// PgLocker uses session-level PostgreSQL advisory locks so that every process sharing
// the database observes the same lock. Each held lock pins one pooled connection.
type PgLocker struct {
	pool *pgxpool.Pool
}

// NewPgLocker creates an advisory-lock based Locker.
func NewPgLocker(pool *pgxpool.Pool) *PgLocker {
	return &PgLocker{pool: pool}
}

func (l *PgLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring connection for lock %s: %w", key, err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtextextended($1, 0))`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("trying lock %s: %w", key, err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}
	return l.unlocker(conn, key), true, nil
}

func (l *PgLocker) Lock(ctx context.Context, key string) (func(), error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection for lock %s: %w", key, err)
	}
	// pgx cancels the backend query when ctx is done, so the wait is bounded by ctx.
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("waiting for lock %s: %w", key, err)
	}
	return l.unlocker(conn, key), nil
}

func (l *PgLocker) unlocker(conn *pgxpool.Conn, key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Unlock must run even if the caller's ctx is already cancelled.
			if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtextextended($1, 0))`, key); err != nil {
				// Closing the session releases every advisory lock it holds.
				conn.Conn().Close(context.Background()) //nolint:errcheck
			}
			conn.Release()
		})
	}
}

// MemoryLocker is an in-process Locker for single-process deployments and tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewMemoryLocker creates an in-process Locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]chan struct{})}
}

func (l *MemoryLocker) TryLock(_ context.Context, key string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	return l.take(key), true, nil
}

func (l *MemoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		done, busy := l.held[key]
		if !busy {
			unlock := l.take(key)
			l.mu.Unlock()
			return unlock, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
		}
	}
}

// take must be called with l.mu held.
func (l *MemoryLocker) take(key string) func() {
	done := make(chan struct{})
	l.held[key] = done

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
			close(done)
		})
	}
}
