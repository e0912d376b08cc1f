// Package distlock keeps one drip runner per drip across processes.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a non-blocking mutual exclusion lock shared between processes.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Factory builds the lock guarding key.
type Factory func(key string) Lock

// NewFactory prefers Redis and falls back to PostgreSQL advisory locks when
// no Redis client is configured.
func NewFactory(client *redis.Client, db *sql.DB, ttl time.Duration) Factory {
	return func(key string) Lock {
		if client != nil {
			return NewRedisLock(client, key, ttl)
		}
		return NewPGAdvisoryLock(db, key)
	}
}

// ErrNotAcquired is returned by WithLock when another holder owns the lock.
var ErrNotAcquired = errors.New("lock is held elsewhere")

// WithLock runs fn while holding l. Release errors are reported only when fn
// itself succeeded.
func WithLock(ctx context.Context, l Lock, fn func(ctx context.Context) error) (err error) {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	defer func() {
		// release on a fresh context so a cancelled run still unlocks
		rerr := l.Release(context.WithoutCancel(ctx))
		if err == nil && rerr != nil {
			err = fmt.Errorf("release lock: %w", rerr)
		}
	}()
	return fn(ctx)
}

// PGAdvisoryLock uses session-level advisory locks keyed by a hash of the
// lock name. The session that locked must be the one that unlocks, so the
// lock pins a single connection until Release.
type PGAdvisoryLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
