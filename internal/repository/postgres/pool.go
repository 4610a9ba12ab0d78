// Package postgres contains the PostgreSQL implementation of the remote document store.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/and161185/profilesync/internal/migrate"
)

// PgxPool is a minimal abstraction over a Postgres connection pool,
// used by the document store. It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	// Exec executes a SQL command and returns the command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// Close shuts down the pool and frees resources.
	Close()
}

// NotificationConn is a dedicated connection subscribed to a notification channel.
// Implemented by *pgx.Conn.
type NotificationConn interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Listener opens LISTEN connections.
type Listener interface {
	Listen(ctx context.Context, channel string) (NotificationConn, error)
}

// DB bundles the pool used for reads and writes with the listener used by subscriptions.
type DB struct {
	Pool     PgxPool
	Listener Listener
}

// Open migrates the schema at dsn and creates a connection pool for it.
func Open(ctx context.Context, dsn string) (*DB, error) {
	if err := migrate.Postgres(ctx, dsn); err != nil {
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &DB{Pool: pool, Listener: poolListener{pool: pool}}, nil
}

// Close closes the underlying pool.
func (db *DB) Close() { db.Pool.Close() }

type poolListener struct{ pool *pgxpool.Pool }

// Listen takes a connection out of the pool for good; it is closed, not returned, when done.
func (l poolListener) Listen(ctx context.Context, channel string) (NotificationConn, error) {
	c, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	conn := c.Hijack()
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}
	return conn, nil
}
