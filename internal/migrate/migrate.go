// Package migrate applies embedded SQL migrations on startup.
package migrate

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/and161185/profilesync/migrations"
)

// SQLite runs pending local store migrations on an open sqlite3 handle.
func SQLite(ctx context.Context, db *sql.DB) error {
	return up(ctx, db, "sqlite3", "sqlite")
}

// Postgres runs pending document store migrations against dsn.
func Postgres(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return up(ctx, db, "postgres", "postgres")
}

func up(ctx context.Context, db *sql.DB, dialect, dir string) error {
	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, dir)
}
