package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"remindbot/pkg/logx"
)

// migrationLockID serializes schema setup across instances sharing a database.
const migrationLockID = 0x52454d44

func openPostgres(cfg Config, log logx.Logger) (*sqlStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for the postgres driver")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	script, err := migrationsFS.ReadFile("migrations/postgres.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrateLocked(ctx, db, string(script)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	return newPostgresStore(db, log), nil
}

func newPostgresStore(db *sql.DB, log logx.Logger) *sqlStore {
	return &sqlStore{db: db, log: log, d: dialect{name: "postgres", rebind: dollarParams}}
}

// migrateLocked runs script while holding a session advisory lock on a
// dedicated connection.
func migrateLocked(ctx context.Context, db *sql.DB, script string) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, _ = conn.ExecContext(uctx, "SELECT pg_advisory_unlock($1)", migrationLockID)
	}()

	if strings.TrimSpace(script) == "" {
		return errors.New("empty migration script")
	}
	_, err = conn.ExecContext(ctx, script)
	return err
}
