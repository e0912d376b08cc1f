// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/unclebandit/drip-service/internal/pkg/logger"
)

var DB *sql.DB

// Open connects to PostgreSQL and pings it.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}

// Init opens the shared connection used by the commands.
func Init(ctx context.Context, dsn string) error {
	conn, err := Open(ctx, dsn)
	if err != nil {
		return err
	}
	DB = conn
	logger.Info("connected to database")
	return nil
}

// ExecFiles runs each SQL file in order as a single multi-statement Exec.
func ExecFiles(ctx context.Context, conn *sql.DB, files ...string) error {
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("execute %s: %w", file, err)
		}
		logger.Info("applied sql file", "file", file)
	}
	return nil
}
