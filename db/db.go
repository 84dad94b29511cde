package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type Config struct {
	Dsn          string
	MaxOpenConns int
	MaxIdleConns int
	MaxIdleTime  string
}

func DefaultConfig(dsn string) Config {
	return Config{
		Dsn:          dsn,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		MaxIdleTime:  "15m",
	}
}

// OpenDB opens a sqlite database, creating its directory, and runs every
// schema against it.
func OpenDB(cfg Config, schemas ...string) (*sql.DB, error) {
	if !isMemory(cfg.Dsn) {
		dbDir := filepath.Dir(cfg.Dsn)
		if _, err := os.Stat(dbDir); os.IsNotExist(err) {
			if err := os.MkdirAll(dbDir, 0755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite3", cfg.Dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	duration, err := time.ParseDuration(cfg.MaxIdleTime)
	if err != nil {
		db.Close()
		return nil, err
	}
	db.SetConnMaxIdleTime(duration)

	for _, schema := range schemas {
		if err := initializeSchema(db, schema); err != nil {
			db.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:")
}

func initializeSchema(db *sql.DB, schema string) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization SQL: %w", err)
	}
	return nil
}
