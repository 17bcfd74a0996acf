package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// NewPostgres connects to a Postgres database and applies the schema.
func NewPostgres(ctx context.Context, dsn string, opts ...Option) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrEmptyDSN
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	s := newSQLStore(db, dialectPostgres, opts...)
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Open selects a backend by driver name: "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Store, error) {
	switch driver {
	case "sqlite", "":
		return NewSQLite(ctx, dsn, opts...)
	case "postgres":
		return NewPostgres(ctx, dsn, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}
