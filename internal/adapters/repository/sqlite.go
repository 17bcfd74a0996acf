package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// NewSQLite opens (creating if needed) a SQLite database and applies the schema.
// The dsn is a file path or ":memory:".
func NewSQLite(ctx context.Context, dsn string, opts ...Option) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrEmptyDSN
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := newSQLStore(db, dialectSQLite, opts...)
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring sqlite: %w", err)
		}
	}

	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
