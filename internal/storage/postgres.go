package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name:        string(DriverPostgres),
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	schema: `
	CREATE TABLE IF NOT EXISTS passages (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		filepath TEXT NOT NULL DEFAULT '',
		previous_passage_id TEXT NOT NULL DEFAULT '',
		next_passage_id TEXT NOT NULL DEFAULT '',
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_passages_filepath ON passages(filepath);
	`,
}

// NewPostgresStore connects to PostgreSQL with dsn and initializes the schema.
func NewPostgresStore(dsn string, policy GetPolicy) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	store, err := NewPostgresStoreFromDB(db, policy)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromDB builds a store on an open connection pool.
func NewPostgresStoreFromDB(db *sql.DB, policy GetPolicy) (*SQLStore, error) {
	return newSQLStore(db, postgresDialect, policy)
}
