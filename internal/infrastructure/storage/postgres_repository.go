package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

//go:embed schema/postgres.sql
var postgresSchema string

const pgUniqueViolation = "23505"

var postgresDialect = dialect{
	name:   "postgres",
	format: sq.Dollar,
	schema: postgresSchema,
	vector: func(v []float32) any {
		if v == nil {
			return nil
		}
		return pgvector.NewVector(v)
	},
	serverANN: true,
	uniqueViolation: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
	},
}

// OpenPostgres connects to a pgvector-enabled Postgres database.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresRepository(db, logger), nil
}

// NewPostgresRepository wires an existing Postgres sql.DB.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *SQLStore {
	return newSQLStore(db, postgresDialect, logger)
}
