package schema

import (
	"context"
	"fmt"

	"github.com/SamuelRCrider/piiscan/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const columnsQuery = `
	SELECT
		table_name,
		column_name,
		data_type
	FROM information_schema.columns
	WHERE table_schema = $1
	ORDER BY table_name, ordinal_position
`

// querier is the part of a pgx pool or connection the source needs
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSource reads column metadata from information_schema. Only names
// and declared types are read; table contents are never queried.
type PostgresSource struct {
	db     querier
	schema string
	close  func()
}

// NewPostgresSource connects to dsn and reads tables of dbSchema ("public" when empty)
func NewPostgresSource(ctx context.Context, dsn, dbSchema string) (*PostgresSource, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := newPostgresSource(pool, dbSchema)
	s.close = pool.Close
	return s, nil
}

func newPostgresSource(db querier, dbSchema string) *PostgresSource {
	if dbSchema == "" {
		dbSchema = "public"
	}
	return &PostgresSource{db: db, schema: dbSchema}
}

// Load returns every table of the configured schema. Tables outside
// "public" are keyed as "schema.table".
func (s *PostgresSource) Load(ctx context.Context) (utils.Schema, error) {
	rows, err := s.db.Query(ctx, columnsQuery, s.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	out := make(utils.Schema)
	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}

		key := tableName
		if s.schema != "public" {
			key = s.schema + "." + tableName
		}
		out[key] = append(out[key], utils.ColumnDescriptor{Name: columnName, DataType: dataType})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("schema %q has no tables", s.schema)
	}
	return out, nil
}

// Close releases the connection pool
func (s *PostgresSource) Close() {
	if s.close != nil {
		s.close()
	}
}
