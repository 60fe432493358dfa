// Package pgsource implements a PostgreSQL-backed source over database/sql
// and lib/pq. Filters, sorts, and offset pagination are compiled to
// parameterized SQL; cursor pagination fetches the filtered set and
// paginates through the evaluator. Row mapping is supplied by the caller.
package pgsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/nexlayer/nexlayer/pkg/datasource"
	"github.com/nexlayer/nexlayer/pkg/observability/logger"
	"github.com/nexlayer/nexlayer/pkg/query"
)

// RowMapper converts between records and table rows. Columns must include
// the identity column and stay aligned with Values.
type RowMapper[T any] interface {
	Columns() []string
	Values(record T) ([]interface{}, error)
	Scan(rows *sql.Rows) (T, error)
}

// Config holds PostgreSQL source configuration.
type Config struct {
	URL             string
	Table           string
	IDColumn        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// Source is a DataSource backed by one PostgreSQL table.
type Source[T any, ID comparable] struct {
	db       *sql.DB
	table    string
	idColumn string
	mapper   RowMapper[T]
	idFn     datasource.IDFunc[T, ID]
	accessor query.FieldAccessor[T]
	timeout  time.Duration
	log      logger.Logger
}

// New opens a connection pool and verifies connectivity.
func New[T any, ID comparable](cfg Config, mapper RowMapper[T], idFn datasource.IDFunc[T, ID], accessor query.FieldAccessor[T], log logger.Logger) (*Source[T, ID], error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres URL is required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	src, err := NewFromDB(db, cfg.Table, cfg.IDColumn, mapper, idFn, accessor)
	if err != nil {
		db.Close()
		return nil, err
	}
	if cfg.QueryTimeout > 0 {
		src.timeout = cfg.QueryTimeout
	}
	if log != nil {
		src.log = log
		log.Info("postgres source ready", "table", cfg.Table)
	}
	return src, nil
}

// NewFromDB wraps an existing pool. The caller keeps ownership of the
// pool's lifecycle.
func NewFromDB[T any, ID comparable](db *sql.DB, table, idColumn string, mapper RowMapper[T], idFn datasource.IDFunc[T, ID], accessor query.FieldAccessor[T]) (*Source[T, ID], error) {
	if table == "" {
		return nil, fmt.Errorf("table name is required")
	}
	if idColumn == "" {
		idColumn = "id"
	}
	if mapper == nil {
		return nil, fmt.Errorf("row mapper is required")
	}
	if idFn == nil {
		return nil, fmt.Errorf("id function is required")
	}
	if err := validIdentifier(table); err != nil {
		return nil, err
	}
	if err := validIdentifier(idColumn); err != nil {
		return nil, err
	}
	return &Source[T, ID]{
		db:       db,
		table:    table,
		idColumn: idColumn,
		mapper:   mapper,
		idFn:     idFn,
		accessor: accessor,
		timeout:  5 * time.Second,
		log:      logger.NewNop(),
	}, nil
}

// Close releases the connection pool.
func (s *Source[T, ID]) Close() error {
	return s.db.Close()
}

func (s *Source[T, ID]) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Source[T, ID]) columnList() string {
	return strings.Join(s.mapper.Columns(), ", ")
}

// Get returns the record stored under id, or ErrNotFound.
func (s *Source[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var zero T
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", s.columnList(), s.table, s.idColumn)
	rows, err := s.db.QueryContext(opCtx, stmt, id)
	if err != nil {
		return zero, classify("postgres select", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return zero, classify("postgres select", err)
		}
		return zero, datasource.ErrNotFound
	}
	record, err := s.mapper.Scan(rows)
	if err != nil {
		return zero, fmt.Errorf("scan record: %w", err)
	}
	return record, nil
}

// GetAll compiles the query to SQL where possible.
func (s *Source[T, ID]) GetAll(ctx context.Context, q query.Query) ([]T, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	if q.UsesCursor() {
		// Cursor positions are evaluator-defined: fetch the filtered,
		// sorted set and let the evaluator paginate.
		stmt, args, err := BuildSelect(s.columnList(), s.table, q, false)
		if err != nil {
			return nil, err
		}
		records, err := s.queryRecords(opCtx, stmt, args)
		if err != nil {
			return nil, err
		}
		return query.Apply(records, q, s.accessor).Items, nil
	}

	stmt, args, err := BuildSelect(s.columnList(), s.table, q, true)
	if err != nil {
		return nil, err
	}
	return s.queryRecords(opCtx, stmt, args)
}

func (s *Source[T, ID]) queryRecords(ctx context.Context, stmt string, args []interface{}) ([]T, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, classify("postgres select", err)
	}
	defer rows.Close()

	var records []T
	for rows.Next() {
		record, err := s.mapper.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("postgres select", err)
	}
	return records, nil
}

// Save upserts the record on its identity column.
func (s *Source[T, ID]) Save(ctx context.Context, record T) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	stmt, args, err := s.upsertStatement(record, false)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(opCtx, stmt, args...); err != nil {
		return classify("postgres upsert", err)
	}
	return nil
}

// SaveReturning upserts the record and returns the stored row, so the
// policy engine can detect server-side changes (triggers, defaults).
func (s *Source[T, ID]) SaveReturning(ctx context.Context, record T) (T, error) {
	var zero T
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	stmt, args, err := s.upsertStatement(record, true)
	if err != nil {
		return zero, err
	}
	rows, err := s.db.QueryContext(opCtx, stmt, args...)
	if err != nil {
		return zero, classify("postgres upsert", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return zero, classify("postgres upsert", err)
		}
		return zero, fmt.Errorf("upsert returned no row")
	}
	stored, err := s.mapper.Scan(rows)
	if err != nil {
		return zero, fmt.Errorf("scan record: %w", err)
	}
	return stored, nil
}

func (s *Source[T, ID]) upsertStatement(record T, returning bool) (string, []interface{}, error) {
	columns := s.mapper.Columns()
	values, err := s.mapper.Values(record)
	if err != nil {
		return "", nil, fmt.Errorf("map record to row: %w", err)
	}
	if len(values) != len(columns) {
		return "", nil, fmt.Errorf("mapper returned %d values for %d columns", len(values), len(columns))
	}

	placeholders := make([]string, len(columns))
	updates := make([]string, 0, len(columns))
	for i, col := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col != s.idColumn {
			updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}

	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		s.table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		s.idColumn,
		strings.Join(updates, ", "),
	)
	if returning {
		stmt += " RETURNING " + s.columnList()
	}
	return stmt, values, nil
}

// Delete removes the record, reporting ErrNotFound for absent rows.
func (s *Source[T, ID]) Delete(ctx context.Context, id ID) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", s.table, s.idColumn)
	res, err := s.db.ExecContext(opCtx, stmt, id)
	if err != nil {
		return classify("postgres delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return classify("postgres delete", err)
	}
	if affected == 0 {
		return datasource.ErrNotFound
	}
	return nil
}

// Capabilities advertises native filtering.
func (s *Source[T, ID]) Capabilities() datasource.Capabilities {
	return datasource.Capabilities{SupportsNativeFiltering: true}
}

// classify separates transport failures, which the retry schedule may
// recover, from server-side rejections, which it cannot.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return datasource.NewNetworkError(op, false, err)
	}
	return datasource.NewNetworkError(op, true, err)
}
