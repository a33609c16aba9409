// Package postgres registers the "postgres" store driver. Rows are written
// with the COPY protocol and tables are described from information_schema.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/tabload/internal/retry"
	"github.com/JonMunkholm/tabload/internal/schema"
	"github.com/JonMunkholm/tabload/internal/store"
)

func init() {
	store.Register("postgres", func(ctx context.Context, opts store.Options) (store.Store, error) {
		return Open(ctx, opts)
	})
}

// dbtx is satisfied by both *pgxpool.Pool and *pgxpool.Conn.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// Store is a pgxpool backed store.
type Store struct {
	pool    *pgxpool.Pool
	q       dbtx
	scoped  bool
	release func()
}

// Open parses the DSN, applies pool and auth settings, and connects with
// bounded retries.
func Open(ctx context.Context, opts store.Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		cfg.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	cfg.ConnConfig.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		slog.Debug("postgres notice", "severity", n.Severity, "message", n.Message)
	}

	release, err := configureAuth(ctx, cfg, opts.Auth)
	if err != nil {
		return nil, err
	}

	delay := opts.ConnectDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	exec := retry.NewExecutor(retry.PostgresClassifier{}, retry.NewExponentialBackoff(opts.ConnectAttempts,
		retry.WithInitialDelay(delay),
		retry.WithMaxDelay(10*time.Second),
	)).WithOnRetry(func(attempt int, err error, wait time.Duration) {
		slog.Warn("postgres connection failed, retrying",
			"host", cfg.ConnConfig.Host, "attempt", attempt+1, "wait", wait, "error", err)
	})

	var pool *pgxpool.Pool
	err = exec.Execute(ctx, func(ctx context.Context) error {
		p, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	})
	if err != nil {
		release()
		return nil, store.Unavailable(fmt.Errorf("connect to postgres %s/%s: %w",
			cfg.ConnConfig.Host, cfg.ConnConfig.Database, err))
	}

	return &Store{pool: pool, q: pool, release: release}, nil
}

// NewFromPool wraps an existing pool. Close closes the pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool, release: func() {}}
}

// Pool exposes the pool for direct queries against loaded tables.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1)`, table).Scan(&exists)
	if err != nil {
		return false, classify(fmt.Errorf("check table %s: %w", table, err))
	}
	return exists, nil
}

// CreateTableSQL renders the CREATE TABLE statement for a definition.
func CreateTableSQL(def schema.TableDefinition) string {
	parts := make([]string, 0, len(def.Columns))
	for _, c := range def.Columns {
		name := pgx.Identifier{c.Name}.Sanitize()
		if c.Identity {
			parts = append(parts, name+" BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY")
			continue
		}
		col := name + " " + columnType(c.Type)
		if !c.Nullable {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", pgx.Identifier{def.Name}.Sanitize(), strings.Join(parts, ",\n  "))
}

func (s *Store) CreateTable(ctx context.Context, def schema.TableDefinition) error {
	if _, err := s.q.Exec(ctx, CreateTableSQL(def)); err != nil {
		return classify(fmt.Errorf("create table %s: %w", def.Name, err))
	}
	return nil
}

func (s *Store) DescribeTable(ctx context.Context, table string) ([]schema.Column, error) {
	rows, err := s.q.Query(ctx, `SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, classify(fmt.Errorf("describe %s: %w", table, err))
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var name, dataType, nullable string
		if err := rows.Scan(&name, &dataType, &nullable); err != nil {
			return nil, fmt.Errorf("describe %s: %w", table, err)
		}
		cols = append(cols, schema.Column{
			Name:     name,
			Type:     NormalizeType(dataType),
			Nullable: nullable == "YES",
			Identity: name == schema.IdentityColumn,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("describe %s: %w", table, err))
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrTableNotFound, table)
	}
	return cols, nil
}

// InsertBatch copies the rows in a single COPY statement, which commits or
// fails as a whole.
func (s *Store) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	n, err := s.q.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return classify(fmt.Errorf("copy into %s: %w", table, err))
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy into %s: copied %d of %d rows", table, n, len(rows))
	}
	return nil
}

func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.q.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgx.Identifier{table}.Sanitize()).Scan(&n)
	if err != nil {
		return 0, classify(fmt.Errorf("count %s: %w", table, err))
	}
	return n, nil
}

// Scope acquires a dedicated pool connection for one worker.
func (s *Store) Scope(ctx context.Context) (store.Store, func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, classify(fmt.Errorf("acquire connection: %w", err))
	}
	return &Store{pool: s.pool, q: conn, scoped: true}, conn.Release, nil
}

// Close closes the pool. Closing a scoped store is a no-op.
func (s *Store) Close() error {
	if s.scoped {
		return nil
	}
	s.pool.Close()
	if s.release != nil {
		s.release()
	}
	return nil
}

func columnType(t schema.StorageType) string {
	switch t {
	case schema.Integer:
		return "BIGINT"
	case schema.Float:
		return "DOUBLE PRECISION"
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Date:
		return "DATE"
	case schema.Datetime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

// NormalizeType maps an information_schema data_type to a storage type.
func NormalizeType(dataType string) schema.StorageType {
	switch t := strings.ToLower(strings.TrimSpace(dataType)); t {
	case "text", "character varying", "character", "varchar", "char", "name", "citext":
		return schema.Text
	case "bigint", "integer", "smallint":
		return schema.Integer
	case "double precision", "real", "numeric", "decimal":
		return schema.Float
	case "boolean":
		return schema.Boolean
	case "date":
		return schema.Date
	case "timestamp with time zone", "timestamp without time zone", "timestamptz", "timestamp":
		return schema.Datetime
	default:
		return schema.StorageType(t)
	}
}

func classify(err error) error {
	if retry.IsConnectionError(err) {
		return store.Unavailable(err)
	}
	return err
}
