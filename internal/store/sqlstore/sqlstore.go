// Package sqlstore implements store.Store over database/sql. Engine
// differences live behind Dialect, so the sqlite and mysql drivers only
// describe their SQL flavour.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/tabload/internal/retry"
	"github.com/JonMunkholm/tabload/internal/schema"
	"github.com/JonMunkholm/tabload/internal/store"
)

// Dialect describes one SQL engine.
type Dialect interface {
	// DriverName is the database/sql driver name.
	DriverName() string

	Quote(ident string) string

	// MaxParams is the bind parameter limit of one statement.
	MaxParams() int

	IdentityDDL(name string) string
	ColumnType(t schema.StorageType) string

	// TableExistsQuery takes the table name and returns a count.
	TableExistsQuery() string

	// DescribeQuery takes the table name and returns rows of
	// (name, engine type, "YES"/"NO" nullable) in column order.
	DescribeQuery() string

	NormalizeType(engineType string) schema.StorageType

	// Encode converts a loader value to what the driver should bind.
	Encode(t schema.StorageType, v any) any
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Store is a database/sql backed store.
type Store struct {
	db      *sql.DB
	q       querier
	dialect Dialect

	// types caches described column types for Encode.
	mu    sync.Mutex
	types map[string]map[string]schema.StorageType
}

// Open connects with bounded retries and pings the database.
func Open(ctx context.Context, dialect Dialect, dsn string, opts store.Options) (*Store, error) {
	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect.DriverName(), err)
	}

	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		db.SetMaxIdleConns(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(opts.MaxConnLifetime)
	}
	if opts.MaxConnIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.MaxConnIdleTime)
	}

	delay := opts.ConnectDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	exec := retry.NewExecutor(retry.ConnectionClassifier{}, retry.NewExponentialBackoff(opts.ConnectAttempts,
		retry.WithInitialDelay(delay),
	)).WithOnRetry(func(attempt int, err error, wait time.Duration) {
		slog.Warn("store connection failed, retrying",
			"driver", dialect.DriverName(), "attempt", attempt+1, "wait", wait, "error", err)
	})

	err = exec.Execute(ctx, func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	if err != nil {
		db.Close()
		return nil, store.Unavailable(fmt.Errorf("ping %s: %w", dialect.DriverName(), err))
	}

	return New(db, dialect), nil
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, q: db, dialect: dialect, types: make(map[string]map[string]schema.StorageType)}
}

// DB exposes the handle for direct queries against loaded tables.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, s.dialect.TableExistsQuery(), table).Scan(&n); err != nil {
		return false, classify(fmt.Errorf("check table %s: %w", table, err))
	}
	return n > 0, nil
}

// CreateTableSQL renders the CREATE TABLE statement for a definition.
func CreateTableSQL(d Dialect, def schema.TableDefinition) string {
	parts := make([]string, 0, len(def.Columns))
	for _, c := range def.Columns {
		if c.Identity {
			parts = append(parts, d.IdentityDDL(d.Quote(c.Name)))
			continue
		}
		col := d.Quote(c.Name) + " " + d.ColumnType(c.Type)
		if !c.Nullable {
			col += " NOT NULL"
		}
		parts = append(parts, col)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", d.Quote(def.Name), strings.Join(parts, ",\n  "))
}

func (s *Store) CreateTable(ctx context.Context, def schema.TableDefinition) error {
	if _, err := s.q.ExecContext(ctx, CreateTableSQL(s.dialect, def)); err != nil {
		return classify(fmt.Errorf("create table %s: %w", def.Name, err))
	}
	return nil
}

func (s *Store) DescribeTable(ctx context.Context, table string) ([]schema.Column, error) {
	rows, err := s.q.QueryContext(ctx, s.dialect.DescribeQuery(), table)
	if err != nil {
		return nil, classify(fmt.Errorf("describe %s: %w", table, err))
	}
	defer rows.Close()

	var cols []schema.Column
	for rows.Next() {
		var name, engineType, nullable string
		if err := rows.Scan(&name, &engineType, &nullable); err != nil {
			return nil, fmt.Errorf("describe %s: %w", table, err)
		}
		cols = append(cols, schema.Column{
			Name:     name,
			Type:     s.dialect.NormalizeType(engineType),
			Nullable: strings.EqualFold(nullable, "YES"),
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

// InsertBatch inserts rows in one transaction, using multi-row INSERT
// statements sized to the dialect's parameter limit.
func (s *Store) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	types, err := s.columnTypes(ctx, table)
	if err != nil {
		return err
	}

	perStmt := s.dialect.MaxParams() / max(len(columns), 1)
	if perStmt < 1 {
		return fmt.Errorf("insert %s: %d columns exceed the parameter limit", table, len(columns))
	}

	tx, err := s.q.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback()

	for start := 0; start < len(rows); start += perStmt {
		end := min(start+perStmt, len(rows))
		query, args := s.insertStatement(table, columns, types, rows[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return classify(fmt.Errorf("insert %s: %w", table, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) insertStatement(table string, columns []string, types map[string]schema.StorageType, rows [][]any) (string, []any) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = s.dialect.Quote(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", s.dialect.Quote(table), strings.Join(quoted, ", "))

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
		for j, v := range row {
			args = append(args, s.dialect.Encode(types[columns[j]], v))
		}
	}
	return b.String(), args
}

func (s *Store) columnTypes(ctx context.Context, table string) (map[string]schema.StorageType, error) {
	s.mu.Lock()
	t, ok := s.types[table]
	s.mu.Unlock()
	if ok {
		return t, nil
	}

	cols, err := s.DescribeTable(ctx, table)
	if err != nil {
		return nil, err
	}
	t = make(map[string]schema.StorageType, len(cols))
	for _, c := range cols {
		t[c.Name] = c.Type
	}

	s.mu.Lock()
	s.types[table] = t
	s.mu.Unlock()
	return t, nil
}

func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.dialect.Quote(table)).Scan(&n)
	if err != nil {
		return 0, classify(fmt.Errorf("count %s: %w", table, err))
	}
	return n, nil
}

// Scope pins one connection for a worker.
func (s *Store) Scope(ctx context.Context) (store.Store, func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, nil, classify(fmt.Errorf("acquire connection: %w", err))
	}
	scoped := &Store{db: s.db, q: conn, dialect: s.dialect, types: make(map[string]map[string]schema.StorageType)}
	return scoped, func() { conn.Close() }, nil
}

// Close closes the database handle. Closing a scoped store is a no-op; its
// release func returns the connection.
func (s *Store) Close() error {
	if _, scoped := s.q.(*sql.Conn); scoped {
		return nil
	}
	return s.db.Close()
}

func classify(err error) error {
	if retry.IsConnectionError(err) {
		return store.Unavailable(err)
	}
	return err
}
