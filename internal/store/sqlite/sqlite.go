// Package sqlite registers the "sqlite" store driver, backed by the pure Go
// modernc.org/sqlite engine.
package sqlite

import (
	"context"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JonMunkholm/tabload/internal/schema"
	"github.com/JonMunkholm/tabload/internal/store"
	"github.com/JonMunkholm/tabload/internal/store/sqlstore"
)

// DefaultDSN is used when no DSN is configured.
const DefaultDSN = "file:tabload.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

func init() {
	store.Register("sqlite", func(ctx context.Context, opts store.Options) (store.Store, error) {
		return Open(ctx, opts)
	})
}

// Open opens a SQLite database. In-memory databases are private to one
// connection, so they are limited to a single connection.
func Open(ctx context.Context, opts store.Options) (*sqlstore.Store, error) {
	dsn := opts.DSN
	if dsn == "" {
		dsn = DefaultDSN
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		opts.MaxConns = 1
	}
	return sqlstore.Open(ctx, Dialect{}, dsn, opts)
}

// Dialect is the SQLite flavour of SQL.
type Dialect struct{}

func (Dialect) DriverName() string { return "sqlite" }

func (Dialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// MaxParams is SQLITE_MAX_VARIABLE_NUMBER for builds since 3.32.
func (Dialect) MaxParams() int { return 32766 }

func (Dialect) IdentityDDL(name string) string {
	return name + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (Dialect) ColumnType(t schema.StorageType) string {
	switch t {
	case schema.Integer:
		return "INTEGER"
	case schema.Float:
		return "REAL"
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Date:
		return "DATE"
	case schema.Datetime:
		return "DATETIME"
	default:
		return "TEXT"
	}
}

func (Dialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`
}

func (Dialect) DescribeQuery() string {
	return `SELECT name, type, CASE WHEN "notnull" = 0 AND pk = 0 THEN 'YES' ELSE 'NO' END
		FROM pragma_table_info(?) ORDER BY cid`
}

// NormalizeType follows SQLite's column affinity rules, with the date and
// boolean names the loader itself declares checked first.
func (Dialect) NormalizeType(engineType string) schema.StorageType {
	t := strings.ToUpper(strings.TrimSpace(engineType))
	switch {
	case t == "BOOLEAN" || t == "BOOL":
		return schema.Boolean
	case t == "DATE":
		return schema.Date
	case t == "DATETIME" || strings.HasPrefix(t, "TIMESTAMP"):
		return schema.Datetime
	case strings.Contains(t, "INT"):
		return schema.Integer
	case strings.Contains(t, "CHAR") || strings.Contains(t, "CLOB") || strings.Contains(t, "TEXT"):
		return schema.Text
	case strings.Contains(t, "REAL") || strings.Contains(t, "FLOA") || strings.Contains(t, "DOUB"):
		return schema.Float
	default:
		return schema.StorageType(strings.ToLower(engineType))
	}
}

// Encode stores dates as ISO text so they sort and compare naturally.
func (Dialect) Encode(t schema.StorageType, v any) any {
	tm, ok := v.(time.Time)
	if !ok {
		return v
	}
	if t == schema.Date {
		return tm.Format("2006-01-02")
	}
	return tm.UTC().Format(time.RFC3339Nano)
}
