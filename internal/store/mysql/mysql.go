// Package mysql registers the "mysql" store driver.
package mysql

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/JonMunkholm/tabload/internal/schema"
	"github.com/JonMunkholm/tabload/internal/store"
	"github.com/JonMunkholm/tabload/internal/store/sqlstore"
)

func init() {
	store.Register("mysql", func(ctx context.Context, opts store.Options) (store.Store, error) {
		return Open(ctx, opts)
	})
}

// Open connects to MySQL. The DSN uses the go-sql-driver format
// (user:pass@tcp(host:3306)/db); parseTime and UTC are always enabled.
func Open(ctx context.Context, opts store.Options) (*sqlstore.Store, error) {
	dsn, err := normalizeDSN(opts.DSN)
	if err != nil {
		return nil, err
	}
	return sqlstore.Open(ctx, Dialect{}, dsn, opts)
}

func normalizeDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	if cfg.DBName == "" {
		return "", fmt.Errorf("mysql dsn must name a database")
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Dialect is the MySQL flavour of SQL.
type Dialect struct{}

func (Dialect) DriverName() string { return "mysql" }

func (Dialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (Dialect) MaxParams() int { return 65535 }

func (Dialect) IdentityDDL(name string) string {
	return name + " BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY"
}

func (Dialect) ColumnType(t schema.StorageType) string {
	switch t {
	case schema.Integer:
		return "BIGINT"
	case schema.Float:
		return "DOUBLE"
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Date:
		return "DATE"
	case schema.Datetime:
		return "DATETIME(6)"
	default:
		return "LONGTEXT"
	}
}

func (Dialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`
}

// DescribeQuery reads COLUMN_TYPE rather than DATA_TYPE so tinyint(1)
// booleans can be told apart from integers.
func (Dialect) DescribeQuery() string {
	return `SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`
}

func (Dialect) NormalizeType(engineType string) schema.StorageType {
	t := strings.ToLower(strings.TrimSpace(engineType))
	base := t
	if i := strings.IndexAny(base, "( "); i >= 0 {
		base = base[:i]
	}

	switch {
	case strings.HasPrefix(t, "tinyint(1)"), base == "boolean", base == "bool":
		return schema.Boolean
	case base == "tinyint", base == "smallint", base == "mediumint", base == "int", base == "integer", base == "bigint":
		return schema.Integer
	case base == "double", base == "float", base == "decimal", base == "real", base == "numeric":
		return schema.Float
	case strings.HasSuffix(base, "text"), base == "varchar", base == "char":
		return schema.Text
	case base == "date":
		return schema.Date
	case base == "datetime", base == "timestamp":
		return schema.Datetime
	default:
		return schema.StorageType(t)
	}
}

func (Dialect) Encode(_ schema.StorageType, v any) any {
	return v
}
