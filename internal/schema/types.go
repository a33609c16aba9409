// Package schema derives relational table definitions from descriptor field
// schemas: identifier sanitizing, declared type mapping with per-cell
// coercion, and table compatibility checks.
//
// Everything here is pure. No function in this package touches a store.
package schema

import (
	"fmt"
	"strings"
)

// StorageType is the relational column type a declared type maps to.
type StorageType string

const (
	Text     StorageType = "text"
	Integer  StorageType = "integer"
	Float    StorageType = "float"
	Boolean  StorageType = "boolean"
	Date     StorageType = "date"
	Datetime StorageType = "datetime"
)

// DeclaredType is the closed set of descriptor field types the loader knows.
// Anything else is Unknown and is stored as text.
type DeclaredType int

const (
	TypeUnknown DeclaredType = iota
	TypeString
	TypeInteger
	TypeNumber
	TypeBoolean
	TypeDate
	TypeDatetime
)

// ParseDeclaredType maps a descriptor type name to a DeclaredType.
// An empty name is string, the descriptor default.
func ParseDeclaredType(name string) DeclaredType {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "string":
		return TypeString
	case "integer":
		return TypeInteger
	case "number", "float":
		return TypeNumber
	case "boolean":
		return TypeBoolean
	case "date":
		return TypeDate
	case "datetime":
		return TypeDatetime
	default:
		return TypeUnknown
	}
}

func (d DeclaredType) String() string {
	switch d {
	case TypeString:
		return "string"
	case TypeInteger:
		return "integer"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeDate:
		return "date"
	case TypeDatetime:
		return "datetime"
	default:
		return "unknown"
	}
}

// IdentityColumn is the name of the surrogate key every table gets.
// Sanitized field names can never produce it: a leading underscore only
// survives sanitizing when a digit follows.
const IdentityColumn = "_row_id"

// Column is one column of a table definition.
type Column struct {
	Name     string      `json:"name"`
	Type     StorageType `json:"type"`
	Nullable bool        `json:"nullable"`
	Identity bool        `json:"identity,omitempty"`

	// Source is the raw descriptor field name. Empty for the identity column
	// and for columns read back from a store.
	Source string `json:"source,omitempty"`

	// Coerce converts a raw cell to the column's Go value. Nil for the
	// identity column and for described columns.
	Coerce CoerceFunc `json:"-"`
}

// TableDefinition is the column model derived for one resource.
// Columns start with the identity column, followed by one column per
// declared field in declaration order.
type TableDefinition struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`

	// Warnings are non-fatal schema findings such as unknown declared types.
	Warnings []string `json:"warnings,omitempty"`
}

// DataColumns returns the columns fed from the source file.
func (t TableDefinition) DataColumns() []Column {
	cols := make([]Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Identity {
			cols = append(cols, c)
		}
	}
	return cols
}

// DataColumnNames returns the insert column list, in field order.
func (t TableDefinition) DataColumnNames() []string {
	cols := t.DataColumns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Column returns the column with the given name.
func (t TableDefinition) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// SchemaError reports a resource whose schema cannot be turned into a table.
// No table is created for it.
type SchemaError struct {
	Resource string
	Field    string
	Reason   string
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema error in resource %q, field %q: %s", e.Resource, e.Field, e.Reason)
	}
	return fmt.Sprintf("schema error in resource %q: %s", e.Resource, e.Reason)
}
