package schema

import (
	"errors"

	"github.com/JonMunkholm/tabload/internal/descriptor"
)

// Build derives the table definition for a resource.
//
// The table is named after the sanitized resource name (or the data file's
// base name for unnamed resources). Every field becomes a nullable column in
// declaration order, behind the identity column. Collisions between sanitized
// names and names with no identifier characters are SchemaErrors.
func Build(res descriptor.ResourceSpec) (TableDefinition, error) {
	display := res.DisplayName()

	table, err := Sanitize(display)
	if err != nil {
		return TableDefinition{}, &SchemaError{Resource: display, Reason: "resource name " + reason(err)}
	}

	fields := res.Fields()
	if len(fields) == 0 {
		return TableDefinition{}, &SchemaError{Resource: display, Reason: "schema declares no fields"}
	}

	def := TableDefinition{
		Name:    table,
		Columns: make([]Column, 0, len(fields)+1),
	}
	def.Columns = append(def.Columns, Column{
		Name:     IdentityColumn,
		Type:     Integer,
		Nullable: false,
		Identity: true,
	})

	seen := map[string]string{IdentityColumn: ""}
	missing := res.MissingValues()

	for _, f := range fields {
		name, err := Sanitize(f.Name)
		if err != nil {
			return TableDefinition{}, &SchemaError{Resource: display, Field: f.Name, Reason: reason(err)}
		}
		if prev, dup := seen[name]; dup {
			msg := "collides with the identity column " + IdentityColumn
			if prev != "" {
				msg = "collides with field " + quote(prev) + " as column " + quote(name)
			}
			return TableDefinition{}, &SchemaError{Resource: display, Field: f.Name, Reason: msg}
		}
		seen[name] = f.Name

		m := MapType(f, missing)
		if m.Warning != "" {
			def.Warnings = append(def.Warnings, m.Warning)
		}

		def.Columns = append(def.Columns, Column{
			Name:     name,
			Type:     m.Type,
			Nullable: true,
			Source:   f.Name,
			Coerce:   m.Coerce,
		})
	}

	return def, nil
}

func reason(err error) string {
	if errors.Is(err, ErrEmptyIdentifier) {
		return "has no identifier characters"
	}
	return err.Error()
}

func quote(s string) string {
	return `"` + s + `"`
}
