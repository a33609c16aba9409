package schema

import "fmt"

// Mismatches compares a definition with the columns of an existing table and
// returns every reason the table cannot receive the definition's rows.
// An empty result means the table is compatible.
//
// Extra columns in the existing table are allowed. The identity column only
// has to exist; its engine type is not compared.
func Mismatches(def TableDefinition, existing []Column) []string {
	byName := make(map[string]Column, len(existing))
	for _, c := range existing {
		byName[c.Name] = c
	}

	var problems []string
	for _, want := range def.Columns {
		got, ok := byName[want.Name]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("missing column %s", want.Name))
		case want.Identity:
			continue
		case got.Type != want.Type:
			problems = append(problems, fmt.Sprintf("column %s is %s, want %s", want.Name, got.Type, want.Type))
		case !got.Nullable:
			problems = append(problems, fmt.Sprintf("column %s is NOT NULL", want.Name))
		}
	}
	return problems
}
