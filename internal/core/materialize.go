package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/tabload/internal/schema"
	"github.com/JonMunkholm/tabload/internal/store"
)

// Materialize makes sure a table for def exists. A missing table is created
// with exactly the definition's columns. An existing table is described and
// reused when compatible; it is never altered.
func Materialize(ctx context.Context, def schema.TableDefinition, st store.Store) (Outcome, error) {
	exists, err := st.TableExists(ctx, def.Name)
	if err != nil {
		return "", err
	}

	if !exists {
		if err := st.CreateTable(ctx, def); err != nil {
			return "", err
		}
		return OutcomeCreated, nil
	}

	cols, err := st.DescribeTable(ctx, def.Name)
	if err != nil {
		return "", fmt.Errorf("describe existing table %s: %w", def.Name, err)
	}
	if problems := schema.Mismatches(def, cols); len(problems) > 0 {
		return OutcomeIncompatible, &IncompatibleTableError{Table: def.Name, Problems: problems}
	}
	return OutcomeCompatible, nil
}
