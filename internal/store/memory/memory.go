// Package memory is an in-process store. It is the default store of the
// loader and the store used by most tests.
//
// Tables enforce their column types and NOT NULL, so rows the loader sends
// with the wrong Go type are rejected the way a SQL engine would reject them.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/tabload/internal/schema"
	"github.com/JonMunkholm/tabload/internal/store"
)

var errClosed = errors.New("memory store is closed")

func init() {
	store.Register("memory", func(context.Context, store.Options) (store.Store, error) {
		return New(), nil
	})
}

type table struct {
	columns []schema.Column
	rows    [][]any
	nextID  int64
}

// Store keeps tables in memory. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
	closed bool
}

// New returns an empty store.
func New() *Store {
	return &Store{tables: make(map[string]*table)}
}

func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, store.Unavailable(errClosed)
	}
	_, ok := s.tables[name]
	return ok, nil
}

func (s *Store) CreateTable(ctx context.Context, def schema.TableDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.Unavailable(errClosed)
	}
	if _, ok := s.tables[def.Name]; ok {
		return fmt.Errorf("table %s already exists", def.Name)
	}

	cols := make([]schema.Column, len(def.Columns))
	for i, c := range def.Columns {
		cols[i] = schema.Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable, Identity: c.Identity}
	}
	s.tables[def.Name] = &table{columns: cols, nextID: 1}
	return nil
}

// CreateRawTable creates a table from plain columns, bypassing the
// definition builder. Used to model tables created by someone else.
func (s *Store) CreateRawTable(name string, cols []schema.Column) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[name] = &table{columns: append([]schema.Column(nil), cols...), nextID: 1}
}

func (s *Store) DescribeTable(ctx context.Context, name string) ([]schema.Column, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.Unavailable(errClosed)
	}
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTableNotFound, name)
	}
	return append([]schema.Column(nil), t.columns...), nil
}

func (s *Store) InsertBatch(ctx context.Context, name string, columns []string, rows [][]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return store.Unavailable(errClosed)
	}
	t, ok := s.tables[name]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrTableNotFound, name)
	}

	positions := make([]int, len(columns))
	for i, name := range columns {
		positions[i] = t.index(name)
		if positions[i] < 0 {
			return fmt.Errorf("column %s does not exist", name)
		}
		if t.columns[positions[i]].Identity {
			return fmt.Errorf("column %s is generated", name)
		}
	}

	built := make([][]any, 0, len(rows))
	for n, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("row %d: got %d values for %d columns", n, len(row), len(columns))
		}
		stored := make([]any, len(t.columns))
		for i, v := range row {
			col := t.columns[positions[i]]
			if err := check(col, v); err != nil {
				return fmt.Errorf("row %d: %w", n, err)
			}
			stored[positions[i]] = v
		}
		for i, col := range t.columns {
			if stored[i] == nil && !col.Nullable && !col.Identity {
				return fmt.Errorf("row %d: null value in column %s violates not-null constraint", n, col.Name)
			}
		}
		built = append(built, stored)
	}

	for _, row := range built {
		for i, col := range t.columns {
			if col.Identity {
				row[i] = t.nextID
				t.nextID++
			}
		}
		t.rows = append(t.rows, row)
	}
	return nil
}

func (s *Store) CountRows(ctx context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", store.ErrTableNotFound, name)
	}
	return int64(len(t.rows)), nil
}

// Rows returns a copy of a table's rows keyed by column name, in insertion order.
func (s *Store) Rows(name string) ([]map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrTableNotFound, name)
	}

	out := make([]map[string]any, len(t.rows))
	for i, row := range t.rows {
		m := make(map[string]any, len(row))
		for j, col := range t.columns {
			m[col.Name] = row[j]
		}
		out[i] = m
	}
	return out, nil
}

// Tables returns the table names, sorted.
func (s *Store) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close makes every later call fail as unavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (t *table) index(name string) int {
	for i, c := range t.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func check(col schema.Column, v any) error {
	if v == nil {
		if !col.Nullable {
			return fmt.Errorf("null value in column %s violates not-null constraint", col.Name)
		}
		return nil
	}

	ok := false
	switch col.Type {
	case schema.Text:
		_, ok = v.(string)
	case schema.Integer:
		_, ok = v.(int64)
	case schema.Float:
		_, ok = v.(float64)
	case schema.Boolean:
		_, ok = v.(bool)
	case schema.Date, schema.Datetime:
		_, ok = v.(time.Time)
	}
	if !ok {
		return fmt.Errorf("invalid input for column %s of type %s: %v (%T)", col.Name, col.Type, v, v)
	}
	return nil
}
