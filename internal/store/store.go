// Package store defines the relational store the loader writes into and a
// registry of drivers that implement it.
//
// Drivers register themselves from init, so a binary only needs a blank
// import to make one available:
//
//	import _ "github.com/JonMunkholm/tabload/internal/store/postgres"
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/tabload/internal/schema"
)

// ErrUnavailable marks errors meaning the store cannot be reached at all.
// The loader stops a run when it sees one.
var ErrUnavailable = errors.New("store unavailable")

// ErrUnknownDriver is returned by Open for unregistered driver names.
var ErrUnknownDriver = errors.New("unknown store driver")

// ErrTableNotFound is returned by DescribeTable for missing tables.
var ErrTableNotFound = errors.New("table not found")

// Store is the relational collaborator of the loader.
type Store interface {
	TableExists(ctx context.Context, table string) (bool, error)

	// CreateTable creates the table exactly as defined. The identity column
	// is generated by the store.
	CreateTable(ctx context.Context, def schema.TableDefinition) error

	// DescribeTable returns the table's columns with engine types normalized
	// to storage types. Unrecognized engine types come back verbatim.
	DescribeTable(ctx context.Context, table string) ([]schema.Column, error)

	// InsertBatch inserts rows atomically: either every row is stored or
	// none is. Values are ordered like columns.
	InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error

	Close() error
}

// Scoper is implemented by stores that can hand out a dedicated connection.
// The release func must be called when the scope is done.
type Scoper interface {
	Scope(ctx context.Context) (Store, func(), error)
}

// Counter is implemented by stores that can count a table's rows.
type Counter interface {
	CountRows(ctx context.Context, table string) (int64, error)
}

// Options configure a driver. Drivers ignore what they do not use.
type Options struct {
	DSN string

	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	ConnectAttempts int
	ConnectDelay    time.Duration

	Auth AuthOptions
}

// AuthOptions select a cloud credential source for the postgres driver.
type AuthOptions struct {
	Method string // password, aws-iam, azure, google

	AWSRegion string

	AzureTenantID     string
	AzureClientID     string
	AzureClientSecret string

	GoogleInstance string
}

// Opener opens a store. Registered per driver name.
type Opener func(ctx context.Context, opts Options) (Store, error)

var (
	mu      sync.RWMutex
	drivers = make(map[string]Opener)
)

// Register makes a driver available under name. Panics on duplicates.
func Register(name string, open Opener) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := drivers[name]; exists {
		panic(fmt.Sprintf("store: driver %q already registered", name))
	}
	drivers[name] = open
}

// Open opens a store with a registered driver.
func Open(ctx context.Context, name string, opts Options) (Store, error) {
	mu.RLock()
	open, ok := drivers[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownDriver, name, Drivers())
	}
	return open(ctx, opts)
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unavailable wraps err with ErrUnavailable, keeping it inspectable.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
