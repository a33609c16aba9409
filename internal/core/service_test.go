package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tabload/internal/config"
	"github.com/JonMunkholm/tabload/internal/descriptor"
	"github.com/JonMunkholm/tabload/internal/schema"
	"github.com/JonMunkholm/tabload/internal/store"
	"github.com/JonMunkholm/tabload/internal/store/memory"
)

const financialsDescriptor = `{
  "name": "s-and-p-500-companies",
  "resources": [
    {
      "name": "constituents_financials",
      "path": "data/constituents-financials.csv",
      "schema": {
        "fields": [
          {"name": "symbol", "type": "string"},
          {"name": "price", "type": "number"},
          {"name": "52 Week Low", "type": "number"}
        ]
      }
    }
  ]
}`

const financialsCSV = "symbol,price,52 Week Low\nMMM,162.27,123.61\nBAD,notanumber,99.1\n"

// writePackage lays out a package directory and returns its path.
func writePackage(t *testing.T, desc string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "datapackage.json"), []byte(desc), 0o644))
	for name, data := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	}
	return dir
}

func TestLoadFile_Financials(t *testing.T) {
	dir := writePackage(t, financialsDescriptor, map[string]string{
		"data/constituents-financials.csv": financialsCSV,
	})
	mem := memory.New()
	svc := NewService(mem, config.LoadConfig{})

	report, err := svc.LoadFile(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "s-and-p-500-companies", report.Package)
	require.Len(t, report.Resources, 1)
	rr := report.Resources[0]
	assert.Equal(t, "constituents_financials", rr.Resource)
	assert.Equal(t, "constituents_financials", rr.Table)
	assert.Equal(t, OutcomeCreated, rr.Outcome)
	assert.Equal(t, StatusPartial, rr.Status)
	assert.Equal(t, 2, rr.RowsAttempted)
	assert.Equal(t, 2, rr.RowsInserted)
	assert.Zero(t, rr.RowsSkipped)
	require.Len(t, rr.Warnings, 1)
	assert.Equal(t, 3, rr.Warnings[0].Line)
	assert.Equal(t, "price", rr.Warnings[0].Field)
	assert.Equal(t, "notanumber", rr.Warnings[0].Value)
	assert.Empty(t, rr.Error)

	cols, err := svc.Describe(context.Background(), "constituents_financials")
	require.NoError(t, err)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	assert.Equal(t, []string{schema.IdentityColumn, "symbol", "price", "_52_week_low"}, names)

	rows, err := mem.Rows("constituents_financials")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 162.27, rows[0]["price"])
	assert.Equal(t, "BAD", rows[1]["symbol"])
	assert.Nil(t, rows[1]["price"])
	assert.Equal(t, 99.1, rows[1]["_52_week_low"])
}

func TestLoadFile_RerunAppends(t *testing.T) {
	dir := writePackage(t, financialsDescriptor, map[string]string{
		"data/constituents-financials.csv": financialsCSV,
	})
	mem := memory.New()
	svc := NewService(mem, config.LoadConfig{})

	_, err := svc.LoadFile(context.Background(), dir)
	require.NoError(t, err)
	report, err := svc.LoadFile(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompatible, report.Resources[0].Outcome)
	assert.Equal(t, 2, report.Resources[0].RowsInserted)

	rows, err := mem.Rows("constituents_financials")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, int64(4), rows[3][schema.IdentityColumn])
}

const twoResourceDescriptor = `{
  "name": "market",
  "resources": [
    {
      "name": "prices",
      "path": "prices.csv",
      "schema": {"fields": [
        {"name": "symbol", "type": "string"},
        {"name": "price", "type": "number"}
      ]}
    },
    {
      "name": "sectors",
      "path": "sectors.csv",
      "schema": {"fields": [
        {"name": "symbol", "type": "string"},
        {"name": "sector", "type": "string"}
      ]}
    }
  ]
}`

func TestRun_HeaderMismatchDoesNotStopSiblings(t *testing.T) {
	dir := writePackage(t, twoResourceDescriptor, map[string]string{
		"prices.csv":  "symbol,price,extra\nMMM,1,x\n",
		"sectors.csv": "symbol,sector\nMMM,Industrials\n",
	})
	mem := memory.New()
	svc := NewService(mem, config.LoadConfig{})

	report, err := svc.LoadFile(context.Background(), dir)
	require.NoError(t, err)

	prices, ok := report.Resource("prices")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, prices.Status)
	assert.Equal(t, "structural", prices.ErrorKind)
	assert.Equal(t, "STR001", prices.ErrorCode)
	assert.Zero(t, prices.RowsInserted)

	sectors, ok := report.Resource("sectors")
	require.True(t, ok)
	assert.Equal(t, StatusSucceeded, sectors.Status)
	assert.Equal(t, 1, sectors.RowsInserted)
	assert.Equal(t, 1, report.Failed())
}

func TestRun_SchemaErrorCreatesNoTable(t *testing.T) {
	desc := `{
  "name": "bad",
  "resources": [
    {"name": "dupes", "path": "dupes.csv", "schema": {"fields": [
      {"name": "a b", "type": "string"},
      {"name": "A-B", "type": "string"}
    ]}}
  ]
}`
	dir := writePackage(t, desc, map[string]string{"dupes.csv": "a b,A-B\n1,2\n"})
	mem := memory.New()

	report, err := NewService(mem, config.LoadConfig{}).LoadFile(context.Background(), dir)
	require.NoError(t, err)

	rr := report.Resources[0]
	assert.Equal(t, StatusFailed, rr.Status)
	assert.Equal(t, "schema", rr.ErrorKind)
	var se *SchemaError
	require.ErrorAs(t, rr.Err(), &se)
	assert.Equal(t, "A-B", se.Field)
	assert.Empty(t, mem.Tables())
}

func TestRun_IncompatibleTableIsLeftAlone(t *testing.T) {
	dir := writePackage(t, twoResourceDescriptor, map[string]string{
		"prices.csv":  "symbol,price\nMMM,1\n",
		"sectors.csv": "symbol,sector\nMMM,Industrials\n",
	})
	mem := memory.New()
	mem.CreateRawTable("prices", []schema.Column{
		{Name: schema.IdentityColumn, Type: schema.Integer, Identity: true},
		{Name: "symbol", Type: schema.Text, Nullable: true},
		{Name: "price", Type: schema.Text, Nullable: true},
	})

	report, err := NewService(mem, config.LoadConfig{}).LoadFile(context.Background(), dir)
	require.NoError(t, err)

	prices, _ := report.Resource("prices")
	assert.Equal(t, OutcomeIncompatible, prices.Outcome)
	assert.Equal(t, StatusFailed, prices.Status)
	assert.Equal(t, "TBL001", prices.ErrorCode)

	n, err := mem.CountRows(context.Background(), "prices")
	require.NoError(t, err)
	assert.Zero(t, n)

	sectors, _ := report.Resource("sectors")
	assert.Equal(t, StatusSucceeded, sectors.Status)
}

func TestRun_MissingDataFile(t *testing.T) {
	dir := writePackage(t, twoResourceDescriptor, map[string]string{
		"sectors.csv": "symbol,sector\nMMM,Industrials\n",
	})

	report, err := NewService(memory.New(), config.LoadConfig{}).LoadFile(context.Background(), dir)
	require.NoError(t, err)

	prices, _ := report.Resource("prices")
	assert.Equal(t, StatusFailed, prices.Status)
	assert.Equal(t, "STR002", prices.ErrorCode)

	sectors, _ := report.Resource("sectors")
	assert.Equal(t, StatusSucceeded, sectors.Status)
}

func TestRun_UnavailableStoreStopsRun(t *testing.T) {
	dir := writePackage(t, twoResourceDescriptor, map[string]string{
		"prices.csv":  "symbol,price\nMMM,1\n",
		"sectors.csv": "symbol,sector\nMMM,Industrials\n",
	})
	st := &downStore{Store: memory.New()}

	report, err := NewService(st, config.LoadConfig{}).LoadFile(context.Background(), dir)
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.NotNil(t, report)

	prices, _ := report.Resource("prices")
	assert.Equal(t, "store_unavailable", prices.ErrorKind)

	sectors, _ := report.Resource("sectors")
	assert.Equal(t, StatusFailed, sectors.Status)
	assert.Contains(t, sectors.Error, "not attempted")
	assert.NotContains(t, st.Tables(), "sectors")
}

func TestLoadFile_DescriptorNotFound(t *testing.T) {
	_, err := NewService(nil, config.LoadConfig{}).LoadFile(context.Background(), t.TempDir())
	require.ErrorIs(t, err, descriptor.ErrDescriptorNotFound)
	assert.Equal(t, "PKG001", MapError(err).Code)
}

// scopingStore hands out the same memory store as a scoped handle and
// counts the scopes.
type scopingStore struct {
	*memory.Store
	scopes   atomic.Int32
	released atomic.Int32
}

func (s *scopingStore) Scope(context.Context) (store.Store, func(), error) {
	s.scopes.Add(1)
	return s.Store, func() { s.released.Add(1) }, nil
}

func TestRun_ParallelWorkers(t *testing.T) {
	desc := `{
  "name": "many",
  "resources": [
    {"name": "a", "path": "a.csv", "schema": {"fields": [{"name": "n", "type": "integer"}]}},
    {"name": "b", "path": "b.csv", "schema": {"fields": [{"name": "n", "type": "integer"}]}},
    {"name": "c", "path": "c.csv", "schema": {"fields": [{"name": "n", "type": "integer"}]}},
    {"name": "d", "path": "d.csv", "schema": {"fields": [{"name": "n", "type": "integer"}]}}
  ]
}`
	dir := writePackage(t, desc, map[string]string{
		"a.csv": "n\n1\n2\n",
		"b.csv": "n\n1\n2\n3\n",
		"c.csv": "n\nx\n",
		"d.csv": "n,extra\n1,2\n",
	})
	st := &scopingStore{Store: memory.New()}
	svc := NewService(st, config.LoadConfig{Workers: 3, BatchSize: 1})

	var mu sync.Mutex
	phases := map[string]Phase{}
	report, err := svc.RunWithProgress(context.Background(), openPackage(t, dir), func(p Progress) {
		mu.Lock()
		phases[p.Resource] = p.Phase
		mu.Unlock()
	})
	require.NoError(t, err)

	names := make([]string, len(report.Resources))
	for i, rr := range report.Resources {
		names[i] = rr.Resource
	}
	assert.Equal(t, []string{"a", "b", "c", "d"}, names)

	assert.Equal(t, StatusSucceeded, report.Resources[0].Status)
	assert.Equal(t, 3, report.Resources[1].RowsInserted)
	assert.Equal(t, StatusPartial, report.Resources[2].Status)
	assert.Equal(t, StatusFailed, report.Resources[3].Status)

	assert.Equal(t, int32(4), st.scopes.Load())
	assert.Equal(t, st.scopes.Load(), st.released.Load())

	assert.Equal(t, PhaseComplete, phases["a"])
	assert.Equal(t, PhaseFailed, phases["d"])

	attempted, inserted, skipped := report.Totals()
	assert.Equal(t, 6, attempted)
	assert.Equal(t, 6, inserted)
	assert.Zero(t, skipped)
}

func TestRun_ProgressPhases(t *testing.T) {
	dir := writePackage(t, financialsDescriptor, map[string]string{
		"data/constituents-financials.csv": financialsCSV,
	})
	svc := NewService(memory.New(), config.LoadConfig{})

	var phases []Phase
	svc.OnProgress(func(p Progress) { phases = append(phases, p.Phase) })

	_, err := svc.LoadFile(context.Background(), dir)
	require.NoError(t, err)

	require.NotEmpty(t, phases)
	assert.Equal(t, PhaseBuilding, phases[0])
	assert.Contains(t, phases, PhaseMaterializing)
	assert.Contains(t, phases, PhaseImporting)
	assert.Equal(t, PhaseComplete, phases[len(phases)-1])
}

func TestPlan(t *testing.T) {
	desc, err := descriptor.Parse([]byte(financialsDescriptor), descriptor.FormatJSON)
	require.NoError(t, err)

	plans := Plan(desc)
	require.Len(t, plans, 1)
	require.NoError(t, plans[0].Err)
	assert.Equal(t, "constituents_financials", plans[0].Definition.Name)
	assert.Len(t, plans[0].Definition.Columns, 4)
}

func TestMaterialize(t *testing.T) {
	ctx := context.Background()
	def := pricesDef(t)
	mem := memory.New()

	outcome, err := Materialize(ctx, def, mem)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)

	outcome, err = Materialize(ctx, def, mem)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompatible, outcome)

	other := memory.New()
	other.CreateRawTable("prices", []schema.Column{
		{Name: "symbol", Type: schema.Text, Nullable: true},
	})
	outcome, err = Materialize(ctx, def, other)
	var ie *IncompatibleTableError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, OutcomeIncompatible, outcome)
	assert.NotEmpty(t, ie.Problems)

	require.NoError(t, mem.Close())
	_, err = Materialize(ctx, def, mem)
	assert.True(t, errors.Is(err, ErrStoreUnavailable))
}

func openPackage(t *testing.T, dir string) *descriptor.Package {
	t.Helper()
	pkg, err := descriptor.LocalSource{}.Open(context.Background(), dir)
	require.NoError(t, err)
	return pkg
}

// stallingStore never finishes an insert into one table.
type stallingStore struct {
	*memory.Store
	table string
}

func (s *stallingStore) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	if table == s.table {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.Store.InsertBatch(ctx, table, columns, rows)
}

func TestRun_ResourceTimeoutFailsResourceOnly(t *testing.T) {
	dir := writePackage(t, twoResourceDescriptor, map[string]string{
		"prices.csv":  "symbol,price\nMMM,1\n",
		"sectors.csv": "symbol,sector\nMMM,Industrials\n",
	})
	st := &stallingStore{Store: memory.New(), table: "prices"}
	svc := NewService(st, config.LoadConfig{ResourceTimeout: 50 * time.Millisecond})

	report, err := svc.LoadFile(context.Background(), dir)
	require.NoError(t, err)

	prices, _ := report.Resource("prices")
	assert.Equal(t, StatusFailed, prices.Status)
	assert.Equal(t, "timeout", prices.ErrorKind)
	require.ErrorIs(t, prices.Err(), context.DeadlineExceeded)
	assert.Zero(t, prices.RowsInserted)

	sectors, _ := report.Resource("sectors")
	assert.Equal(t, StatusSucceeded, sectors.Status)
	assert.Equal(t, 1, sectors.RowsInserted)
}

func TestRun_CompletesEachResourceOnce(t *testing.T) {
	dir := writePackage(t, twoResourceDescriptor, map[string]string{
		"prices.csv":  "symbol,price\nMMM,1\nAOS,2\n",
		"sectors.csv": "symbol,sector\nMMM,Industrials\n",
	})
	svc := NewService(memory.New(), config.LoadConfig{BatchSize: 1})

	completed := map[string]int{}
	report, err := svc.RunWithProgress(context.Background(), openPackage(t, dir), func(p Progress) {
		if p.Phase == PhaseComplete {
			completed[p.Resource]++
		}
	})
	require.NoError(t, err)
	require.Len(t, report.Resources, 2)
	assert.Equal(t, map[string]int{"prices": 1, "sectors": 1}, completed)
}
