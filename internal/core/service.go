package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/tabload/internal/config"
	"github.com/JonMunkholm/tabload/internal/descriptor"
	"github.com/JonMunkholm/tabload/internal/logging"
	"github.com/JonMunkholm/tabload/internal/schema"
	"github.com/JonMunkholm/tabload/internal/store"
	"github.com/JonMunkholm/tabload/internal/store/memory"
)

// Service loads data packages into one store.
type Service struct {
	store    store.Store
	source   descriptor.Source
	cfg      config.LoadConfig
	progress ProgressFunc
}

// NewService creates a Service writing into st. A nil st gets a new
// in-memory store.
func NewService(st store.Store, cfg config.LoadConfig) *Service {
	if st == nil {
		st = memory.New()
	}
	return &Service{
		store:  st,
		source: descriptor.LocalSource{},
		cfg:    cfg,
	}
}

// Store returns the store the service writes into.
func (s *Service) Store() store.Store {
	return s.store
}

// SetSource replaces the package source used by LoadFile.
func (s *Service) SetSource(src descriptor.Source) {
	s.source = src
}

// OnProgress registers a callback for Run and LoadFile.
func (s *Service) OnProgress(fn ProgressFunc) {
	s.progress = fn
}

// Close closes the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

// LoadFile opens a package from a descriptor path or directory and runs it.
func (s *Service) LoadFile(ctx context.Context, ref string) (*LoadReport, error) {
	pkg, err := s.source.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx, pkg)
}

// Describe returns the columns of a table in the store, for callers that
// want to query loaded data.
func (s *Service) Describe(ctx context.Context, table string) ([]schema.Column, error) {
	return s.store.DescribeTable(ctx, table)
}

// Run loads every resource of pkg in declaration order and returns the
// report. Resource failures are recorded in the report and do not stop the
// run. If the store becomes unavailable the run stops and the partial report
// is returned with an error wrapping ErrStoreUnavailable.
func (s *Service) Run(ctx context.Context, pkg *descriptor.Package) (*LoadReport, error) {
	return s.RunWithProgress(ctx, pkg, s.progress)
}

// RunWithProgress is Run with a per-call progress callback.
func (s *Service) RunWithProgress(ctx context.Context, pkg *descriptor.Package, progress ProgressFunc) (*LoadReport, error) {
	desc := pkg.Descriptor
	n := len(desc.Resources)

	r := &run{
		svc:      s,
		pkg:      pkg,
		progress: progress,
		defs:     make([]schema.TableDefinition, n),
		started:  make([]time.Time, n),
		report: &LoadReport{
			Package:   desc.Name,
			StartedAt: time.Now(),
			Resources: make([]ResourceReport, n),
		},
		log: logging.WithFields(ctx, "package", desc.Name),
	}

	workers := max(s.cfg.Workers, 1)
	r.log.Info("load started", "resources", n, "workers", workers)

	var err error
	if workers > 1 && n > 1 {
		err = r.parallel(ctx, workers)
	} else {
		err = r.sequential(ctx)
	}

	report := r.report
	report.Duration = time.Since(report.StartedAt)
	attempted, inserted, skipped := report.Totals()
	if err != nil {
		r.log.Error("load aborted", "error", err, "inserted", inserted)
		return report, err
	}
	r.log.Info("load finished",
		"duration", report.Duration,
		"attempted", attempted,
		"inserted", inserted,
		"skipped", skipped,
		"failed_resources", report.Failed(),
	)
	return report, nil
}

// run is the state of one Run call.
type run struct {
	svc      *Service
	pkg      *descriptor.Package
	report   *LoadReport
	progress ProgressFunc
	defs     []schema.TableDefinition
	started  []time.Time
	log      *slog.Logger
}

func (r *run) sequential(ctx context.Context) error {
	for i := range r.pkg.Descriptor.Resources {
		ready, err := r.prepare(ctx, i, r.svc.store)
		if ready {
			err = r.importResource(ctx, i, r.svc.store)
		}
		r.settle(i)
		if err != nil {
			r.abandon(i+1, err)
			return err
		}
	}
	return nil
}

// parallel materializes every table first, one at a time, then imports the
// ready resources on a bounded pool. A resource is only ever imported by one
// worker.
func (r *run) parallel(ctx context.Context, workers int) error {
	var ready []int
	for i := range r.pkg.Descriptor.Resources {
		ok, err := r.prepare(ctx, i, r.svc.store)
		if err != nil {
			r.settle(i)
			r.abandon(i+1, err)
			return err
		}
		if ok {
			ready = append(ready, i)
		} else {
			r.settle(i)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, i := range ready {
		g.Go(func() error {
			defer r.settle(i)

			if err := gctx.Err(); err != nil {
				r.report.Resources[i].fail(fmt.Errorf("not imported: %w", err))
				return nil
			}

			st, release, err := r.svc.scope(gctx)
			if err != nil {
				r.report.Resources[i].fail(err)
				if errors.Is(err, ErrStoreUnavailable) {
					return err
				}
				return nil
			}
			defer release()

			return r.importResource(gctx, i, st)
		})
	}
	return g.Wait()
}

// prepare builds and materializes resource i. It reports whether the
// resource is ready for import; the error is only set when the store is
// unavailable.
func (r *run) prepare(ctx context.Context, i int, st store.Store) (bool, error) {
	res := r.pkg.Descriptor.Resources[i]
	rr := &r.report.Resources[i]
	rr.Resource = res.DisplayName()
	r.started[i] = time.Now()
	log := r.log.With("resource", rr.Resource)

	r.emit(Progress{Resource: rr.Resource, Phase: PhaseBuilding})

	def, err := schema.Build(res)
	if err != nil {
		rr.fail(err)
		log.Warn("resource schema rejected", "error", err)
		return false, nil
	}
	rr.Table = def.Name
	rr.SchemaWarnings = def.Warnings
	for _, w := range def.Warnings {
		log.Warn("schema warning", "table", def.Name, "warning", w)
	}
	r.defs[i] = def

	r.emit(Progress{Resource: rr.Resource, Table: def.Name, Phase: PhaseMaterializing})

	mctx, cancel := r.svc.callContext(ctx)
	defer cancel()

	outcome, err := Materialize(mctx, def, st)
	rr.Outcome = outcome
	if err != nil {
		rr.fail(err)
		log.Warn("table not usable", "table", def.Name, "outcome", outcome, "error", err)
		if errors.Is(err, ErrStoreUnavailable) {
			return false, err
		}
		return false, nil
	}
	log.Info("table ready", "table", def.Name, "outcome", outcome)
	return true, nil
}

func (r *run) importResource(ctx context.Context, i int, st store.Store) error {
	res := r.pkg.Descriptor.Resources[i]
	rr := &r.report.Resources[i]
	log := r.log.With("resource", rr.Resource, "table", rr.Table)

	if t := r.svc.cfg.ResourceTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	rc, size, err := r.pkg.OpenResource(res)
	if err != nil {
		rr.fail(&StructuralError{Resource: rr.Resource, Cause: CauseFile, Reason: "open data file", Err: err})
		log.Warn("data file not opened", "error", err)
		return nil
	}
	defer rc.Close()

	im := &Importer{
		BatchSize:    r.svc.cfg.BatchSize,
		BatchTimeout: r.svc.cfg.BatchTimeout,
		Progress:     r.progress,
	}
	stats, err := im.Import(ctx, Input{
		Resource:  rr.Resource,
		Reader:    rc,
		Size:      size,
		Delimiter: res.Delimiter(),
	}, r.defs[i], st)
	rr.apply(stats)

	if err != nil {
		rr.fail(err)
		log.Warn("resource failed", "error", err, "inserted", stats.Inserted)
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		return nil
	}
	log.Info("resource loaded",
		"attempted", stats.Attempted,
		"inserted", stats.Inserted,
		"skipped", len(stats.Skipped),
		"warnings", len(stats.Warnings),
	)
	return nil
}

func (r *run) settle(i int) {
	rr := &r.report.Resources[i]
	rr.settle(r.started[i])

	phase := PhaseComplete
	if rr.Status == StatusFailed {
		phase = PhaseFailed
	}
	r.emit(Progress{
		Resource: rr.Resource,
		Table:    rr.Table,
		Phase:    phase,
		Rows:     rr.RowsAttempted,
		Inserted: rr.RowsInserted,
		Skipped:  rr.RowsSkipped,
		Error:    rr.Error,
	})
}

// abandon marks resources from index from onward as not attempted.
func (r *run) abandon(from int, cause error) {
	for i := from; i < len(r.report.Resources); i++ {
		rr := &r.report.Resources[i]
		rr.Resource = r.pkg.Descriptor.Resources[i].DisplayName()
		rr.fail(fmt.Errorf("not attempted: %w", cause))
	}
}

func (r *run) emit(p Progress) {
	if r.progress != nil {
		r.progress(p)
	}
}

// scope hands a worker its own store handle when the store supports it.
func (s *Service) scope(ctx context.Context) (store.Store, func(), error) {
	if sc, ok := s.store.(store.Scoper); ok {
		return sc.Scope(ctx)
	}
	return s.store, func() {}, nil
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.BatchTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.BatchTimeout)
	}
	return ctx, func() {}
}

// PlannedResource is the table definition derived for one resource without
// touching a store.
type PlannedResource struct {
	Resource   string
	Definition schema.TableDefinition
	Err        error
}

// Plan derives the table definitions of every resource in desc.
func Plan(desc *descriptor.PackageDescriptor) []PlannedResource {
	plans := make([]PlannedResource, len(desc.Resources))
	for i, res := range desc.Resources {
		def, err := schema.Build(res)
		plans[i] = PlannedResource{Resource: res.DisplayName(), Definition: def, Err: err}
	}
	return plans
}
