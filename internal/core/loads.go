package core

// loads.go runs loads in the background for the HTTP server and keeps their
// state until they are collected.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tabload/internal/logging"
)

// ErrLoadNotFound is returned for unknown or expired load ids.
var ErrLoadNotFound = errors.New("load not found")

// LoadState is the lifecycle state of a background load.
type LoadState string

const (
	LoadRunning   LoadState = "running"
	LoadCompleted LoadState = "completed"
	LoadFailed    LoadState = "failed"
)

// DefaultRetention is how long finished loads stay queryable.
const DefaultRetention = time.Hour

// LoadStatus is a snapshot of a background load.
type LoadStatus struct {
	ID         string              `json:"id"`
	Ref        string              `json:"descriptor"`
	State      LoadState           `json:"state"`
	StartedAt  time.Time           `json:"startedAt"`
	FinishedAt *time.Time          `json:"finishedAt,omitempty"`
	Progress   map[string]Progress `json:"progress,omitempty"`
	Report     *LoadReport         `json:"report,omitempty"`
	Error      *UserMessage        `json:"error,omitempty"`
	Requester  *Requester          `json:"requester,omitempty"`
}

type trackedLoad struct {
	mu     sync.Mutex
	status LoadStatus
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *trackedLoad) snapshot() LoadStatus {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.status
	s.Progress = make(map[string]Progress, len(l.status.Progress))
	for k, v := range l.status.Progress {
		s.Progress[k] = v
	}
	return s
}

// Loads starts and tracks background loads, bounded by a LoadLimiter.
type Loads struct {
	svc       *Service
	limiter   *LoadLimiter
	timeout   time.Duration
	retention time.Duration

	mu    sync.RWMutex
	loads map[string]*trackedLoad
}

// NewLoads creates a tracker. timeout bounds each load; 0 means none.
func NewLoads(svc *Service, limiter *LoadLimiter, timeout time.Duration) *Loads {
	return &Loads{
		svc:       svc,
		limiter:   limiter,
		timeout:   timeout,
		retention: DefaultRetention,
		loads:     make(map[string]*trackedLoad),
	}
}

// Start opens the package at ref and loads it in the background. It waits
// for a limiter slot and returns ErrTooManyLoads when none frees up. Errors
// opening the descriptor are returned directly.
func (l *Loads) Start(ctx context.Context, ref string) (string, error) {
	if err := l.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	pkg, err := l.svc.source.Open(ctx, ref)
	if err != nil {
		l.limiter.Release()
		return "", err
	}

	id := uuid.New().String()
	runCtx := logging.WithLoadID(context.Background(), id)
	var cancel context.CancelFunc
	if l.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, l.timeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}

	load := &trackedLoad{
		status: LoadStatus{
			ID:        id,
			Ref:       ref,
			State:     LoadRunning,
			StartedAt: time.Now(),
			Progress:  make(map[string]Progress),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	log := slog.With("load_id", id, "descriptor", ref)
	if req, ok := RequesterFromContext(ctx); ok {
		load.status.Requester = &req
		log = log.With("ip", req.IPAddress, "user_agent", req.UserAgent)
	}
	log.Info("load queued")

	l.mu.Lock()
	l.loads[id] = load
	l.mu.Unlock()

	go func() {
		defer l.limiter.Release()
		defer cancel()
		defer close(load.done)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in load", "load_id", id, "panic", r)
				l.finish(load, nil, fmt.Errorf("internal error: %v", r))
			}
		}()

		report, err := l.svc.RunWithProgress(runCtx, pkg, func(p Progress) {
			load.mu.Lock()
			load.status.Progress[p.Resource] = p
			load.mu.Unlock()
		})
		l.finish(load, report, err)
	}()

	return id, nil
}

func (l *Loads) finish(load *trackedLoad, report *LoadReport, err error) {
	now := time.Now()

	load.mu.Lock()
	load.status.FinishedAt = &now
	load.status.Report = report
	load.status.State = LoadCompleted
	if err != nil {
		msg := MapError(err)
		load.status.Error = &msg
		load.status.State = LoadFailed
	}
	id := load.status.ID
	load.mu.Unlock()

	time.AfterFunc(l.retention, func() {
		l.mu.Lock()
		delete(l.loads, id)
		l.mu.Unlock()
	})
}

func (l *Loads) get(id string) (*trackedLoad, error) {
	l.mu.RLock()
	load, ok := l.loads[id]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLoadNotFound, id)
	}
	return load, nil
}

// Status returns the current state of a load without blocking.
func (l *Loads) Status(id string) (LoadStatus, error) {
	load, err := l.get(id)
	if err != nil {
		return LoadStatus{}, err
	}
	return load.snapshot(), nil
}

// Wait blocks until the load finishes or ctx is done.
func (l *Loads) Wait(ctx context.Context, id string) (LoadStatus, error) {
	load, err := l.get(id)
	if err != nil {
		return LoadStatus{}, err
	}
	select {
	case <-load.done:
		return load.snapshot(), nil
	case <-ctx.Done():
		return LoadStatus{}, ctx.Err()
	}
}

// Cancel stops a running load. Rows already inserted stay.
func (l *Loads) Cancel(id string) error {
	load, err := l.get(id)
	if err != nil {
		return err
	}
	load.cancel()
	return nil
}

// List returns snapshots of every tracked load, newest first.
func (l *Loads) List() []LoadStatus {
	l.mu.RLock()
	out := make([]LoadStatus, 0, len(l.loads))
	for _, load := range l.loads {
		out = append(out, load.snapshot())
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// LimiterStatus exposes the limiter state for health checks.
func (l *Loads) LimiterStatus() LimiterStatus {
	return l.limiter.Status()
}

// Drain waits for running loads to finish, for graceful shutdown.
func (l *Loads) Drain(ctx context.Context) error {
	return l.limiter.WaitForDrain(ctx)
}
