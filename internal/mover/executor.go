package mover

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/lazypower/tierctl/internal/rules"
	"github.com/lazypower/tierctl/internal/tier"
)

// Outcome classifies a finished move. The zero value is Failed so a result
// that was never filled in cannot read as a success.
type Outcome int

const (
	Failed Outcome = iota
	Succeeded
	SyncDiverged
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case SyncDiverged:
		return "sync_diverged"
	case Skipped:
		return "skipped"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	for _, v := range []Outcome{Failed, Succeeded, SyncDiverged, Skipped} {
		if v.String() == string(b) {
			*o = v
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Result is the per-entry record of an executed plan.
type Result struct {
	Entry       rules.Entry   `json:"entry"`
	Outcome     Outcome       `json:"outcome"`
	NewLocation string        `json:"new_location,omitempty"`
	Err         error         `json:"-"`
	Message     string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Catalog is the write the executor makes after bytes have moved.
type Catalog interface {
	UpdateLocation(ctx context.Context, id, location string, t tier.Tier) (bool, error)
}

// Options bound the executor.
type Options struct {
	Workers     int
	MoveTimeout time.Duration
}

// Executor carries out plan entries against the tier backends and records
// each completed move in the catalog.
type Executor struct {
	backends Backends
	catalog  Catalog
	opts     Options
	metrics  *Metrics
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewExecutor(backends Backends, catalog Catalog, opts Options, metrics *Metrics, logger *zap.Logger) *Executor {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		backends: backends,
		catalog:  catalog,
		opts:     opts,
		metrics:  metrics,
		logger:   logger.Named("executor"),
		inflight: make(map[string]struct{}),
	}
}

func (x *Executor) acquire(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, busy := x.inflight[id]; busy {
		return false
	}
	x.inflight[id] = struct{}{}
	return true
}

func (x *Executor) release(id string) {
	x.mu.Lock()
	delete(x.inflight, id)
	x.mu.Unlock()
}

// BaseName is the object name shared by every tier's copy.
func BaseName(location string) string {
	if strings.HasPrefix(location, archiveScheme) {
		return path.Base(location)
	}
	return filepath.Base(location)
}

// Execute performs one move: bytes first, then the catalog. It returns the
// new location. A *TransferError leaves the catalog untouched; a *SyncError
// means the bytes moved but the catalog does not know.
func (x *Executor) Execute(ctx context.Context, e rules.Entry) (string, error) {
	if !e.Legal() {
		return "", fmt.Errorf("%s %v->%v: %w", e.ID, e.From, e.To, ErrIllegalTransition)
	}
	if !x.acquire(e.ID) {
		return "", fmt.Errorf("%s: %w", e.ID, ErrBusy)
	}
	defer x.release(e.ID)

	moveCtx := ctx
	if x.opts.MoveTimeout > 0 {
		var cancel context.CancelFunc
		moveCtx, cancel = context.WithTimeout(ctx, x.opts.MoveTimeout)
		defer cancel()
	}

	loc, err := x.transfer(moveCtx, e)
	if err != nil {
		return "", &TransferError{ID: e.ID, From: e.From, To: e.To, Err: err}
	}

	// The bytes are committed; the catalog write must not inherit the move deadline.
	ok, err := x.catalog.UpdateLocation(context.WithoutCancel(ctx), e.ID, loc, e.To)
	if err == nil && !ok {
		err = ErrNoRow
	}
	if err != nil {
		return loc, &SyncError{ID: e.ID, To: e.To, Location: loc, Err: err}
	}
	return loc, nil
}

func (x *Executor) transfer(ctx context.Context, e rules.Entry) (string, error) {
	name := BaseName(e.Location)
	if e.From == tier.Cold {
		if x.backends.Cold == nil {
			return "", errors.New("no cold backend")
		}
		dst := x.backends.local(e.To)
		if dst == nil {
			return "", fmt.Errorf("no local backend for %v", e.To)
		}
		return x.backends.Cold.Take(ctx, e.Location, dst, name)
	}
	dst := x.backends.For(e.To)
	if dst == nil {
		return "", fmt.Errorf("no backend for %v", e.To)
	}
	return dst.Put(ctx, e.Location, name)
}

// run executes e and classifies the outcome.
func (x *Executor) run(ctx context.Context, e rules.Entry) Result {
	size, _ := x.sizeOf(ctx, e)
	start := time.Now()
	loc, err := x.Execute(ctx, e)
	r := Result{Entry: e, NewLocation: loc, Err: err, Duration: time.Since(start)}
	if err != nil {
		r.Message = err.Error()
	}

	var syncErr *SyncError
	switch {
	case err == nil:
		r.Outcome = Succeeded
		x.logger.Info("moved",
			zap.String("id", e.ID),
			zap.Stringer("from", e.From),
			zap.Stringer("to", e.To),
			zap.String("location", loc),
			zap.Duration("took", r.Duration),
		)
	case errors.As(err, &syncErr):
		r.Outcome = SyncDiverged
		x.logger.Error("catalog out of sync after move",
			zap.String("id", e.ID),
			zap.String("location", syncErr.Location),
			zap.Stringer("tier", syncErr.To),
			zap.Error(syncErr.Err),
		)
	case errors.Is(err, ErrBusy):
		r.Outcome = Skipped
		x.logger.Warn("move skipped", zap.String("id", e.ID), zap.Error(err))
	default:
		r.Outcome = Failed
		x.logger.Warn("move failed", zap.String("id", e.ID), zap.Error(err))
	}
	x.metrics.ObserveMove(r, size)
	return r
}

func (x *Executor) sizeOf(ctx context.Context, e rules.Entry) (int64, error) {
	b := x.backends.For(e.From)
	if b == nil {
		return 0, fmt.Errorf("no backend for %v", e.From)
	}
	return b.Size(ctx, e.Location)
}

// ExecuteAll runs every entry of plan on a bounded worker pool and returns
// one Result per entry, in plan order. A failing entry never stops the rest.
func (x *Executor) ExecuteAll(ctx context.Context, plan []rules.Entry) ([]Result, error) {
	results := make([]Result, len(plan))
	if len(plan) == 0 {
		return results, nil
	}

	pool, err := ants.NewPool(x.opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i, e := range plan {
		i, e := i, e
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					x.logger.Error("move panicked", zap.String("id", e.ID), zap.Any("panic", p))
					results[i] = failedResult(e, fmt.Errorf("panic: %v", p))
					x.metrics.ObserveMove(results[i], 0)
				}
			}()
			results[i] = x.run(ctx, e)
		})
		if err != nil {
			wg.Done()
			results[i] = failedResult(e, err)
		}
	}
	wg.Wait()
	return results, nil
}

func failedResult(e rules.Entry, err error) Result {
	terr := &TransferError{ID: e.ID, From: e.From, To: e.To, Err: err}
	return Result{Entry: e, Outcome: Failed, Err: terr, Message: terr.Error()}
}
