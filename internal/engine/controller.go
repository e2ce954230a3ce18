package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/tierctl/internal/config"
	"github.com/lazypower/tierctl/internal/mover"
	"github.com/lazypower/tierctl/internal/store"
)

// ErrCycleRunning is returned when a cycle is requested while one is active.
var ErrCycleRunning = errors.New("a tiering cycle is already running")

// Controller orchestrates scoring, planning and moves against one catalog.
type Controller struct {
	DB       *store.DB
	Backends mover.Backends

	cfg      config.Config
	executor *mover.Executor
	metrics  *mover.Metrics
	logger   *zap.Logger
	now      func() time.Time

	cycleMu  sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Controller. cfg is copied; later changes to the caller's
// value do not affect it.
func New(db *store.DB, cfg config.Config, backends mover.Backends, metrics *mover.Metrics, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		DB:       db,
		Backends: backends,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.Named("controller"),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	c.executor = mover.NewExecutor(backends, db, mover.Options{
		Workers:     cfg.Executor.Workers,
		MoveTimeout: cfg.Executor.MoveTimeout,
	}, metrics, logger)
	return c
}

// Config returns the controller's effective configuration.
func (c *Controller) Config() config.Config { return c.cfg }

// Metrics returns the metrics sink, which may be nil.
func (c *Controller) Metrics() *mover.Metrics { return c.metrics }

// StartSchedule runs a cycle now and then every interval until Stop.
func (c *Controller) StartSchedule(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	c.scheduledCycle()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.scheduledCycle()
			case <-c.stopCh:
				return
			}
		}
	}()
}

func (c *Controller) scheduledCycle() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	rep, err := c.RunCycle(ctx, RunOptions{})
	if errors.Is(err, ErrCycleRunning) {
		c.logger.Info("scheduled cycle skipped, another is running")
		return
	}
	if err != nil {
		c.logger.Error("scheduled cycle failed", zap.Error(err))
		return
	}
	if rep.Summary.Failed > 0 {
		c.logger.Warn("scheduled cycle had failed moves", zap.Int("failed", rep.Summary.Failed))
	}
}

// Stop ends the schedule and waits for its goroutine to exit.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

