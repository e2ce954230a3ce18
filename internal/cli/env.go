package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lazypower/tierctl/internal/config"
	"github.com/lazypower/tierctl/internal/engine"
	"github.com/lazypower/tierctl/internal/logging"
	"github.com/lazypower/tierctl/internal/mover"
	"github.com/lazypower/tierctl/internal/store"
)

// env is what a command needs to talk to the catalog and the tiers.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	db     *store.DB
	ctrl   *engine.Controller
}

func (e *env) Close() {
	if e.db != nil {
		e.db.Close()
	}
	e.logger.Sync()
}

// loadConfig resolves configuration and builds the logger. Config problems
// are logged and otherwise ignored.
func loadConfig(adjust func(*config.Config)) (config.Config, *zap.Logger, error) {
	cfg, cfgErr := config.Load(flagConfig)
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagDB != "" {
		cfg.Database.Path = flagDB
	}
	if adjust != nil {
		adjust(&cfg)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return cfg, nil, fmt.Errorf("init logger: %w", err)
	}
	if cfgErr != nil {
		logger.Warn("configuration problem, using defaults where needed", zap.Error(cfgErr))
	}
	return cfg, logger, nil
}

// openDB is a helper that opens the catalog for CLI commands.
func openDB(cfg config.Config, logger *zap.Logger) (*store.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.Open(dbPath, logger)
}

// setup opens everything a command needs. With dial false a remote archive
// is not contacted.
func setup(ctx context.Context, dial bool, adjust func(*config.Config)) (*env, error) {
	cfg, logger, err := loadConfig(adjust)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, logger: logger}

	e.db, err = openDB(cfg, logger)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	var backends mover.Backends
	if dial {
		backends, err = mover.NewBackends(ctx, cfg, logger)
	} else {
		backends, err = mover.NewLocalBackends(cfg, logger)
	}
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("init tiers: %w", err)
	}

	e.ctrl = engine.New(e.db, cfg, backends, mover.NewMetrics(), logger)
	return e, nil
}
