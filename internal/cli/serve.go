package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/tierctl/internal/config"
	"github.com/lazypower/tierctl/internal/server"
)

var (
	serveInterval   time.Duration
	serveNoSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and run tiering cycles on a schedule",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 0, "Cycle interval (default schedule.interval)")
	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-schedule", false, "Serve the API without periodic cycles")
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd.Context(), true, func(c *config.Config) {
		if serveInterval > 0 {
			c.Schedule.Interval = serveInterval
		}
	})
	if err != nil {
		return err
	}
	defer e.Close()

	srv := server.New(e.ctrl, VersionString(), e.logger)
	addr := e.cfg.ListenAddr()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("tierctl serving", zap.String("addr", addr), zap.String("db", e.db.Path))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if !serveNoSchedule {
		e.ctrl.StartSchedule(e.cfg.Schedule.Interval)
		defer e.ctrl.Stop()
	}

	select {
	case <-done:
		e.logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return httpServer.Shutdown(ctx)
}
