package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lazypower/tierctl/internal/mover"
	"github.com/lazypower/tierctl/internal/rules"
	"github.com/lazypower/tierctl/internal/store"
	"github.com/lazypower/tierctl/internal/tier"
)

// RunOptions select what a cycle does.
type RunOptions struct {
	// DryRun plans without moving anything.
	DryRun bool
	// ShowScores includes every object's current score in the report.
	ShowScores bool
}

// ObjectScore is a tracked object's scoring state at the start of a cycle.
type ObjectScore struct {
	ID           string     `json:"id"`
	Tier         tier.Tier  `json:"tier"`
	PatternScore float64    `json:"pattern_score"`
	AccessCount  int        `json:"access_count"`
	LastAccess   *time.Time `json:"last_access,omitempty"`
}

// Summary counts what happened to a cycle's plan.
type Summary struct {
	Planned      int `json:"planned"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	SyncDiverged int `json:"sync_diverged"`
	Skipped      int `json:"skipped"`
}

// Report is everything a cycle produced. Printing it is the caller's job.
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DryRun     bool           `json:"dry_run"`
	Scores     []ObjectScore  `json:"scores,omitempty"`
	Plan       []rules.Entry  `json:"plan"`
	Results    []mover.Result `json:"results,omitempty"`
	Summary    Summary        `json:"summary"`
}

// ExitCode is 1 when at least one move failed outright, otherwise 0.
func (r *Report) ExitCode() int {
	if r.Summary.Failed > 0 {
		return 1
	}
	return 0
}

// RunCycle reads a snapshot of the catalog, plans against it and, unless
// DryRun is set, executes the plan. Only an unreadable catalog fails the
// cycle; per-object failures are counted in the report.
func (c *Controller) RunCycle(ctx context.Context, opts RunOptions) (*Report, error) {
	if !c.cycleMu.TryLock() {
		return nil, ErrCycleRunning
	}
	defer c.cycleMu.Unlock()

	rep := &Report{
		RunID:     uuid.NewString(),
		StartedAt: c.now(),
		DryRun:    opts.DryRun,
	}
	log := c.logger.With(zap.String("run_id", rep.RunID))

	records, err := c.DB.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if opts.ShowScores {
		rep.Scores = scoresOf(records)
	}

	plan, err := rules.PlanConcurrent(ctx, records, rep.StartedAt, c.cfg.Thresholds, c.cfg.Executor.Workers)
	if err != nil {
		return nil, err
	}
	rep.Plan = plan
	rep.Summary.Planned = len(plan)
	for _, e := range plan {
		log.Info("planned move",
			zap.String("id", e.ID),
			zap.Stringer("from", e.From),
			zap.Stringer("to", e.To),
			zap.String("reason", e.Reason),
		)
	}

	mode := "execute"
	if opts.DryRun {
		mode = "dry_run"
	} else {
		results, err := c.executor.ExecuteAll(ctx, plan)
		if err != nil {
			return nil, err
		}
		rep.Results = results
		for _, r := range results {
			switch r.Outcome {
			case mover.Succeeded:
				rep.Summary.Succeeded++
			case mover.Failed:
				rep.Summary.Failed++
			case mover.SyncDiverged:
				rep.Summary.SyncDiverged++
			case mover.Skipped:
				rep.Summary.Skipped++
			}
		}
	}
	rep.FinishedAt = c.now()
	c.metrics.ObserveCycle(mode, len(plan))

	log.Info("cycle complete",
		zap.String("mode", mode),
		zap.Int("objects", len(records)),
		zap.Int("planned", rep.Summary.Planned),
		zap.Int("succeeded", rep.Summary.Succeeded),
		zap.Int("failed", rep.Summary.Failed),
		zap.Int("sync_diverged", rep.Summary.SyncDiverged),
	)
	return rep, nil
}

func scoresOf(records []store.TrackedObject) []ObjectScore {
	out := make([]ObjectScore, 0, len(records))
	for _, r := range records {
		out = append(out, ObjectScore{
			ID:           r.ID,
			Tier:         r.Tier,
			PatternScore: r.PatternScore,
			AccessCount:  r.AccessCount,
			LastAccess:   r.LastAccess,
		})
	}
	return out
}
