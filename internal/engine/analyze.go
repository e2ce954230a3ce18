package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lazypower/tierctl/internal/scorer"
	"github.com/lazypower/tierctl/internal/store"
	"github.com/lazypower/tierctl/internal/tier"
)

// AnalyzeResult describes one pass of the scorer over a statistics feed.
type AnalyzeResult struct {
	Scored  []scorer.ScoredRow `json:"scored"`
	Updated int                `json:"updated"`
	Unknown []string           `json:"unknown,omitempty"`
}

// Analyze scores rows and writes the new stats to the catalog. Frequency is
// normalized over the whole feed. Objects absent from the feed keep their
// stats; ids the catalog does not track are reported, never created.
func (c *Controller) Analyze(ctx context.Context, rows []scorer.StatRow, alpha float64) (*AnalyzeResult, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("alpha %g outside (0,1]", alpha)
	}
	records, err := c.DB.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	tracked := make(map[string]store.TrackedObject, len(records))
	prev := make(map[string]float64, len(records))
	for _, r := range records {
		tracked[r.ID] = r
		if r.Scored() {
			prev[r.ID] = r.PatternScore
		}
	}

	res := &AnalyzeResult{}
	for _, sr := range scorer.ScoreBatch(rows, prev, c.now(), alpha) {
		if _, ok := tracked[sr.ID]; !ok {
			res.Unknown = append(res.Unknown, sr.ID)
			continue
		}
		ok, err := c.DB.UpdateStats(ctx, sr.ID, sr.LastAccess, sr.AccessCount, sr.Score)
		if err != nil {
			c.logger.Warn("update stats failed", zap.String("id", sr.ID), zap.Error(err))
			continue
		}
		if !ok {
			res.Unknown = append(res.Unknown, sr.ID)
			continue
		}
		res.Scored = append(res.Scored, sr)
		res.Updated++
	}
	if len(res.Unknown) > 0 {
		c.logger.Warn("feed rows for untracked objects ignored", zap.Strings("ids", res.Unknown))
	}
	c.logger.Info("analysis complete", zap.Int("feed_rows", len(rows)), zap.Int("updated", res.Updated))
	return res, nil
}

// Register starts tracking the existing file at path in the Hot tier.
// It returns store.ErrDuplicate when id is already tracked.
func (c *Controller) Register(ctx context.Context, id, path string) (store.TrackedObject, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return store.TrackedObject{}, fmt.Errorf("register %s: %w", id, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return store.TrackedObject{}, fmt.Errorf("register %s: %w", id, err)
	}
	if !fi.Mode().IsRegular() {
		return store.TrackedObject{}, fmt.Errorf("register %s: %s is not a regular file", id, abs)
	}
	if c.Backends.Hot != nil {
		if rel, err := filepath.Rel(c.Backends.Hot.Root, abs); err != nil || rel != filepath.Base(abs) {
			c.logger.Warn("registered file is outside the hot tier root",
				zap.String("id", id), zap.String("path", abs), zap.String("hot_root", c.Backends.Hot.Root))
		}
	}

	created, err := c.DB.CreateIfAbsent(ctx, id, abs, tier.Hot)
	if err != nil {
		return store.TrackedObject{}, err
	}
	if !created {
		return store.TrackedObject{}, fmt.Errorf("register %s: %w", id, store.ErrDuplicate)
	}
	c.logger.Info("registered", zap.String("id", id), zap.String("location", abs))
	return c.DB.Get(ctx, id)
}
