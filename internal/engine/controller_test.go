package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/tierctl/internal/config"
	"github.com/lazypower/tierctl/internal/mover"
	"github.com/lazypower/tierctl/internal/scorer"
	"github.com/lazypower/tierctl/internal/store"
	"github.com/lazypower/tierctl/internal/tier"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testController(t *testing.T) *Controller {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Hot = filepath.Join(root, "ssd")
	cfg.Paths.Warm = filepath.Join(root, "hdd")
	cfg.ArchivalSimulationPath = filepath.Join(root, "cloud")
	cfg.UseArchivalSimulation = true

	backends, err := mover.NewBackends(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewBackends: %v", err)
	}
	c := New(testDB(t), cfg, backends, mover.NewMetrics(), nil)
	c.now = func() time.Time { return testNow }
	return c
}

// seed places a file for id on tier tr and records its stats.
func seed(t *testing.T, c *Controller, id string, tr tier.Tier, ageDays float64, count int, score float64) string {
	t.Helper()
	loc := c.Backends.For(tr).Locate(id)
	if err := os.WriteFile(loc, []byte("data-"+id), 0644); err != nil {
		t.Fatalf("write %s: %v", id, err)
	}
	ctx := context.Background()
	if _, err := c.DB.CreateIfAbsent(ctx, id, loc, tr); err != nil {
		t.Fatalf("CreateIfAbsent(%s): %v", id, err)
	}
	last := testNow.Add(-config.Days(ageDays))
	if _, err := c.DB.UpdateStats(ctx, id, last, count, score); err != nil {
		t.Fatalf("UpdateStats(%s): %v", id, err)
	}
	return loc
}

func seedScenarios(t *testing.T, c *Controller) {
	seed(t, c, "fileA", tier.Hot, 30, 0, 0.0)
	seed(t, c, "fileB", tier.Hot, 1, 0, 0.9)
	seed(t, c, "fileC", tier.Warm, 2, 5, 0.8)
	seed(t, c, "fileD", tier.Cold, 0.5, 0, 0.0)
}

func TestRunCycleDryRun(t *testing.T) {
	c := testController(t)
	seedScenarios(t, c)

	rep, err := c.RunCycle(context.Background(), RunOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 3, rep.Summary.Planned)
	assert.Empty(t, rep.Results)
	assert.Equal(t, 0, rep.ExitCode())

	// Nothing moved.
	obj, err := c.DB.Get(context.Background(), "fileA")
	require.NoError(t, err)
	assert.Equal(t, tier.Hot, obj.Tier)
	assert.FileExists(t, obj.Location)
}

func TestRunCycleExecutes(t *testing.T) {
	c := testController(t)
	seedScenarios(t, c)
	ctx := context.Background()

	rep, err := c.RunCycle(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Planned: 3, Succeeded: 3}, rep.Summary)
	assert.Equal(t, 0, rep.ExitCode())
	require.Len(t, rep.Results, 3)

	want := map[string]tier.Tier{"fileA": tier.Warm, "fileB": tier.Hot, "fileC": tier.Hot, "fileD": tier.Warm}
	for id, tr := range want {
		obj, err := c.DB.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, tr, obj.Tier, id)
		assert.Equal(t, c.Backends.For(tr).Locate(id), obj.Location, id)
		assert.FileExists(t, obj.Location)
	}
	assert.NoFileExists(t, c.Backends.Hot.Locate("fileA"))
	assert.NoFileExists(t, c.Backends.Cold.Locate("fileD"))

	// The next cycle over the new state has nothing to do for the moved objects.
	rep, err = c.RunCycle(ctx, RunOptions{DryRun: true})
	require.NoError(t, err)
	for _, e := range rep.Plan {
		assert.NotEqual(t, "fileB", e.ID)
	}
}

func TestRunCycleFailureSetsExitCode(t *testing.T) {
	c := testController(t)
	loc := seed(t, c, "lost", tier.Hot, 40, 0, 0.1)
	seed(t, c, "fine", tier.Hot, 40, 0, 0.1)
	require.NoError(t, os.Remove(loc))

	rep, err := c.RunCycle(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Summary.Planned)
	assert.Equal(t, 1, rep.Summary.Succeeded)
	assert.Equal(t, 1, rep.Summary.Failed)
	assert.Equal(t, 1, rep.ExitCode())

	obj, err := c.DB.Get(context.Background(), "lost")
	require.NoError(t, err)
	assert.Equal(t, tier.Hot, obj.Tier)
	assert.Equal(t, loc, obj.Location)
}

func TestRunCycleShowScores(t *testing.T) {
	c := testController(t)
	seedScenarios(t, c)

	rep, err := c.RunCycle(context.Background(), RunOptions{DryRun: true, ShowScores: true})
	require.NoError(t, err)
	require.Len(t, rep.Scores, 4)
	assert.Equal(t, "fileA", rep.Scores[0].ID)
	assert.Equal(t, 0.9, rep.Scores[1].PatternScore)
}

func TestRunCycleAlreadyRunning(t *testing.T) {
	c := testController(t)
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	_, err := c.RunCycle(context.Background(), RunOptions{DryRun: true})
	assert.ErrorIs(t, err, ErrCycleRunning)
}

func TestRunCycleCatalogUnavailable(t *testing.T) {
	c := testController(t)
	c.DB.Close()

	rep, err := c.RunCycle(context.Background(), RunOptions{})
	assert.Nil(t, rep)
	assert.ErrorIs(t, err, store.ErrCatalogUnavailable)
}

func TestAnalyze(t *testing.T) {
	c := testController(t)
	ctx := context.Background()
	seed(t, c, "busy", tier.Warm, 3, 0, 0.2)
	seed(t, c, "quiet", tier.Warm, 3, 4, 0.5)
	_, err := c.DB.CreateIfAbsent(ctx, "fresh", "/somewhere/fresh", tier.Hot)
	require.NoError(t, err)

	rows := []scorer.StatRow{
		{ID: "busy", AccessCount: 20, LastAccess: testNow},
		{ID: "fresh", AccessCount: 10, LastAccess: testNow},
		{ID: "stranger", AccessCount: 1, LastAccess: testNow},
	}
	res, err := c.Analyze(ctx, rows, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, []string{"stranger"}, res.Unknown)

	busy, _ := c.DB.Get(ctx, "busy")
	assert.InDelta(t, 0.3*1.0+0.7*0.2, busy.PatternScore, 1e-9)
	assert.Equal(t, 20, busy.AccessCount)
	assert.True(t, busy.LastAccess.Equal(testNow))

	// Never scored: cold start takes the sample as is.
	fresh, _ := c.DB.Get(ctx, "fresh")
	assert.InDelta(t, 0.4+0.6*0.5, fresh.PatternScore, 1e-9)

	// Absent from the feed: unchanged.
	quiet, _ := c.DB.Get(ctx, "quiet")
	assert.Equal(t, 0.5, quiet.PatternScore)
	assert.Equal(t, 4, quiet.AccessCount)

	_, err = c.Analyze(ctx, rows, 0)
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	c := testController(t)
	ctx := context.Background()
	path := c.Backends.Hot.Locate("newfile")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	obj, err := c.Register(ctx, "newfile", path)
	require.NoError(t, err)
	assert.Equal(t, tier.Hot, obj.Tier)
	assert.Equal(t, path, obj.Location)
	assert.False(t, obj.Scored())

	_, err = c.Register(ctx, "newfile", path)
	assert.ErrorIs(t, err, store.ErrDuplicate)

	_, err = c.Register(ctx, "ghost", filepath.Join(t.TempDir(), "ghost"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = c.Register(ctx, "dir", t.TempDir())
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	c := testController(t)
	ctx := context.Background()
	seed(t, c, "ok", tier.Hot, 1, 1, 0.5)
	loc := seed(t, c, "strayed", tier.Hot, 1, 1, 0.5)
	require.NoError(t, os.Rename(loc, c.Backends.Warm.Locate("strayed")))
	missing := seed(t, c, "missing", tier.Warm, 1, 1, 0.5)
	require.NoError(t, os.Remove(missing))

	before, err := c.DB.GetAll(ctx)
	require.NoError(t, err)

	in, err := c.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, in.Counts[tier.Hot])
	assert.Equal(t, 1, in.Counts[tier.Warm])

	problems := in.Problems()
	require.Len(t, problems, 2)
	assert.Equal(t, "missing", problems[0].ID)
	assert.Empty(t, problems[0].FoundIn)
	assert.Equal(t, "strayed", problems[1].ID)
	assert.Equal(t, []tier.Tier{tier.Warm}, problems[1].FoundIn)

	after, err := c.DB.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after, "inspect must not write")
}

func TestScheduleRunsAndStops(t *testing.T) {
	c := testController(t)
	seed(t, c, "old", tier.Hot, 30, 0, 0)

	c.StartSchedule(time.Hour)
	c.Stop()
	c.Stop()

	obj, err := c.DB.Get(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, tier.Warm, obj.Tier)
}

func TestRunCycleArchiveUnreachable(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.Hot = filepath.Join(root, "ssd")
	cfg.Paths.Warm = filepath.Join(root, "hdd")
	cfg.UseArchivalSimulation = false
	cfg.Archive = config.ArchiveConfig{Bucket: "cold"}

	backends, err := mover.NewBackends(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewBackends with no archive should degrade, got %v", err)
	}
	c := New(testDB(t), cfg, backends, mover.NewMetrics(), nil)
	c.now = func() time.Time { return testNow }

	seed(t, c, "fileA", tier.Hot, 30, 0, 0.0)
	seed(t, c, "stale", tier.Warm, 90, 0, 0.0)

	ctx := context.Background()
	rep, err := c.RunCycle(ctx, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Planned: 2, Succeeded: 1, Failed: 1}, rep.Summary)
	assert.Equal(t, 1, rep.ExitCode())

	for _, r := range rep.Results {
		switch r.Entry.ID {
		case "fileA":
			assert.Equal(t, mover.Succeeded, r.Outcome)
		case "stale":
			assert.Equal(t, mover.Failed, r.Outcome)
			assert.ErrorIs(t, r.Err, mover.ErrArchiveUnreachable)
		}
	}

	obj, err := c.DB.Get(ctx, "fileA")
	require.NoError(t, err)
	assert.Equal(t, tier.Warm, obj.Tier)
	obj, err = c.DB.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, tier.Warm, obj.Tier)
	assert.FileExists(t, obj.Location)
}
