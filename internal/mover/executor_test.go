package mover

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/tierctl/internal/rules"
	"github.com/lazypower/tierctl/internal/store"
	"github.com/lazypower/tierctl/internal/tier"
)

type harness struct {
	db       *store.DB
	backends Backends
	objs     *memObjects
}

func newHarness(t *testing.T, archive bool) *harness {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{db: db}
	h.backends.Hot = newTestDisk(t)
	h.backends.Warm = newTestDisk(t)
	if archive {
		h.objs = newMemObjects()
		h.backends.Cold = NewArchive(h.objs, "cold", nil, nil)
	} else {
		h.backends.Cold = newTestDisk(t)
	}
	return h
}

// track writes a file into the tier's local backend and registers it.
func (h *harness) track(t *testing.T, id string, tr tier.Tier) rules.Entry {
	t.Helper()
	var loc string
	if d := h.backends.local(tr); d != nil {
		loc = d.Path(id)
		writeFile(t, loc, "payload-"+id)
	} else if a, ok := h.backends.Cold.(*Archive); ok {
		h.objs.objects["cold/"+id] = []byte("payload-" + id)
		loc = a.Location(id)
	} else {
		loc = h.backends.Cold.(*Disk).Path(id)
		writeFile(t, loc, "payload-"+id)
	}
	_, err := h.db.CreateIfAbsent(context.Background(), id, loc, tr)
	require.NoError(t, err)
	return rules.Entry{ID: id, From: tr, Location: loc}
}

func (h *harness) executor(opts Options, m *Metrics) *Executor {
	return NewExecutor(h.backends, h.db, opts, m, nil)
}

func TestExecuteHotToWarm(t *testing.T) {
	h := newHarness(t, false)
	e := h.track(t, "fileA", tier.Hot)
	e.To = tier.Warm

	loc, err := h.executor(Options{Workers: 1}, nil).Execute(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, h.backends.Warm.Path("fileA"), loc)
	assert.FileExists(t, loc)
	assert.NoFileExists(t, e.Location)

	obj, err := h.db.Get(context.Background(), "fileA")
	require.NoError(t, err)
	assert.Equal(t, tier.Warm, obj.Tier)
	assert.Equal(t, loc, obj.Location)
}

func TestExecuteTransferFailureLeavesCatalog(t *testing.T) {
	h := newHarness(t, false)
	e := h.track(t, "gone", tier.Hot)
	e.To = tier.Warm
	require.NoError(t, os.Remove(e.Location))

	before, err := h.db.Get(context.Background(), "gone")
	require.NoError(t, err)

	_, err = h.executor(Options{Workers: 1}, nil).Execute(context.Background(), e)
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "gone", te.ID)

	after, err := h.db.Get(context.Background(), "gone")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExecuteSyncErrorWhenNoRow(t *testing.T) {
	h := newHarness(t, false)
	src := h.backends.Hot.Path("orphan")
	writeFile(t, src, "x")
	e := rules.Entry{ID: "orphan", From: tier.Hot, To: tier.Warm, Location: src}

	loc, err := h.executor(Options{Workers: 1}, nil).Execute(context.Background(), e)
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, ErrNoRow)
	assert.Equal(t, h.backends.Warm.Path("orphan"), loc)
	assert.Equal(t, loc, se.Location)
	assert.FileExists(t, loc)
}

type failingCatalog struct{}

func (failingCatalog) UpdateLocation(context.Context, string, string, tier.Tier) (bool, error) {
	return false, errInjected
}

func TestExecuteSyncErrorOnCatalogFailure(t *testing.T) {
	h := newHarness(t, false)
	e := h.track(t, "f", tier.Warm)
	e.To = tier.Hot

	x := NewExecutor(h.backends, failingCatalog{}, Options{Workers: 1}, nil, nil)
	_, err := x.Execute(context.Background(), e)
	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, errInjected)
	assert.FileExists(t, h.backends.Hot.Path("f"))
}

func TestExecuteIllegalTransition(t *testing.T) {
	h := newHarness(t, false)
	e := h.track(t, "f", tier.Hot)
	e.To = tier.Cold

	_, err := h.executor(Options{Workers: 1}, nil).Execute(context.Background(), e)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.FileExists(t, e.Location)
}

func TestExecuteBusy(t *testing.T) {
	h := newHarness(t, false)
	e := h.track(t, "f", tier.Hot)
	e.To = tier.Warm

	x := h.executor(Options{Workers: 1}, nil)
	require.True(t, x.acquire("f"))
	_, err := x.Execute(context.Background(), e)
	assert.ErrorIs(t, err, ErrBusy)
	assert.FileExists(t, e.Location)

	x.release("f")
	_, err = x.Execute(context.Background(), e)
	assert.NoError(t, err)
}

func TestExecuteArchiveRoundTrip(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	x := h.executor(Options{Workers: 1}, nil)

	e := h.track(t, "fileW", tier.Warm)
	e.To = tier.Cold
	loc, err := x.Execute(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, "s3://cold/fileW", loc)
	assert.NoFileExists(t, e.Location)

	back := rules.Entry{ID: "fileW", From: tier.Cold, To: tier.Warm, Location: loc}
	loc, err = x.Execute(ctx, back)
	require.NoError(t, err)
	assert.Equal(t, h.backends.Warm.Path("fileW"), loc)
	assert.False(t, h.objs.has("cold", "fileW"))

	obj, _ := h.db.Get(ctx, "fileW")
	assert.Equal(t, tier.Warm, obj.Tier)
}

func TestExecuteTimeoutBeforeCommit(t *testing.T) {
	h := newHarness(t, true)
	h.objs.objects["cold/big"] = []byte(strings.Repeat("b", 2*chunkSize))
	_, err := h.db.CreateIfAbsent(context.Background(), "big", "s3://cold/big", tier.Cold)
	require.NoError(t, err)
	h.backends.Warm.limiter = NewLimiter(1024)

	x := h.executor(Options{Workers: 1, MoveTimeout: 50 * time.Millisecond}, nil)
	_, err = x.Execute(context.Background(), rules.Entry{ID: "big", From: tier.Cold, To: tier.Warm, Location: "s3://cold/big"})

	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.True(t, h.objs.has("cold", "big"))
	assert.NoFileExists(t, h.backends.Warm.Path("big"))
	entries, _ := os.ReadDir(h.backends.Warm.Root)
	assert.Empty(t, entries)

	obj, _ := h.db.Get(context.Background(), "big")
	assert.Equal(t, tier.Cold, obj.Tier)
}

func TestExecuteAll(t *testing.T) {
	h := newHarness(t, false)
	m := NewMetrics()

	a := h.track(t, "a", tier.Hot)
	a.To = tier.Warm
	b := h.track(t, "b", tier.Warm)
	b.To = tier.Cold
	c := h.track(t, "c", tier.Hot)
	c.To = tier.Warm
	require.NoError(t, os.Remove(c.Location))
	d := h.track(t, "d", tier.Cold)
	d.To = tier.Warm

	plan := []rules.Entry{a, b, c, d}
	results, err := h.executor(Options{Workers: 3}, m).ExecuteAll(context.Background(), plan)
	require.NoError(t, err)
	require.Len(t, results, 4)

	for i, r := range results {
		assert.Equal(t, plan[i].ID, r.Entry.ID, "results must follow plan order")
	}
	assert.Equal(t, Succeeded, results[0].Outcome)
	assert.Equal(t, Succeeded, results[1].Outcome)
	assert.Equal(t, Failed, results[2].Outcome)
	assert.NotEmpty(t, results[2].Message)
	assert.Equal(t, Succeeded, results[3].Outcome)
	assert.Equal(t, h.backends.Cold.(*Disk).Path("b"), results[1].NewLocation)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.moves.WithLabelValues("Hot", "Warm", "succeeded"))+
		testutil.ToFloat64(m.moves.WithLabelValues("Hot", "Warm", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.moves.WithLabelValues("Hot", "Warm", "failed")))
}

func TestExecuteAllEmpty(t *testing.T) {
	h := newHarness(t, false)
	results, err := h.executor(Options{Workers: 2}, nil).ExecuteAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestExecuteAllDuplicateIDsNeverOverlap(t *testing.T) {
	h := newHarness(t, false)
	e := h.track(t, "dup", tier.Hot)
	e.To = tier.Warm

	results, err := h.executor(Options{Workers: 4}, nil).ExecuteAll(context.Background(), []rules.Entry{e, e})
	require.NoError(t, err)

	succeeded := 0
	for _, r := range results {
		if r.Outcome == Succeeded {
			succeeded++
		} else {
			assert.True(t, errors.Is(r.Err, ErrBusy) || r.Outcome == Failed, r.Outcome.String())
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "sync_diverged", SyncDiverged.String())
	assert.Equal(t, "Outcome(9)", Outcome(9).String())
}

// panicky is a cold backend whose retrieval blows up.
type panicky struct{ *Disk }

func (p panicky) Take(context.Context, string, *Disk, string) (string, error) {
	panic("backend exploded")
}

func TestExecuteAllPanicIsFailure(t *testing.T) {
	h := newHarness(t, false)
	m := NewMetrics()
	e := h.track(t, "boom", tier.Cold)
	e.To = tier.Warm
	h.backends.Cold = panicky{h.backends.Cold.(*Disk)}

	x := h.executor(Options{Workers: 2}, m)
	results, err := x.ExecuteAll(context.Background(), []rules.Entry{e})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Equal(t, Failed, r.Outcome)
	assert.Equal(t, "boom", r.Entry.ID)
	assert.Equal(t, tier.Cold, r.Entry.From)
	var terr *TransferError
	require.ErrorAs(t, r.Err, &terr)
	assert.Contains(t, r.Message, "backend exploded")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.moves.WithLabelValues("Cold", "Warm", "failed")))

	// The in-flight slot was released by the panicking move.
	assert.True(t, x.acquire("boom"))

	obj, err := h.db.Get(context.Background(), "boom")
	require.NoError(t, err)
	assert.Equal(t, tier.Cold, obj.Tier)
}

func TestExecuteWithoutColdBackend(t *testing.T) {
	h := newHarness(t, false)
	e := h.track(t, "lost", tier.Cold)
	e.To = tier.Warm
	h.backends.Cold = nil

	results, err := h.executor(Options{Workers: 1}, nil).ExecuteAll(context.Background(), []rules.Entry{e})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, Failed, results[0].Outcome)
	assert.Equal(t, "lost", results[0].Entry.ID)
	assert.Contains(t, results[0].Message, "no cold backend")
}

func TestZeroOutcomeIsFailed(t *testing.T) {
	var r Result
	assert.Equal(t, Failed, r.Outcome)
}
