package engine

import (
	"context"
	"fmt"

	"github.com/lazypower/tierctl/internal/mover"
	"github.com/lazypower/tierctl/internal/store"
	"github.com/lazypower/tierctl/internal/tier"
)

// Finding is the verification result for one catalog record.
type Finding struct {
	ID       string      `json:"id"`
	Tier     tier.Tier   `json:"tier"`
	Location string      `json:"location"`
	Present  bool        `json:"present"`
	Size     int64       `json:"size"`
	FoundIn  []tier.Tier `json:"found_in,omitempty"`
	Problem  string      `json:"problem,omitempty"`
}

// OK reports whether the record matches what is on its backend.
func (f Finding) OK() bool { return f.Present && f.Problem == "" }

// Inspection is a read-only comparison of the catalog with the backends.
type Inspection struct {
	Counts   map[tier.Tier]int       `json:"counts"`
	Findings []Finding               `json:"findings"`
	Skipped  []*store.SchemaRowError `json:"skipped,omitempty"`
}

// Problems returns the findings that are not OK.
func (in *Inspection) Problems() []Finding {
	var out []Finding
	for _, f := range in.Findings {
		if !f.OK() {
			out = append(out, f)
		}
	}
	return out
}

// Inspect checks every catalog record against its tier's backend. It never
// changes the catalog or any backend.
func (c *Controller) Inspect(ctx context.Context) (*Inspection, error) {
	records, skipped, err := c.DB.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	in := &Inspection{Counts: map[tier.Tier]int{}, Skipped: skipped}
	for _, r := range records {
		in.Counts[r.Tier]++
		in.Findings = append(in.Findings, c.inspectOne(ctx, r))
	}
	return in, nil
}

func (c *Controller) inspectOne(ctx context.Context, r store.TrackedObject) Finding {
	f := Finding{ID: r.ID, Tier: r.Tier, Location: r.Location}
	be := c.Backends.For(r.Tier)
	if be == nil {
		f.Problem = "no backend configured for tier"
		return f
	}
	size, err := be.Size(ctx, r.Location)
	if err == nil {
		f.Present = true
		f.Size = size
		if be.Locate(baseName(r.Location)) != r.Location {
			f.Problem = fmt.Sprintf("location is not under the %v backend (%v)", r.Tier, be)
		}
		return f
	}

	f.FoundIn = c.Backends.Probe(ctx, baseName(r.Location))
	if len(f.FoundIn) > 0 {
		f.Problem = fmt.Sprintf("missing at recorded location, found in %v", f.FoundIn)
	} else {
		f.Problem = "missing from every tier"
	}
	return f
}

func baseName(location string) string {
	return mover.BaseName(location)
}
