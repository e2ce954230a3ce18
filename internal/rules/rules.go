// Package rules decides which tracked objects should change tier.
package rules

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lazypower/tierctl/internal/config"
	"github.com/lazypower/tierctl/internal/store"
	"github.com/lazypower/tierctl/internal/tier"
)

// Entry is one planned move.
type Entry struct {
	ID       string    `json:"id"`
	From     tier.Tier `json:"from"`
	To       tier.Tier `json:"to"`
	Location string    `json:"location"`
	Reason   string    `json:"reason"`
}

// Legal reports whether the entry names an allowed transition.
func (e Entry) Legal() bool {
	return tier.CanMove(e.From, e.To)
}

// sinceLast returns how long ago obj was last accessed. An object that has
// never been accessed is infinitely stale.
func sinceLast(obj store.TrackedObject, now time.Time) time.Duration {
	if obj.LastAccess == nil {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(*obj.LastAccess)
}

func ageText(obj store.TrackedObject, now time.Time) string {
	if obj.LastAccess == nil {
		return "never accessed"
	}
	return fmt.Sprintf("last access %.1f days ago", now.Sub(*obj.LastAccess).Hours()/24)
}

// Evaluate applies the rules to a single object. Rules are checked in a
// fixed order and the first match wins.
func Evaluate(obj store.TrackedObject, now time.Time, th config.Thresholds) (Entry, bool) {
	age := sinceLast(obj, now)
	entry := Entry{ID: obj.ID, From: obj.Tier, Location: obj.Location}

	switch obj.Tier {
	case tier.Hot:
		if age > config.Days(th.DemoteHotToWarmDays) && obj.PatternScore < th.PatternProtectThreshold {
			entry.To = tier.Warm
			entry.Reason = fmt.Sprintf("%s (> %g days) and pattern score %.2f below %.2f",
				ageText(obj, now), th.DemoteHotToWarmDays, obj.PatternScore, th.PatternProtectThreshold)
			return entry, true
		}
	case tier.Warm:
		if age > config.Days(th.DemoteWarmToColdDays) && obj.PatternScore < th.WarmToColdPatternBlock {
			entry.To = tier.Cold
			entry.Reason = fmt.Sprintf("%s (> %g days) and pattern score %.2f below %.2f",
				ageText(obj, now), th.DemoteWarmToColdDays, obj.PatternScore, th.WarmToColdPatternBlock)
			return entry, true
		}
		if obj.AccessCount > th.PromoteWarmToHotCount {
			entry.To = tier.Hot
			entry.Reason = fmt.Sprintf("access count %d above %d", obj.AccessCount, th.PromoteWarmToHotCount)
			return entry, true
		}
		if obj.PatternScore > th.PromotePatternThreshold {
			entry.To = tier.Hot
			entry.Reason = fmt.Sprintf("pattern score %.2f above %.2f", obj.PatternScore, th.PromotePatternThreshold)
			return entry, true
		}
	case tier.Cold:
		if obj.LastAccess != nil && age < config.Days(th.PromoteColdToWarmDays) {
			entry.To = tier.Warm
			entry.Reason = fmt.Sprintf("%s (< %g days), retrieving from archive",
				ageText(obj, now), th.PromoteColdToWarmDays)
			return entry, true
		}
	}
	return Entry{}, false
}

// Plan evaluates every record against th and returns the planned moves in
// record order. It has no side effects.
func Plan(records []store.TrackedObject, now time.Time, th config.Thresholds) []Entry {
	var plan []Entry
	for _, obj := range records {
		if e, ok := Evaluate(obj, now, th); ok {
			plan = append(plan, e)
		}
	}
	return plan
}

// PlanConcurrent is Plan spread over up to workers goroutines. The result is
// identical to Plan for the same inputs.
func PlanConcurrent(ctx context.Context, records []store.TrackedObject, now time.Time, th config.Thresholds, workers int) ([]Entry, error) {
	if workers < 1 {
		workers = 1
	}
	slots := make([]*Entry, len(records))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range records {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if e, ok := Evaluate(records[i], now, th); ok {
				slots[i] = &e
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	var plan []Entry
	for _, e := range slots {
		if e != nil {
			plan = append(plan, *e)
		}
	}
	return plan, nil
}
