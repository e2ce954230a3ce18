package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lazypower/tierctl/internal/engine"
	"github.com/lazypower/tierctl/internal/mover"
)

func lastSeen(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.Time(*t)
}

func printReport(w io.Writer, rep *engine.Report) {
	if len(rep.Scores) > 0 {
		fmt.Fprintln(w, "Current scores:")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  ID\tTIER\tSCORE\tACCESSES\tLAST ACCESS")
		for _, s := range rep.Scores {
			fmt.Fprintf(tw, "  %s\t%s\t%.3f\t%d\t%s\n", s.ID, s.Tier, s.PatternScore, s.AccessCount, lastSeen(s.LastAccess))
		}
		tw.Flush()
		fmt.Fprintln(w)
	}

	if len(rep.Plan) == 0 {
		fmt.Fprintln(w, "No moves planned.")
	} else if rep.DryRun {
		fmt.Fprintf(w, "Plan (%d moves, dry run):\n", len(rep.Plan))
		for _, e := range rep.Plan {
			fmt.Fprintf(w, "  %s: %s -> %s (%s)\n", e.ID, e.From, e.To, e.Reason)
		}
	} else {
		fmt.Fprintf(w, "Moves (%d):\n", len(rep.Results))
		for _, r := range rep.Results {
			switch r.Outcome {
			case mover.Succeeded:
				fmt.Fprintf(w, "  ok    %s: %s -> %s at %s (%s)\n", r.Entry.ID, r.Entry.From, r.Entry.To, r.NewLocation, r.Duration.Round(time.Millisecond))
			case mover.SyncDiverged:
				fmt.Fprintf(w, "  SYNC  %s: bytes at %s, catalog not updated: %s\n", r.Entry.ID, r.NewLocation, r.Message)
			case mover.Skipped:
				fmt.Fprintf(w, "  skip  %s: %s\n", r.Entry.ID, r.Message)
			default:
				fmt.Fprintf(w, "  FAIL  %s: %s\n", r.Entry.ID, r.Message)
			}
		}
	}

	s := rep.Summary
	fmt.Fprintf(w, "\nRun %s: planned=%d succeeded=%d failed=%d sync-diverged=%d",
		rep.RunID, s.Planned, s.Succeeded, s.Failed, s.SyncDiverged)
	if s.Skipped > 0 {
		fmt.Fprintf(w, " skipped=%d", s.Skipped)
	}
	fmt.Fprintln(w)
}
