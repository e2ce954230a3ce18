package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lazypower/tierctl/internal/scorer"
)

var analyzeAlpha float64

var analyzeCmd = &cobra.Command{
	Use:   "analyze <feed.csv|->",
	Short: "Score access statistics and update the catalog",
	Long: "Read an aggregated statistics feed (id,access_count,last_access_time) and fold it into each " +
		"tracked object's EWMA pattern score. Objects missing from the feed keep their previous stats.",
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().Float64Var(&analyzeAlpha, "alpha", 0, "EWMA weight of the newest sample, in (0,1] (default scorer.alpha)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	alphaSet := cmd.Flags().Changed("alpha")
	if alphaSet && !(analyzeAlpha > 0 && analyzeAlpha <= 1) {
		return fmt.Errorf("--alpha %g outside (0,1]", analyzeAlpha)
	}

	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open feed: %w", err)
		}
		defer f.Close()
		in = f
	}

	e, err := setup(cmd.Context(), false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	rows, skipped, err := scorer.ReadFeed(in)
	if err != nil {
		return err
	}
	for _, s := range skipped {
		e.logger.Warn("skipping feed line", zap.Int("line", s.Line), zap.String("reason", s.Reason))
	}

	alpha := e.cfg.Scorer.Alpha
	if alphaSet {
		alpha = analyzeAlpha
	}
	res, err := e.ctrl.Analyze(cmd.Context(), rows, alpha)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, sr := range res.Scored {
		prev := "new"
		if sr.Previous != nil {
			prev = fmt.Sprintf("%.3f", *sr.Previous)
		}
		fmt.Fprintf(out, "  %s: count=%d sample=%.3f prev=%s score=%.3f\n", sr.ID, sr.AccessCount, sr.Sample, prev, sr.Score)
	}
	fmt.Fprintf(out, "Updated %d of %d feed rows (alpha %.2f)", res.Updated, len(rows), alpha)
	if len(res.Unknown) > 0 {
		fmt.Fprintf(out, ", %d untracked", len(res.Unknown))
	}
	if len(skipped) > 0 {
		fmt.Fprintf(out, ", %d malformed lines skipped", len(skipped))
	}
	fmt.Fprintln(out)
	return nil
}
