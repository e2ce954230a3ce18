package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/lazypower/tierctl/internal/client"
	"github.com/lazypower/tierctl/internal/config"
	"github.com/lazypower/tierctl/internal/engine"
)

var (
	runDryRun     bool
	runShowScores bool
	runArchival   string
	runJSON       bool
	runRemote     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one tiering cycle",
	Long: "Plan moves from the catalog and execute them. Exits 1 when any move fails outright; " +
		"catalog divergence after a successful byte move is reported but does not fail the run.",
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Print the plan without moving anything")
	runCmd.Flags().BoolVar(&runShowScores, "show-scores", false, "Print every object's current pattern score")
	runCmd.Flags().StringVar(&runArchival, "archival-simulation", "", "Override use_archival_simulation (true|false)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the report as JSON")
	runCmd.Flags().StringVar(&runRemote, "remote", "", "Run the cycle on a tierctl server at this URL (falls back to TIERCTL_URL)")
}

func runRun(cmd *cobra.Command, args []string) error {
	var adjust func(*config.Config)
	if runArchival != "" {
		sim, err := strconv.ParseBool(runArchival)
		if err != nil {
			return fmt.Errorf("--archival-simulation: %w", err)
		}
		adjust = func(c *config.Config) { c.UseArchivalSimulation = sim }
	}

	ctx := cmd.Context()
	opts := engine.RunOptions{DryRun: runDryRun, ShowScores: runShowScores}

	if cmd.Flags().Changed("remote") {
		if adjust != nil {
			return fmt.Errorf("--archival-simulation cannot be combined with --remote")
		}
		c := client.New(runRemote)
		if !c.Healthy(ctx) {
			return fmt.Errorf("no tierctl server reachable at %s", c.URL())
		}
		rep, err := c.Run(ctx, opts)
		if err != nil {
			return err
		}
		return emitReport(cmd, rep)
	}

	// A dry run never touches the archive, so it does not need to reach it.
	e, err := setup(ctx, !runDryRun, adjust)
	if err != nil {
		return err
	}
	defer e.Close()

	rep, err := e.ctrl.RunCycle(ctx, opts)
	if err != nil {
		return err
	}
	return emitReport(cmd, rep)
}

func emitReport(cmd *cobra.Command, rep *engine.Report) error {
	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		printReport(out, rep)
	}

	if code := rep.ExitCode(); code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}
