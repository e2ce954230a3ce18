package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	flagConfig   string
	flagDB       string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "tierctl",
	Short: "Automated storage tiering for Hot, Warm and Cold tiers",
	Long: "tierctl scores object access patterns and moves objects between a fast local tier, " +
		"a slower local tier and an archival tier, keeping a SQLite catalog of where everything lives.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError carries a process exit code out of a command that already
// reported its own outcome.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }

// Execute runs the root command and prints any error that the command did
// not already report.
func Execute() error {
	err := rootCmd.Execute()
	var ee *ExitError
	if err != nil && !errors.As(err, &ee) {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return err
}

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config.json", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Catalog database path (default ~/.tierctl/tiering.db)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level override: debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
}
