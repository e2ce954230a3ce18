package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/lazypower/tierctl/internal/tier"
)

var inspectAll bool

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Compare the catalog with what each tier actually holds",
	Long:  "Read-only check that every catalog record's location exists on its tier. Nothing is repaired.",
	Args:  cobra.NoArgs,
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectAll, "all", false, "List every record, not only problems")
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := setup(ctx, true, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	in, err := e.ctrl.Inspect(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	bytesByTier := map[tier.Tier]int64{}
	for _, f := range in.Findings {
		bytesByTier[f.Tier] += f.Size
	}
	fmt.Fprintln(out, "Catalog:")
	for _, t := range tier.All() {
		fmt.Fprintf(out, "  %-5s %5s objects  %s\n", t, humanize.Comma(int64(in.Counts[t])), humanize.Bytes(uint64(bytesByTier[t])))
	}
	if len(in.Skipped) > 0 {
		fmt.Fprintf(out, "  %d unreadable rows skipped\n", len(in.Skipped))
	}

	rows := in.Problems()
	if inspectAll {
		rows = in.Findings
	}
	if len(rows) > 0 {
		fmt.Fprintln(out)
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTIER\tSIZE\tLOCATION\tSTATUS")
		for _, f := range rows {
			status := "ok"
			if !f.OK() {
				status = f.Problem
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", f.ID, f.Tier, humanize.Bytes(uint64(f.Size)), f.Location, status)
		}
		tw.Flush()
	}

	problems := len(in.Problems())
	fmt.Fprintf(out, "\n%d records checked, %d problems\n", len(in.Findings), problems)
	return nil
}
