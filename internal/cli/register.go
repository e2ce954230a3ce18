package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/tierctl/internal/store"
)

var registerCmd = &cobra.Command{
	Use:   "register <id> <path>",
	Short: "Start tracking an existing file in the Hot tier",
	Args:  cobra.ExactArgs(2),
	RunE:  runRegister,
}

func runRegister(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd.Context(), false, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	obj, err := e.ctrl.Register(cmd.Context(), args[0], args[1])
	if errors.Is(err, store.ErrDuplicate) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", args[0])
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Registered %s on %s at %s\n", obj.ID, obj.Tier, obj.Location)
	return nil
}
