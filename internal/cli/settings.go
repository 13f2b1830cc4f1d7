package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanlog/server/internal/models"
)

func init() {
	rootCmd.AddCommand(settingsCmd)

	settingsCmd.Flags().Bool("guard", true, "Enable the duplicate guard")
	settingsCmd.Flags().Int64("window", 0, "Duplicate window in milliseconds")
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change the duplicate guard",
	Long: `Without flags, print the duplicate guard. --guard=false turns it off and
--window sets how long a repeat of the last code is ignored.`,
	Example: "  scanlog settings --guard=true --window 1500",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			var (
				enabled *bool
				window  *int64
			)
			if cmd.Flags().Changed("window") {
				v, _ := cmd.Flags().GetInt64("window")
				window = &v
			}
			if cmd.Flags().Changed("guard") {
				v, _ := cmd.Flags().GetBool("guard")
				enabled = &v
			}

			var (
				guard models.DuplicateGuardSettings
				err   error
			)
			if enabled != nil || window != nil {
				guard, err = a.store.UpdateDuplicateGuard(ctx, enabled, window)
			} else {
				guard, err = a.store.DuplicateGuard(ctx)
			}
			if err != nil {
				return err
			}
			state := "off"
			if guard.Enabled {
				state = "on"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "duplicate guard: %s, window %s\n", state, guard.Window().Round(time.Millisecond))
			return nil
		})
	},
}
