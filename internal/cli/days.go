package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/services"
)

func init() {
	rootCmd.AddCommand(daysCmd)
	rootCmd.AddCommand(countsCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(setCountCmd)
	rootCmd.AddCommand(deleteCodeCmd)
	rootCmd.AddCommand(deleteDayCmd)
	rootCmd.AddCommand(exportCmd)

	countsCmd.Flags().String("sort", "count", "Order by count or code")
	editCmd.Flags().IntP("delta", "d", 0, "Amount to add; negative subtracts")
	exportCmd.Flags().String("sort", "count", "Order by count or code")
	exportCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout ('-' for stdout, '.' for the default name)")
}

var daysCmd = &cobra.Command{
	Use:   "days",
	Short: "List days with scans, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			root, err := a.store.Root(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DAY\tCODES\tSCANS\tLAST SCAN")
			for _, day := range services.AllDaysDescending(root) {
				state := root.Day(day)
				last := "-"
				if state.LastCode != nil && state.LastTsMs != nil {
					last = fmt.Sprintf("%s %s", *state.LastCode, humanize.Time(time.UnixMilli(*state.LastTsMs)))
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", day, len(state.Counts), humanize.Comma(int64(state.Total())), last)
			}
			return tw.Flush()
		})
	},
}

var countsCmd = &cobra.Command{
	Use:   "counts [DAY]",
	Short: "Show the counts for a day (default today)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sortFlag, _ := cmd.Flags().GetString("sort")

		return withApp(func(ctx context.Context, a *app) error {
			day, err := a.resolveDay(firstArg(args))
			if err != nil {
				return err
			}
			entries, err := a.projector.Sorted(ctx, day, models.ParseSortMode(sortFlag))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "no scans on %s\n", day)
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			total := 0
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%d\n", a.catalog.DisplayText(e.Code), e.Count)
				total += e.Count
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s scans of %d codes\n", day, humanize.Comma(int64(total)), len(entries))
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:     "edit DAY CODE --delta N",
	Short:   "Add to or subtract from a code's count",
	Example: "  scanlog edit today 6901234567892 --delta=-2",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		delta, _ := cmd.Flags().GetInt("delta")

		return withApp(func(ctx context.Context, a *app) error {
			day, err := a.resolveDay(args[0])
			if err != nil {
				return err
			}
			qty, err := a.store.IncrementCode(ctx, day, args[1], delta)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s x%d\n", day, services.Normalize(args[1]), qty)
			return nil
		})
	},
}

var setCountCmd = &cobra.Command{
	Use:   "set-count DAY CODE N",
	Short: "Set a code's count; 0 removes it",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("count %q is not a number", args[2])
		}

		return withApp(func(ctx context.Context, a *app) error {
			day, err := a.resolveDay(args[0])
			if err != nil {
				return err
			}
			qty, err := a.store.SetCodeCount(ctx, day, args[1], n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s x%d\n", day, services.Normalize(args[1]), qty)
			return nil
		})
	},
}

var deleteCodeCmd = &cobra.Command{
	Use:   "delete-code DAY CODE",
	Short: "Remove a code from a day",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			day, err := a.resolveDay(args[0])
			if err != nil {
				return err
			}
			return a.store.DeleteCode(ctx, day, args[1])
		})
	},
}

var deleteDayCmd = &cobra.Command{
	Use:   "delete-day DAY",
	Short: "Remove a whole day",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			day, err := a.resolveDay(args[0])
			if err != nil {
				return err
			}
			return a.store.DeleteDay(ctx, day)
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [DAY]",
	Short: "Write a day as Code,Count CSV (default today)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	sortFlag, _ := cmd.Flags().GetString("sort")
	output, _ := cmd.Flags().GetString("output")

	return withApp(func(ctx context.Context, a *app) error {
		day, err := a.resolveDay(firstArg(args))
		if err != nil {
			return err
		}
		entries, err := a.projector.Sorted(ctx, day, models.ParseSortMode(sortFlag))
		if err != nil {
			return err
		}

		switch output {
		case "", "-":
			return services.WriteCSV(cmd.OutOrStdout(), entries)
		case ".":
			output = services.ExportFilename(day)
		}

		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create export file: %w", err)
		}
		if err := services.WriteCSV(f, entries); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d codes to %s\n", len(entries), output)
		return nil
	})
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
