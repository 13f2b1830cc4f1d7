package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scanlog/server/internal/models"
)

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(undoCmd)

	listenCmd.Flags().String("undo", "UNDO", "Line that undoes the last scan instead of counting")
}

var scanCmd = &cobra.Command{
	Use:   "scan CODE...",
	Short: "Record one or more scans for today",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			for _, raw := range args {
				result, err := a.session.OnScanInput(ctx, raw)
				if err != nil {
					return err
				}
				printRecord(cmd.OutOrStdout(), a, raw, result)
			}
			return nil
		})
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Record scans read line by line from stdin",
	Long: `Read codes from stdin, one per line, as a keyboard-wedge scanner types
them. Each line is recorded for today. A line equal to the --undo token
reverses the last scan. Stops at end of input.`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

func runListen(cmd *cobra.Command, args []string) error {
	undoToken, _ := cmd.Flags().GetString("undo")

	return withApp(func(ctx context.Context, a *app) error {
		out := cmd.OutOrStdout()
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			line := scanner.Text()

			if undoToken != "" && strings.TrimSpace(line) == undoToken {
				result, err := a.session.Undo(ctx)
				if err != nil {
					return err
				}
				printUndo(out, result)
				continue
			}

			result, err := a.session.OnScanInput(ctx, line)
			if err != nil {
				return err
			}
			printRecord(out, a, line, result)
		}
		return scanner.Err()
	})
}

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Undo the last scan of today",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			result, err := a.session.Undo(ctx)
			if err != nil {
				return err
			}
			printUndo(cmd.OutOrStdout(), result)
			return nil
		})
	},
}

func printRecord(w io.Writer, a *app, raw string, result models.RecordResult) {
	switch result.Outcome {
	case models.OutcomeRecorded:
		fmt.Fprintf(w, "+ %s  x%d\n", a.catalog.DisplayText(result.Code), *result.CountAfter)
	case models.OutcomeDuplicate:
		fmt.Fprintf(w, "= %s  duplicate, ignored\n", result.Code)
	case models.OutcomeInvalidInput:
		fmt.Fprintf(w, "! %q  empty code, ignored\n", raw)
	case models.OutcomeInactive:
		fmt.Fprintf(w, "- %s  scanning paused\n", result.Code)
	}
}

func printUndo(w io.Writer, result models.UndoResult) {
	if !result.Undone {
		fmt.Fprintf(w, "nothing to undo for %s\n", result.Day)
		return
	}
	fmt.Fprintf(w, "undid %s on %s, now x%d\n", result.Code, result.Day, result.CountAfter)
}
