package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/replay-capture/replay-capture/internal/report"
)

var inspectFormatFlag string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the sessions stored on disk",
	Long: `Inspect reports the current and last session directories (replay id,
mode, frame count and time range, last completed segment) and lists stale
session directories that 'replay-capture clean' would remove.

Does not modify anything on disk.

Examples:
  replay-capture inspect
  replay-capture inspect --format json`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() { //nolint:gochecknoinits // Standard cobra pattern
	inspectCmd.Flags().StringVar(&inspectFormatFlag, "format", "text", "Output format: text, json")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, _ []string) error {
	format := strings.ToLower(inspectFormatFlag)
	switch format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid format %q: valid values are text, json", inspectFormatFlag)
	}

	dirs, err := sessionDirs()
	if err != nil {
		return err
	}
	res, err := report.Inspect(dirs)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", dirs.Root(), err)
	}

	if format == "json" {
		return report.FormatJSON(cmd.OutOrStdout(), res)
	}
	report.FormatInspect(cmd.OutOrStdout(), res, report.ColorEnabled(os.Stdout))
	return nil
}
