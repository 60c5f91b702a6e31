package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/replay-capture/replay-capture/internal/recovery"
	"github.com/replay-capture/replay-capture/internal/replay"
	"github.com/replay-capture/replay-capture/internal/report"
)

var (
	recoverFormatFlag string
	recoverEventFlag  string
	recoverUpload     uploadFlags
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Finish a session left behind by a terminated process",
	Long: `Recover encodes and uploads the frames of sessions left behind by a
terminated process, then deletes their directories. The previous session is
recovered first, then the session still marked as current, which is rotated
into place. Do not run it while 'replay-capture record' is recording into the
same directory; record recovers the previous session on its own.

A full session continues from the segment after the last one it completed.
A buffered session is kept only when sampled at its error sample rate, and
then produces its error buffer window.

Exit code 0 unless a recovery failed.

Formats:
  text   Human-readable summary to stderr (default)
  json   JSON array of results to stdout

Examples:
  replay-capture recover
  replay-capture recover --event crash-1234 --format json`,
	Args: cobra.NoArgs,
	RunE: runRecover,
}

func init() { //nolint:gochecknoinits // Standard cobra pattern
	recoverCmd.Flags().StringVar(&recoverFormatFlag, "format", "text", "Output format: text, json")
	recoverCmd.Flags().StringVar(&recoverEventFlag, "event", "", "Id of the crash event the recovered replay is linked to")
	recoverUpload.register(recoverCmd)
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, _ []string) error {
	format := strings.ToLower(recoverFormatFlag)
	switch format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid format %q: valid values are text, json", recoverFormatFlag)
	}

	opts, err := loadOptions()
	if err != nil {
		return err
	}
	dirs, err := sessionDirs()
	if err != nil {
		return err
	}
	enc, err := newSegmentEncoder(opts)
	if err != nil {
		return err
	}
	uploader, release, err := recoverUpload.build(cmd.Context())
	if err != nil {
		return err
	}
	defer release()

	var event *replay.ErrorEvent
	if recoverEventFlag != "" {
		event = replay.NewErrorEvent(recoverEventFlag)
	}

	coord := recovery.New(recovery.Config{
		Options:  *opts,
		Dirs:     dirs,
		Encoder:  enc,
		Uploader: uploader,
	})
	results := coord.RecoverAll(cmd.Context(), event)

	switch format {
	case "json":
		if err := report.FormatJSON(cmd.OutOrStdout(), results); err != nil {
			return fmt.Errorf("failed to encode JSON output: %w", err)
		}
	default:
		color := report.ColorEnabled(os.Stderr)
		for _, res := range results {
			report.FormatRecovery(cmd.ErrOrStderr(), res, color)
		}
	}

	for _, res := range results {
		if res.Outcome == recovery.OutcomeFailed {
			return fmt.Errorf("recovery of replay %s failed", res.ReplayID)
		}
	}
	return nil
}
