package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replay-capture/replay-capture/internal/session"
)

var cleanAllFlag bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove stale session directories",
	Long: `Clean removes session directories that no longer belong to the current or
the last session. Those are left behind when a process dies before the
directories of an older session were purged.

With --all the whole replay folder is removed, including a previous session
that 'replay-capture recover' could still finish.

Examples:
  replay-capture clean
  replay-capture clean --all`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() { //nolint:gochecknoinits // Standard cobra pattern
	cleanCmd.Flags().BoolVar(&cleanAllFlag, "all", false, "Remove every session, including current and last")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, _ []string) error {
	dirs, err := sessionDirs()
	if err != nil {
		return err
	}
	out := cmd.ErrOrStderr()

	if cleanAllFlag {
		if _, err := os.Stat(dirs.Root()); errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(out, "replay-capture: nothing to clean in %s\n", dirs.Root())
			return nil
		}
		if err := os.RemoveAll(dirs.Root()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", dirs.Root(), err)
		}
		fmt.Fprintf(out, "replay-capture: removed %s\n", dirs.Root())
		return nil
	}

	var keep []string
	for _, dir := range []string{dirs.Current(), dirs.Last()} {
		if info, err := session.ReadInfo(dir); err == nil {
			keep = append(keep, info.ReplayID)
		}
	}

	removed := dirs.PurgeStale(keep...)
	for _, dir := range removed {
		fmt.Fprintf(out, "replay-capture: removed %s\n", dir)
	}
	fmt.Fprintf(out, "replay-capture: %d stale session(s) removed\n", len(removed))
	return nil
}
