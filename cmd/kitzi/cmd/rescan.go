package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Recompute usage from files on disk",
	Args:  cobra.NoArgs,
	RunE:  runRescan,
}

func init() {
	rootCmd.AddCommand(rescanCmd)
}

func runRescan(cmd *cobra.Command, _ []string) error {
	mgr, closeAll, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeAll()

	if err := mgr.Rescan(cmd.Context()); err != nil {
		return err
	}
	stats := mgr.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d items, downloads %s, cache %s\n",
		successStyle.Render("✓"), stats.TrackedItems,
		formatBytes(stats.DownloadBytes), formatBytes(stats.StreamCacheBytes))
	return nil
}
