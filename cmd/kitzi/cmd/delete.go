package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <item-id>...",
	Short: "Delete local files for items",
	Long: "Delete the downloads, stream cache, task records and catalog entry of the given items. " +
		"With --download-only, only the downloaded files are removed.",
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().Bool("download-only", false, "remove downloads but keep stream cache")
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	downloadOnly, _ := cmd.Flags().GetBool("download-only")

	mgr, closeAll, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeAll()

	out := cmd.OutOrStdout()
	failed := 0
	for _, id := range args {
		before, _ := mgr.UsageForItem(id)
		if downloadOnly {
			_, err = mgr.DeleteDownload(cmd.Context(), id)
		} else {
			err = mgr.DeleteItem(cmd.Context(), id)
		}
		if err != nil {
			failed++
			fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("✗ %s: %v", id, err)))
			continue
		}
		after, _ := mgr.UsageForItem(id)
		fmt.Fprintf(out, "%s %s %s\n", successStyle.Render("✓"), id,
			dimStyle.Render(formatBytes(before.Total()-after.Total())+" freed"))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d deletions failed", failed, len(args))
	}
	return nil
}
