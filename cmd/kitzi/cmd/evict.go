package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var evictCmd = &cobra.Command{
	Use:   "evict <item-id>...",
	Short: "Remove stream cache for items",
	Long:  "Remove the stream cache of the given items. Downloads are kept.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEvict,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all stream cache",
	Long:  "Remove every stream cache entry. Downloads are kept.",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var enforceCmd = &cobra.Command{
	Use:   "enforce",
	Short: "Evict least recently used cache until under the ceiling",
	Args:  cobra.NoArgs,
	RunE:  runEnforce,
}

func init() {
	rootCmd.AddCommand(evictCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(enforceCmd)
}

func runEvict(cmd *cobra.Command, args []string) error {
	mgr, closeAll, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeAll()

	out := cmd.OutOrStdout()
	for _, id := range args {
		freed, err := mgr.EvictForItem(cmd.Context(), id)
		if err != nil {
			fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("✗ %s: %v", id, err)))
			continue
		}
		fmt.Fprintf(out, "%s %s %s\n", successStyle.Render("✓"), id, dimStyle.Render(formatBytes(freed)+" freed"))
	}
	return nil
}

func runClear(cmd *cobra.Command, _ []string) error {
	mgr, closeAll, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeAll()

	before := mgr.Stats().StreamCacheBytes
	cleared, err := mgr.Clear(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s cleared %d items, %s freed\n",
		successStyle.Render("✓"), len(cleared), formatBytes(before-mgr.Stats().StreamCacheBytes))
	return nil
}

func runEnforce(cmd *cobra.Command, _ []string) error {
	mgr, closeAll, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeAll()

	evicted, err := mgr.EnforceCapacity(cmd.Context())
	if err != nil {
		return err
	}
	stats := mgr.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "%s evicted %d items, cache %s of %s\n",
		successStyle.Render("✓"), len(evicted), formatBytes(stats.StreamCacheBytes), formatBytes(stats.MaxCacheBytes))
	return nil
}
