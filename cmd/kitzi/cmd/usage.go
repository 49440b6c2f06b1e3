package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bennybar/kitzi/internal/service"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show storage usage",
	Long:  "Show storage totals against the cache ceiling, then per-item usage largest first.",
	Args:  cobra.NoArgs,
	RunE:  runUsage,
}

func init() {
	usageCmd.Flags().StringP("filter", "f", "", "fuzzy filter items by title, author or id")
	usageCmd.Flags().IntP("limit", "n", 0, "show at most n items (0 for all)")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, _ []string) error {
	mgr, closeAll, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeAll()

	usage, err := mgr.CurrentUsage()
	if err != nil {
		return err
	}
	rows, err := mgr.Report()
	if err != nil {
		return err
	}

	filter, _ := cmd.Flags().GetString("filter")
	limit, _ := cmd.Flags().GetInt("limit")
	rows = service.FilterUsage(rows, filter)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	out := cmd.OutOrStdout()
	ceiling := mgr.MaxCacheBytes()
	fmt.Fprintln(out, titleStyle.Render("Storage"))
	fmt.Fprintln(out, labelStyle.Render("Downloads")+formatBytes(usage.DownloadBytes))
	fmt.Fprintln(out, labelStyle.Render("Stream cache")+
		fmt.Sprintf("%s of %s", formatBytes(usage.StreamCacheBytes), formatBytes(ceiling)))
	fmt.Fprintln(out, labelStyle.Render("Total")+formatBytes(usage.Total()))
	fmt.Fprintln(out)

	if len(rows) == 0 {
		fmt.Fprintln(out, dimStyle.Render("(no items)"))
		return nil
	}

	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("%10s %10s  %s", "DOWNLOAD", "CACHE", "ITEM")))
	for _, row := range rows {
		title := truncate(row.Title, 60)
		if row.Title != row.ItemID {
			title += dimStyle.Render(" " + row.ItemID)
		}
		fmt.Fprintf(out, "%s %s  %s\n",
			sizeStyle.Render(formatBytes(row.DownloadBytes)),
			accentStyle.Inherit(sizeStyle).Render(formatBytes(row.StreamCacheBytes)),
			strings.TrimSpace(title),
		)
	}
	return nil
}
