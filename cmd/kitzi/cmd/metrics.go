package cmd

import (
	"github.com/spf13/cobra"

	"github.com/bennybar/kitzi/internal/metrics"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print storage metrics in prometheus text format",
	Args:  cobra.NoArgs,
	RunE:  runMetrics,
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}

func runMetrics(cmd *cobra.Command, _ []string) error {
	mgr, closeAll, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeAll()

	return metrics.WriteText(cmd.OutOrStdout(), metrics.NewRegistry(mgr))
}
