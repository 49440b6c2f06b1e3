package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/bennybar/kitzi/internal/config"
)

const megabyte = int64(1 << 20)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change settings",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configSetMaxCmd = &cobra.Command{
	Use:   "set-max <megabytes>",
	Short: "Set the stream cache ceiling",
	Long: "Set the stream cache ceiling in megabytes. Values outside the configured bounds are " +
		"clamped and rounded down to the configured step. Excess cache is evicted immediately.",
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetMax,
}

var configSetServerCmd = &cobra.Command{
	Use:   "set-server <url> <token>",
	Short: "Save the Audiobookshelf server URL and API token",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSetServer,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetMaxCmd)
	configCmd.AddCommand(configSetServerCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	mgr, closeAll, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeAll()

	limits := mgr.Limits()
	out := cmd.OutOrStdout()
	server := cfg.Server.URL
	if server == "" {
		server = dimStyle.Render("(not configured)")
	}
	fmt.Fprintln(out, labelStyle.Render("Server")+server)
	fmt.Fprintln(out, labelStyle.Render("Storage")+cfg.Storage.Root)
	fmt.Fprintln(out, labelStyle.Render("Cache max")+formatBytes(mgr.MaxCacheBytes()))
	fmt.Fprintln(out, labelStyle.Render("Cache bounds")+
		fmt.Sprintf("%s to %s, step %s", formatBytes(limits.Min), formatBytes(limits.Max), formatBytes(limits.Step)))
	fmt.Fprintln(out, labelStyle.Render("Log file")+cfg.Logging.File)
	return nil
}

func runConfigSetMax(cmd *cobra.Command, args []string) error {
	mb, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", args[0], err)
	}

	mgr, closeAll, err := openManager(cmd.Context())
	if err != nil {
		return err
	}
	defer closeAll()

	applied, err := mgr.SetMaxCacheBytes(mb * megabyte)
	if err != nil {
		return err
	}
	// Let the background enforcement finish before the process exits
	mgr.Wait()

	msg := fmt.Sprintf("stream cache ceiling set to %s", formatBytes(applied))
	if applied != mb*megabyte {
		msg += dimStyle.Render(fmt.Sprintf(" (requested %d MB)", mb))
	}
	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("✓ ")+msg)
	return nil
}

func runConfigSetServer(cmd *cobra.Command, args []string) error {
	cfg.Server.URL = args[0]
	cfg.Server.Token = args[1]
	if err := config.SaveConfig(cfg, configPath(cmd)); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("✓ ")+"server saved")
	return nil
}
