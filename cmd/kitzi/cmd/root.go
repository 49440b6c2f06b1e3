package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bennybar/kitzi/internal/config"
	"github.com/bennybar/kitzi/internal/log"
	"github.com/bennybar/kitzi/internal/mediaserver/abs"
	"github.com/bennybar/kitzi/internal/service"
	"github.com/bennybar/kitzi/internal/storage"
	"github.com/bennybar/kitzi/internal/store"
)

var (
	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "kitzi",
	Short: "Local audiobook download and stream cache manager",
	Long: "Manage the local storage of an Audiobookshelf client: permanent downloads, " +
		"an evictable stream cache with a size ceiling, and cleanup of items deleted on the server.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// Execute runs the root command
func Execute(version string) {
	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ~/.config/kitzi/config.yaml)")
	rootCmd.PersistentFlags().String("storage-root", "", "storage directory (default: ~/.local/share/kitzi/storage)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	viper.BindPFlag("storage.root", rootCmd.PersistentFlags().Lookup("storage-root"))
	viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")

	var err error
	cfg, err = config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, logCloser, err = log.SetupLogger(&cfg.Logging)
	if err != nil {
		// Fall back to null logger if file logging fails
		logger = log.NullLogger()
	}
	slog.SetDefault(logger)
	return nil
}

func configPath(cmd *cobra.Command) string {
	path, _ := cmd.Flags().GetString("config")
	return path
}

// openManager builds the storage manager from configuration and initializes it.
// The returned func releases the state database.
func openManager(ctx context.Context) (*service.Manager, func(), error) {
	layout, err := storage.NewLayout(cfg.Storage.Root)
	if err != nil {
		return nil, nil, err
	}

	persist, err := store.Open(cfg.Storage.Root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state database: %w", err)
	}

	client := abs.NewClient(cfg.Server.URL, cfg.Server.Token, logger)
	mgr := service.NewManager(layout, persist, client, cfg.Cache.Limits(), logger)

	closeAll := func() {
		mgr.Close()
		if err := persist.Close(); err != nil {
			logger.Warn("failed to close state database", "error", err)
		}
	}

	if err := mgr.Init(ctx); err != nil {
		closeAll()
		return nil, nil, err
	}
	return mgr, closeAll, nil
}
