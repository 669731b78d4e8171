package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/pilewatch/internal/config"
	"codeberg.org/mutker/pilewatch/internal/logger"
	"codeberg.org/mutker/pilewatch/internal/storage"
	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "pilewatch",
	Short: "Cathodic protection monitor for pipeline test piles",
	Long: `pilewatch stores test pile voltage readings, classifies each pile's
cathodic protection state and serves statuses, map layers and histories
over HTTP.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(cmd.Flags())
		if err != nil {
			return err
		}

		level, _ := logger.ParseLevel(cfg.LogLevel)
		logger.Init(level, logger.IsService())
		logger.Debug().Str("log_level", cfg.LogLevel).Msg("Config loaded")

		return nil
	},
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(generateCmd)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func storageConfig() storage.Config {
	return storage.Config{
		Driver:    cfg.Database.Driver,
		DSN:       cfg.Database.DSN,
		BackupDir: cfg.Database.BackupDir,
		Location:  cfg.Location(),
	}
}

func openStore(ctx context.Context) (storage.Store, error) {
	return storage.Open(ctx, storageConfig(), logger.Default().With("storage"))
}

func closeStore(store storage.Store) {
	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close storage")
	}
}
