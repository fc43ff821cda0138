// Package cli implements the altaper4mance command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/valdirmariano/altaper4mance-sub000/internal/daemon"
	"github.com/valdirmariano/altaper4mance-sub000/internal/logging"
)

var (
	configPath string
	verbose    bool
	logger     *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "altaper4mance",
	Short: "altaper4mance: XP, levels, streaks and badges for your productivity app",
	Long: `altaper4mance is the progression and rewards engine.
It turns completed tasks, habits, goals and workouts into XP, levels,
daily streaks and badges, and streams the resulting transitions live.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			// config init must work even with a broken file
			cfg = daemon.DefaultConfig()
		}
		logger, err = logging.New(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $ALTAPER4MANCE_HOME/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig honours --config.
func loadConfig() (daemon.Config, error) {
	if configPath != "" {
		return daemon.LoadConfigFrom(configPath)
	}
	return daemon.LoadConfig()
}
