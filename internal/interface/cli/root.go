package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/neilberkman/querychat/internal/core/app"
	"github.com/neilberkman/querychat/internal/core/config"
	"github.com/neilberkman/querychat/internal/core/logger"
	"github.com/neilberkman/querychat/internal/core/submit"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	dbPath      string
	backendURL  string
	logLevel    string
	configDir   string
	versionInfo string
)

// SetVersion sets the version information from build-time ldflags
func SetVersion(version, commit, date string) {
	versionInfo = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	rootCmd.Version = versionInfo
}

// Execute runs the CLI
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "querychat",
	Short: "Ask questions about your data in plain language",
	Long: `querychat - a terminal chat client for a natural-language analytics server

Type a question, get back the answer, the SQL that produced it, a table
of results and an analysis of the data. Chats are kept between runs.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to TUI if no subcommand specified
		return tuiCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: ~/.config/querychat/querychat.db)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "Analytics server URL (default: http://127.0.0.1:8000)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "Config directory (default: ~/.config/querychat)")
}

// loadConfig reads the config file and applies command-line overrides
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configDir != "" {
		cfg, err = config.LoadDir(configDir)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if dbPath != "" {
		cfg.DBPath = dbPath
		// An explicit database path means sqlite
		cfg.Storage = config.StorageSQLite
	}
	if backendURL != "" {
		cfg.BackendURL = backendURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

// newLogger builds the CLI logger writing to w
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	return logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
		Output: w,
	})
}

// openApp loads config and opens storage for a command
func openApp(ctx context.Context, metrics *submit.Metrics) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.Open(ctx, app.Options{
		Config:  cfg,
		Log:     newLogger(cfg, os.Stderr),
		Metrics: metrics,
	})
}
