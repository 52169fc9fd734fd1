package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/neilberkman/querychat/internal/core/app"
	"github.com/neilberkman/querychat/internal/core/config"
	"github.com/neilberkman/querychat/internal/core/logger"
	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/neilberkman/querychat/internal/interface/tui"
	"github.com/spf13/cobra"
)

var (
	tuiFile    string
	tuiInstant bool
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch the interactive chat",
	Long: `Launch the interactive terminal chat.

With --file (or --instant) the TUI drives the instant-analysis flow: every
question is sent together with a data file, and chats last only until you
quit. Logs go to ~/.config/querychat/querychat.log so they do not disturb
the screen.`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
	tuiCmd.Flags().StringVarP(&tuiFile, "file", "f", "", "Data file for instant analysis")
	tuiCmd.Flags().BoolVar(&tuiInstant, "instant", false, "Start in instant analysis without a file (attach one with ctrl+o)")
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logOut, closeLog := tuiLogOutput()
	defer closeLog()

	ctx := cmd.Context()
	a, err := app.Open(ctx, app.Options{
		Config: cfg,
		Log: logger.New(logger.Config{
			Level:  cfg.LogLevel,
			Output: logOut,
		}),
	})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	opts := tui.Options{Instant: tuiInstant}
	if tuiFile != "" {
		opts.Instant = true
		opts.File, err = models.ReadUpload(tuiFile)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
	}

	p := tea.NewProgram(
		tui.New(ctx, a, opts),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

// tuiLogOutput opens the TUI log file, falling back to discarding logs
func tuiLogOutput() (io.Writer, func()) {
	dir, err := config.Dir()
	if configDir != "" {
		dir, err = configDir, nil
	}
	if err != nil {
		return io.Discard, func() {}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return io.Discard, func() {}
	}

	f, err := os.OpenFile(filepath.Join(dir, "querychat.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return io.Discard, func() {}
	}
	return f, func() { _ = f.Close() }
}
