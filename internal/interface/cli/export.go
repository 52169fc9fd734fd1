package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/neilberkman/querychat/internal/core/export"
	"github.com/spf13/cobra"
)

var (
	exportOutput string
	exportFormat string
)

var exportCmd = &cobra.Command{
	Use:   "export [chat]",
	Short: "Export a chat to markdown, JSON or YAML",
	Long: `Export a saved chat (default: the current one) to a file.

By default exports to the current directory as chat-<id>.<ext>.
Use --output to specify a custom path, or "-" for stdout.

Examples:
  querychat export
  querychat export 3 --format yaml
  querychat export 0ccfddc4 --output ~/sales-questions.md
  querychat export -f json -o -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path (default: chat-<id>.<ext> in current directory)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "markdown", "Format: markdown, json or yaml")
}

func runExport(cmd *cobra.Command, args []string) error {
	exporter, err := export.NewExporter(exportFormat)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctrl := a.Chat.Chat
	idx := ctrl.CurrentIndex()
	if len(args) > 0 {
		if idx, err = resolveChat(ctrl, args[0]); err != nil {
			return err
		}
	}

	sessions := ctrl.Sessions()
	if idx >= len(sessions) || len(sessions[idx].Messages) == 0 {
		return fmt.Errorf("the current chat is empty; pass a chat number to export")
	}
	sess := sessions[idx]

	if exportOutput == "-" {
		return exporter.Export(&sess, os.Stdout)
	}

	// Get current working directory
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	outputPath := exportOutput
	if outputPath == "" {
		outputPath = filepath.Join(cwd, export.Filename(&sess, exporter))
	} else if !filepath.IsAbs(outputPath) {
		// Make relative paths absolute to current directory
		outputPath = filepath.Join(cwd, outputPath)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := exporter.Export(&sess, f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}

	fmt.Printf("Exported chat to: %s\n", outputPath)
	return nil
}
