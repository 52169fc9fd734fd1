package cli

import (
	"fmt"
	"os"

	"github.com/neilberkman/querychat/internal/core/importer"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import chats from a browser storage dump",
	Long: `Import chats saved by the web client.

Accepts a dump of the browser's localStorage (for example the output of
JSON.stringify(localStorage) in the developer console), a bare chats
array, or a chat exported with 'querychat export --format json'.

Chats already present are skipped, so importing twice is safe.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read dump: %w", err)
	}

	sessions, err := importer.ParseDump(data)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No chats found in dump")
		return nil
	}

	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	fmt.Printf("Importing chats from: %s\n\n", args[0])

	imp := importer.New(a.Chat.Chat, a.Log)
	progress := importer.NewProgressReporter(os.Stdout, len(sessions))

	res, err := imp.ImportSessions(cmd.Context(), sessions, progress)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	fmt.Printf("Imported %d chat(s), skipped %d already present\n", res.Imported, res.Skipped)
	return nil
}
