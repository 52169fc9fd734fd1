package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/neilberkman/querychat/internal/core/app"
	"github.com/neilberkman/querychat/internal/core/export"
	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/neilberkman/querychat/internal/core/submit"
	"github.com/spf13/cobra"
)

var (
	askFile    string
	askNewChat bool
	askCSV     string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question and print the answer",
	Long: `Send one question to the analytics server and print the reply.

The question is added to the current chat along with the prior messages
as context. With --file the question goes to the instant-analysis flow
together with the given data file; instant chats are not kept after exit.

Examples:
  querychat ask "Show me the total count of Stores"
  querychat ask --new "What's the average weekly sales for each type of store?"
  querychat ask --file sales.csv "Which month had the highest revenue?"
  querychat ask "Sales by store type" --csv sales_by_type.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askFile, "file", "f", "", "Data file to analyze (instant analysis)")
	askCmd.Flags().BoolVar(&askNewChat, "new", false, "Start a new chat before asking")
	askCmd.Flags().StringVar(&askCSV, "csv", "", "Write the returned dataset to this CSV file")
}

func runAsk(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	flow := a.Chat
	var upload *models.Upload
	if askFile != "" {
		flow = a.Instant
		upload, err = models.ReadUpload(askFile)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
	}

	if askNewChat {
		flow.Chat.StartNewSession(ctx)
	}

	reply, err := ask(ctx, a, flow, query, upload)
	if err != nil {
		return err
	}

	printMessage(os.Stdout, reply, true)

	if reply.Role == models.RoleError {
		return errors.New("query failed")
	}

	if askCSV != "" {
		if err := writeDataset(askCSV, flow.Pipeline.Dataset()); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Dataset written to %s\n", askCSV)
	}
	return nil
}

func ask(ctx context.Context, a *app.App, flow app.Flow, query string, upload *models.Upload) (models.Message, error) {
	var spinner *Spinner
	if isatty.IsTerminal(os.Stderr.Fd()) {
		spinner = NewSpinner(os.Stderr, "Asking "+a.Config.BackendURL+"...")
		spinner.Start()
		defer spinner.Stop()
	}

	reply, err := flow.Pipeline.Submit(ctx, query, upload)
	if spinner != nil {
		spinner.Stop()
	}

	switch {
	case errors.Is(err, submit.ErrMessageLimit):
		return reply, fmt.Errorf("%s (run with --new)", submit.MessageLimitText)
	case errors.Is(err, submit.ErrNoFile):
		return reply, errors.New(submit.NoFileText)
	case errors.Is(err, submit.ErrFileStore):
		return reply, errors.New(submit.FileStoreText)
	case err != nil:
		return reply, err
	}
	return reply, nil
}

func writeDataset(path, data string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := export.WriteDataset(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	return f.Close()
}
