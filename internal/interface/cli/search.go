package cli

import (
	"fmt"
	"strings"

	"github.com/neilberkman/querychat/internal/core/search"
	"github.com/spf13/cobra"
)

var (
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the messages of all saved chats",
	Long: `Search questions, answers and generated SQL across all saved chats.

All words must appear in the same message. The filters of 'chats list'
(role:, has:sql, after:, before:, date:) work here too.

Examples:
  querychat search "weekly sales"
  querychat search "group by" has:sql
  querychat search role:error after:yesterday`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVar(&searchLimit, "limit", 50, "Maximum number of chats to show")
}

func runSearch(cmd *cobra.Command, args []string) error {
	// Join all args as query
	query := strings.Join(args, " ")

	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	matches := search.Filter(a.Chat.Chat.Sessions(), search.ParseQuery(query))
	if len(matches) == 0 {
		fmt.Printf("No results found for: %s\n", query)
		return nil
	}

	totalHits := 0
	for _, m := range matches {
		totalHits += m.Hits
	}

	fmt.Printf("Found %d chat(s) with %d matching message(s) for: %s\n", len(matches), totalHits, query)
	fmt.Println()

	for i, m := range matches {
		if i >= searchLimit {
			fmt.Printf("\n... and %d more chats (use --limit to see more)\n", len(matches)-searchLimit)
			break
		}

		fmt.Printf("=== Chat %d ===\n", m.Index+1)
		fmt.Printf("ID:      %s\n", m.Session.ID)
		fmt.Printf("Title:   %s\n", truncate(m.Session.Title(), 80))
		fmt.Printf("Updated: %s\n", formatTimestamp(m.Session.UpdatedAt()))
		if m.Hits > 0 {
			fmt.Printf("Matches: %d\n", m.Hits)
		}
		if m.Snippet != "" {
			fmt.Printf("  %s\n", m.Snippet)
		}
		fmt.Println()
	}

	return nil
}
