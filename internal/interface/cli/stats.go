package cli

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show chat statistics",
	Long: `Display statistics about saved chats: message counts by role,
answers with generated SQL, connection failures and date range.`,
	Args: cobra.NoArgs,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

type chatStats struct {
	chats    int
	messages int
	byRole   map[models.Role]int
	withSQL  int
	withPlot int
	full     int
	oldest   time.Time
	newest   time.Time
}

func collectStats(sessions []models.Session, maxMessages int) chatStats {
	s := chatStats{byRole: make(map[models.Role]int)}
	for _, sess := range sessions {
		if len(sess.Messages) == 0 {
			continue
		}
		s.chats++
		if len(sess.Messages) >= maxMessages {
			s.full++
		}
		for _, m := range sess.Messages {
			s.messages++
			s.byRole[m.Role]++
			if m.SQLQuery != "" {
				s.withSQL++
			}
			if !m.AnalysisPlot.Empty() {
				s.withPlot++
			}
			if m.Timestamp.IsZero() {
				continue
			}
			if s.oldest.IsZero() || m.Timestamp.Before(s.oldest) {
				s.oldest = m.Timestamp
			}
			if m.Timestamp.After(s.newest) {
				s.newest = m.Timestamp
			}
		}
	}
	return s
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	s := collectStats(a.Chat.Chat.Sessions(), a.Chat.Chat.MaxMessages())

	fmt.Println("Chat Statistics")
	fmt.Println("===============")
	fmt.Println()
	fmt.Printf("Total Chats:       %s\n", humanize.Comma(int64(s.chats)))
	fmt.Printf("Full Chats:        %s\n", humanize.Comma(int64(s.full)))
	fmt.Printf("Total Messages:    %s\n", humanize.Comma(int64(s.messages)))
	fmt.Printf("  Questions:       %s\n", humanize.Comma(int64(s.byRole[models.RoleUser])))
	fmt.Printf("  Answers:         %s\n", humanize.Comma(int64(s.byRole[models.RoleAssistant])))
	fmt.Printf("  Failures:        %s\n", humanize.Comma(int64(s.byRole[models.RoleError])))
	fmt.Printf("Answers with SQL:  %s\n", humanize.Comma(int64(s.withSQL)))
	fmt.Printf("Charts:            %s\n", humanize.Comma(int64(s.withPlot)))

	if !s.oldest.IsZero() {
		fmt.Println()
		fmt.Printf("First Question:    %s\n", s.oldest.Local().Format("Jan 2, 2006 3:04 PM"))
		fmt.Printf("Last Activity:     %s\n", s.newest.Local().Format("Jan 2, 2006 3:04 PM"))
	}
	return nil
}
