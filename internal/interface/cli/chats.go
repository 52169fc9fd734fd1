package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/neilberkman/querychat/internal/core/chat"
	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/neilberkman/querychat/internal/core/search"
	"github.com/spf13/cobra"
)

var (
	chatsLimit  int
	chatsFilter string
	chatsPlain  bool
)

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Manage saved chats",
	Long: `List, show, switch between and delete saved chats.

Chats are numbered from 1 in the order they were started; the current
chat is marked with *. Commands that take a chat accept its number or a
prefix of its id.`,
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved chats",
	Long: `List saved chats, most recently active first.

Filters:
  role:user|assistant|error   only match messages with this role
  has:sql                     only chats with generated SQL
  after:<date> before:<date>  activity range (yesterday, last-week, 2024-11-01)

Examples:
  querychat chats list
  querychat chats list --filter "revenue after:last-week"
  querychat chats list --filter "role:error"`,
	Args: cobra.NoArgs,
	RunE: runChatsList,
}

var chatsShowCmd = &cobra.Command{
	Use:   "show [chat]",
	Short: "Print a chat (default: the current one)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChatsShow,
}

var chatsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new chat",
	Args:  cobra.NoArgs,
	RunE:  runChatsNew,
}

var chatsSwitchCmd = &cobra.Command{
	Use:   "switch <chat>",
	Short: "Make a saved chat current",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatsSwitch,
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <chat>",
	Short: "Delete a saved chat",
	Args:  cobra.ExactArgs(1),
	RunE:  runChatsDelete,
}

func init() {
	rootCmd.AddCommand(chatsCmd)
	chatsCmd.AddCommand(chatsListCmd, chatsShowCmd, chatsNewCmd, chatsSwitchCmd, chatsDeleteCmd)

	chatsListCmd.Flags().IntVar(&chatsLimit, "limit", 20, "Maximum number of chats to display")
	chatsListCmd.Flags().StringVar(&chatsFilter, "filter", "", "Search text and filters")
	chatsShowCmd.Flags().BoolVar(&chatsPlain, "plain", false, "Disable SQL highlighting")
}

func runChatsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctrl := a.Chat.Chat
	filters := search.ParseQuery(chatsFilter)
	matches := search.Filter(ctrl.Sessions(), filters)

	if len(matches) == 0 {
		if !filters.Empty() {
			fmt.Printf("No chats found for: %s\n", chatsFilter)
		} else {
			fmt.Println("No chats yet. Run 'querychat ask <question>' or 'querychat' to start one.")
		}
		return nil
	}

	shown := matches
	if chatsLimit > 0 && len(shown) > chatsLimit {
		shown = shown[:chatsLimit]
	}

	fmt.Printf("Showing %d of %d chat(s)\n\n", len(shown), len(matches))

	current := ctrl.CurrentIndex()
	for _, m := range shown {
		marker := " "
		if m.Index == current {
			marker = "*"
		}
		fmt.Printf("%s[%d] %s\n", marker, m.Index+1, truncate(m.Session.Title(), 80))
		fmt.Printf("    ID:       %s\n", m.Session.ID)
		fmt.Printf("    Messages: %d/%d\n", len(m.Session.Messages), ctrl.MaxMessages())
		fmt.Printf("    Updated:  %s\n", formatTimestamp(m.Session.UpdatedAt()))
		if m.Snippet != "" {
			fmt.Printf("    Match:    %s\n", m.Snippet)
		}
		fmt.Println()
	}

	if len(matches) > len(shown) {
		fmt.Printf("... and %d more chats (use --limit to see more)\n", len(matches)-len(shown))
	}
	return nil
}

func runChatsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctrl := a.Chat.Chat
	var sess models.Session
	if len(args) == 0 {
		sess = models.Session{ID: ctrl.ActiveSessionID(), Messages: ctrl.Messages()}
	} else {
		idx, err := resolveChat(ctrl, args[0])
		if err != nil {
			return err
		}
		sess = ctrl.Sessions()[idx]
	}

	if len(sess.Messages) == 0 {
		fmt.Println("This chat is empty.")
		return nil
	}

	color := !chatsPlain && isatty.IsTerminal(os.Stdout.Fd())
	for i, msg := range sess.Messages {
		if i > 0 {
			fmt.Println()
		}
		printMessage(os.Stdout, msg, color)
	}
	return nil
}

func runChatsNew(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if !a.Chat.Chat.StartNewSession(cmd.Context()) {
		fmt.Println("The current chat is already empty.")
		return nil
	}
	fmt.Printf("Started chat %d\n", a.Chat.Chat.CurrentIndex()+1)
	return nil
}

func runChatsSwitch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctrl := a.Chat.Chat
	idx, err := resolveChat(ctrl, args[0])
	if err != nil {
		return err
	}
	if err := ctrl.SwitchSession(cmd.Context(), idx); err != nil {
		return fmt.Errorf("failed to switch chat: %w", err)
	}

	sess := ctrl.Sessions()[idx]
	fmt.Printf("Switched to chat %d: %s\n", idx+1, truncate(sess.Title(), 60))
	return nil
}

func runChatsDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctrl := a.Chat.Chat
	idx, err := resolveChat(ctrl, args[0])
	if err != nil {
		return err
	}
	title := ctrl.Sessions()[idx].Title()
	if err := ctrl.DeleteSession(cmd.Context(), idx); err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}

	fmt.Printf("Deleted chat %d: %s\n", idx+1, truncate(title, 60))
	return nil
}

// resolveChat maps a 1-based chat number or id prefix to a session index
func resolveChat(ctrl *chat.Controller, ref string) (int, error) {
	sessions := ctrl.Sessions()

	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(sessions) {
			return 0, fmt.Errorf("chat %d not found (have %d)", n, len(sessions))
		}
		return n - 1, nil
	}

	found := -1
	for i, s := range sessions {
		if strings.HasPrefix(s.ID, ref) {
			if found >= 0 {
				return 0, fmt.Errorf("chat id %q is ambiguous", ref)
			}
			found = i
		}
	}
	if found < 0 {
		return 0, fmt.Errorf("chat %q not found", ref)
	}
	return found, nil
}
