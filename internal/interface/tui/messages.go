package tui

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/neilberkman/querychat/internal/core/chat"
	"github.com/neilberkman/querychat/internal/core/export"
	"github.com/neilberkman/querychat/internal/core/search"
	"github.com/neilberkman/querychat/internal/core/submit"
)

type errMsg struct {
	err error
}

type statusMsg struct {
	text string
}

type replyMsg struct {
	call   *submit.Call
	result submit.Result
}

type chatsLoadedMsg struct {
	chats []chatItem
}

// chatItem is one row of the chat list
type chatItem struct {
	Index     int
	ID        string
	Title     string
	Messages  int
	UpdatedAt time.Time
	Current   bool
	Snippet   string
}

// runQuery performs the HTTP exchange off the event loop
func runQuery(ctx context.Context, call *submit.Call) tea.Cmd {
	return func() tea.Msg {
		return replyMsg{call: call, result: call.Do(ctx)}
	}
}

func loadChats(ctrl *chat.Controller, filter string) tea.Cmd {
	return func() tea.Msg {
		return chatsLoadedMsg{chats: listChats(ctrl, filter)}
	}
}

// listChats returns the non-empty chats matching filter, most recent first
func listChats(ctrl *chat.Controller, filter string) []chatItem {
	current := ctrl.CurrentIndex()
	matches := search.Filter(ctrl.Sessions(), search.ParseQuery(filter))

	items := make([]chatItem, 0, len(matches))
	for _, match := range matches {
		items = append(items, chatItem{
			Index:     match.Index,
			ID:        match.Session.ID,
			Title:     match.Session.Title(),
			Messages:  len(match.Session.Messages),
			UpdatedAt: match.Session.UpdatedAt(),
			Current:   match.Index == current,
			Snippet:   match.Snippet,
		})
	}
	return items
}

func copySQL(sql string) tea.Cmd {
	return func() tea.Msg {
		if sql == "" {
			return statusMsg{text: "No SQL query in this chat yet"}
		}
		if err := clipboard.WriteAll(sql); err != nil {
			return statusMsg{text: "Could not copy to clipboard: " + err.Error()}
		}
		return statusMsg{text: "SQL query copied to clipboard!"}
	}
}

// exportDataset writes the latest result set as CSV into the working directory
func exportDataset(path, data string) tea.Cmd {
	return func() tea.Msg {
		if data == "" {
			return statusMsg{text: "No data available to export"}
		}

		f, err := os.Create(path)
		if err != nil {
			return statusMsg{text: fmt.Sprintf("Export failed: %v", err)}
		}
		if err := export.WriteDataset(f, data); err != nil {
			_ = f.Close()
			_ = os.Remove(path)
			return statusMsg{text: fmt.Sprintf("Export failed: %v", err)}
		}
		if err := f.Close(); err != nil {
			return statusMsg{text: fmt.Sprintf("Export failed: %v", err)}
		}
		return statusMsg{text: "Data exported to " + path}
	}
}
