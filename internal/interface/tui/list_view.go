package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
)

type chatListItem struct {
	chat chatItem
}

func (i chatListItem) FilterValue() string {
	return i.chat.Title
}

func (i chatListItem) Title() string {
	if i.chat.Title != "" {
		return i.chat.Title
	}
	return "Chat " + shortID(i.chat.ID)
}

func (i chatListItem) Description() string {
	desc := fmt.Sprintf("%d messages | Updated: %s", i.chat.Messages, humanize.Time(i.chat.UpdatedAt))
	if i.chat.Snippet != "" {
		desc += " | " + i.chat.Snippet
	}
	return desc
}

// Custom delegate to highlight the current chat and truncate long titles
type chatDelegate struct {
	list.DefaultDelegate
}

func (d chatDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	c, ok := item.(chatListItem)
	if !ok {
		d.DefaultDelegate.Render(w, m, index, item)
		return
	}

	width := max(m.Width()-4, 10)
	title := truncate(c.Title(), width)
	desc := truncate(c.Description(), width)

	switch {
	case index == m.Index():
		title = selectedItemStyle.Render("► " + title)
		desc = selectedItemStyle.Faint(true).Render("  " + desc)
	case c.chat.Current:
		title = currentItemStyle.Render(title)
		desc = itemStyle.Render(desc)
	default:
		title = itemStyle.Render(title)
		desc = itemStyle.Render(desc)
	}

	fmt.Fprintf(w, "%s\n%s", title, desc)
}

func createChatList(chats []chatItem, width, height int) list.Model {
	items := make([]list.Item, len(chats))
	selected := 0
	for i, c := range chats {
		items[i] = chatListItem{chat: c}
		if c.Current {
			selected = i
		}
	}

	delegate := chatDelegate{DefaultDelegate: list.NewDefaultDelegate()}

	l := list.New(items, delegate, width, height)
	l.Title = ""
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetFilteringEnabled(false) // Filtering goes through search.ParseQuery with /
	l.Select(selected)

	return l
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	if m.filtering {
		switch msg.String() {
		case "esc":
			m.filtering = false
			m.filterInput.Blur()
			m.filterInput.SetValue("")
			return m, loadChats(m.flow.Chat, "")
		case "enter":
			m.filtering = false
			m.filterInput.Blur()
			return m, nil
		case "down", "up":
			m.list, cmd = m.list.Update(msg)
			return m, cmd
		}

		// Live filter on every keystroke
		m.filterInput, cmd = m.filterInput.Update(msg)
		return m, tea.Batch(cmd, loadChats(m.flow.Chat, m.filterInput.Value()))
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit

	case "tab", "esc":
		m.mode = chatView
		m.refreshConversation()
		return m, nil

	case "enter":
		if selected, ok := m.list.SelectedItem().(chatListItem); ok {
			if err := m.flow.Chat.SwitchSession(m.ctx, selected.chat.Index); err != nil {
				m.status = err.Error()
				return m, nil
			}
			m.status = ""
		}
		m.mode = chatView
		m.refreshConversation()
		return m, nil

	case "n":
		m = m.newChat()
		m.mode = chatView
		return m, nil

	case "d":
		if selected, ok := m.list.SelectedItem().(chatListItem); ok {
			if err := m.flow.Chat.DeleteSession(m.ctx, selected.chat.Index); err != nil {
				m.status = err.Error()
			} else {
				m.status = "Deleted: " + truncate(selected.Title(), 40)
			}
			return m, loadChats(m.flow.Chat, m.filterInput.Value())
		}
		return m, nil

	case "/":
		m.filtering = true
		return m, m.filterInput.Focus()
	}

	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) viewList() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Chats"))
	if m.instant {
		b.WriteString(metaStyle.Render(" (instant analysis, not saved)"))
	}
	b.WriteString("\n")

	if m.filtering || m.filterInput.Value() != "" {
		b.WriteString(filterHeaderStyle.Render("Filter: "))
		b.WriteString(m.filterInput.View())
	}
	b.WriteString("\n")

	var helpText string
	switch {
	case m.filtering:
		helpText = "enter apply • esc clear • ↑/↓ move"
	case m.status != "":
		helpText = statusStyle.Render(m.status)
	default:
		helpText = "↑/k up • ↓/j down • enter open • n new • d delete • / filter • tab back • q quit • ? more"
	}

	if len(m.chats) == 0 {
		if m.filterInput.Value() != "" {
			b.WriteString("No chats match the filter.\n\n")
		} else {
			b.WriteString("No chats yet. Press tab and ask a question.\n\n")
		}
		b.WriteString(helpStyle.Render(helpText))
		return b.String()
	}

	b.WriteString(m.list.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(helpText))
	return b.String()
}

// truncate clips s to width display cells
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "...")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
