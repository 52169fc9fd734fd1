package tui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/neilberkman/querychat/internal/core/export"
	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/neilberkman/querychat/internal/core/submit"
	"github.com/neilberkman/querychat/internal/interface/render"
)

// examplePrompts are offered on an empty chat
var examplePrompts = []string{
	"Show me the total count of Stores",
	"What's the average weekly sales for each type of store?",
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "esc":
		if m.attaching {
			m.attaching = false
			m.input.SetValue("")
			m.input.Placeholder = "Ask a question about your data..."
			return m, nil
		}
		m.mode = listView
		return m, loadChats(m.flow.Chat, m.filterInput.Value())

	case "tab":
		m.mode = listView
		return m, loadChats(m.flow.Chat, m.filterInput.Value())

	case "enter":
		if m.attaching {
			return m.attach(), nil
		}
		return m.submit()

	case "ctrl+n":
		return m.newChat(), nil

	case "ctrl+o":
		if !m.instant {
			m.status = "Data files are only used in instant analysis (querychat tui --file data.csv)"
			return m, nil
		}
		m.attaching = true
		m.input.SetValue("")
		m.input.Placeholder = "Path to a data file, esc to cancel"
		return m, nil

	case "ctrl+y":
		return m, copySQL(lastSQL(m.flow.Chat.Messages()))

	case "ctrl+e":
		return m, exportDataset(export.DatasetFilename, m.flow.Pipeline.Dataset())

	case "pgup", "pgdown":
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case "up":
		// Cycle example prompts into an empty chat
		if len(m.flow.Chat.Messages()) == 0 && m.call == nil {
			m.input.SetValue(nextExample(m.input.Value()))
			m.input.CursorEnd()
			return m, nil
		}
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit starts a query; the HTTP exchange runs as a command
func (m Model) submit() (tea.Model, tea.Cmd) {
	call, err := m.flow.Pipeline.Begin(m.ctx, m.input.Value(), m.attachment)
	if err != nil {
		if errors.Is(err, submit.ErrFileStore) {
			m.attachment = nil
		}
		m.status = submitErrorText(err)
		return m, nil
	}

	// Stored in the file cache for this chat now
	m.attachment = nil
	m.call = call
	m.status = ""
	m.input.SetValue("")
	m.input.Blur()
	m.refreshConversation()

	return m, tea.Batch(m.spinner.Tick, runQuery(m.ctx, call))
}

func (m Model) complete(msg replyMsg) (tea.Model, tea.Cmd) {
	reply, err := m.flow.Pipeline.Complete(m.ctx, msg.call, msg.result)
	m.call = nil
	cmd := m.input.Focus()

	switch {
	case err != nil:
		m.status = err.Error()
	case msg.call.SessionID != m.flow.Chat.ActiveSessionID():
		m.status = "Reply added to chat: " + truncate(msg.call.Query, 40)
	case reply.Role == models.RoleError:
		m.status = ""
	default:
		if m.flow.Pipeline.Dataset() != "" {
			m.status = "ctrl+e exports the result set, ctrl+y copies the SQL"
		} else {
			m.status = ""
		}
	}

	m.refreshConversation()
	return m, tea.Batch(cmd, loadChats(m.flow.Chat, m.filterInput.Value()))
}

func (m Model) newChat() Model {
	if !m.flow.Chat.StartNewSession(m.ctx) {
		m.status = "Already in a new chat"
		return m
	}
	m.status = "Started a new chat"
	if m.instant && m.attachment == nil {
		m.status += " (ctrl+o to attach a data file)"
	}
	m.refreshConversation()
	return m
}

// attach reads the file named in the input and keeps it for the next question
func (m Model) attach() Model {
	path := strings.TrimSpace(m.input.Value())
	m.attaching = false
	m.input.SetValue("")
	m.input.Placeholder = "Ask a question about your data..."
	if path == "" {
		return m
	}

	upload, err := models.ReadUpload(path)
	if err != nil {
		m.status = fmt.Sprintf("Could not read file: %v", err)
		return m
	}
	m.attachment = upload
	m.status = fmt.Sprintf("Attached %s (%s)", upload.Name, humanize.Bytes(uint64(upload.Size)))
	return m
}

func submitErrorText(err error) string {
	switch {
	case errors.Is(err, submit.ErrEmptyQuery):
		return ""
	case errors.Is(err, submit.ErrBusy):
		return "Please wait for the current query to finish"
	case errors.Is(err, submit.ErrMessageLimit):
		return submit.MessageLimitText + " (ctrl+n)"
	case errors.Is(err, submit.ErrNoFile):
		return submit.NoFileText + " (ctrl+o to attach)"
	case errors.Is(err, submit.ErrFileStore):
		return submit.FileStoreText
	}
	return err.Error()
}

func (m *Model) refreshConversation() {
	m.viewport.SetContent(renderConversation(m.flow.Chat.Messages(), m.viewport.Width))
	m.viewport.GotoBottom()
}

// renderConversation draws the active chat as terminal text
func renderConversation(msgs []models.Message, width int) string {
	if width <= 0 {
		width = 80
	}
	wrap := lipgloss.NewStyle().Width(max(width-4, 20))

	var b strings.Builder
	if len(msgs) == 0 {
		b.WriteString(titleStyle.Render("Ask anything about your data"))
		b.WriteString("\n\nTry one of these (↑ to fill in):\n\n")
		for _, p := range examplePrompts {
			b.WriteString(examplePromptStyle.Render("• " + p))
			b.WriteString("\n")
		}
		return b.String()
	}

	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}

		ts := timestampStyle.Render(msg.Timestamp.Local().Format("15:04"))
		switch msg.Role {
		case models.RoleUser:
			b.WriteString(userStyle.Render("You") + " " + ts + "\n")
			b.WriteString(wrap.Render(msg.Content))
			b.WriteString("\n")

		case models.RoleError:
			b.WriteString(errorStyle.Render("Error") + " " + ts + "\n")
			b.WriteString(wrap.Render(msg.Content))
			b.WriteString("\n")

		default:
			b.WriteString(assistantStyle.Render("Assistant") + " " + ts + "\n")
			renderReply(&b, msg, width, wrap)
		}
	}

	return b.String()
}

func renderReply(b *strings.Builder, msg models.Message, width int, wrap lipgloss.Style) {
	b.WriteString(wrap.Render(msg.DisplayContent()))
	b.WriteString("\n")

	if sql := strings.TrimSpace(msg.SQLQuery); sql != "" {
		b.WriteString("\n" + sectionStyle.Render("SQL") + "\n")
		b.WriteString(render.HighlightSQL(sql))
		b.WriteString("\n")
	}

	if rows := render.TableRows(msg.Table); len(rows) > 0 {
		cell := 30
		if cols := len(rows[0]); cols > 0 {
			cell = max(min(width/cols-3, 30), 6)
		}
		b.WriteString("\n" + render.Table(rows, 15, cell) + "\n")
	}

	if msg.AnalysisStatement != "" {
		b.WriteString("\n" + sectionStyle.Render("Analysis") + "\n")
		b.WriteString(wrap.Render(strings.TrimSpace(msg.AnalysisStatement)))
		b.WriteString("\n")
	}

	switch {
	case msg.AnalysisPlot.Empty():
	case msg.AnalysisPlot.Image != "":
		size := uint64(len(msg.AnalysisPlot.Image)) * 3 / 4
		b.WriteString(metaStyle.Render(fmt.Sprintf("[chart image, %s; export the chat to view it]", humanize.Bytes(size))))
		b.WriteString("\n")
	default:
		b.WriteString(metaStyle.Render("[chart: " + truncate(msg.AnalysisPlot.HTMLTag, 60) + "]"))
		b.WriteString("\n")
	}

	if len(msg.Chart) > 0 {
		b.WriteString(metaStyle.Render("[visualization data attached]"))
		b.WriteString("\n")
	}
}

// lastSQL returns the most recent generated query of a chat
func lastSQL(msgs []models.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SQLQuery != "" {
			return strings.TrimSpace(msgs[i].SQLQuery)
		}
	}
	return ""
}

func nextExample(current string) string {
	for i, p := range examplePrompts {
		if p == current {
			return examplePrompts[(i+1)%len(examplePrompts)]
		}
	}
	return examplePrompts[0]
}

func (m Model) viewChat() string {
	var b strings.Builder

	header := titleStyle.Render("querychat")
	ctrl := m.flow.Chat
	label := fmt.Sprintf("chat %d of %d", ctrl.CurrentIndex()+1, max(len(ctrl.Sessions()), ctrl.CurrentIndex()+1))
	if m.instant {
		label = "instant analysis, " + label
	}
	if m.attachment != nil {
		label += " | file: " + m.attachment.Name
	}
	b.WriteString(header + " " + metaStyle.Render(label))
	b.WriteString("\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	b.WriteString(inputBorderStyle.Width(max(m.width-2, 20)).Render(m.input.View()))
	b.WriteString("\n")

	switch {
	case m.call != nil:
		b.WriteString(m.spinner.View() + statusStyle.Render(" Thinking... (asking "+m.app.Config.BackendURL+")"))
	case m.status != "":
		b.WriteString(statusStyle.Render(m.status))
	default:
		b.WriteString(helpStyle.Render("enter send • ctrl+n new chat • tab chats • pgup/pgdown scroll • ctrl+c quit"))
	}

	return b.String()
}
