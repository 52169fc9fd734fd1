package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/neilberkman/querychat/internal/core/app"
	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/neilberkman/querychat/internal/core/submit"
)

type viewMode int

const (
	chatView viewMode = iota
	listView
	helpView
)

// Lines taken by everything but the conversation: header, input box, status
const chromeHeight = 6

// Options selects the flow the TUI drives
type Options struct {
	// Instant drives the instant-analysis flow
	Instant bool
	// File is attached to the first question (instant flow only)
	File *models.Upload
}

type Model struct {
	ctx      context.Context
	app      *app.App
	flow     app.Flow
	instant  bool
	mode     viewMode
	prevMode viewMode
	width    int
	height   int
	err      error

	// Chat view
	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	call       *submit.Call // query awaiting its reply
	attaching  bool         // input holds a file path instead of a question
	attachment *models.Upload
	status     string

	// Chat list
	list        list.Model
	filterInput textinput.Model
	filtering   bool
	chats       []chatItem
}

func New(ctx context.Context, a *app.App, opts Options) Model {
	flow := a.Chat
	if opts.Instant {
		flow = a.Instant
	}

	input := textinput.New()
	input.Placeholder = "Ask a question about your data..."
	input.CharLimit = 2000
	input.Prompt = "> "
	input.Focus()

	filter := textinput.New()
	filter.Placeholder = "revenue has:sql after:last-week"
	filter.Prompt = ""

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusStyle

	m := Model{
		ctx:         ctx,
		app:         a,
		flow:        flow,
		instant:     opts.Instant,
		mode:        chatView,
		input:       input,
		filterInput: filter,
		spinner:     sp,
		viewport:    viewport.New(80, 20),
		attachment:  opts.File,
	}
	m.list = createChatList(nil, 80, 20)
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, loadChats(m.flow.Chat, ""))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if msg.String() == "?" && m.mode == listView && !m.filtering {
			m.prevMode = m.mode
			m.mode = helpView
			return m, nil
		}

		// Mode-specific key handling
		switch m.mode {
		case chatView:
			return m.updateChat(msg)
		case listView:
			return m.updateList(msg)
		case helpView:
			return m.updateHelp(msg)
		}

	case tea.MouseMsg:
		if m.mode == chatView {
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
		return m, nil

	case spinner.TickMsg:
		if m.call == nil {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case replyMsg:
		return m.complete(msg)

	case chatsLoadedMsg:
		m.chats = msg.chats
		m.list = createChatList(msg.chats, m.width, m.listHeight())
		return m, nil

	case statusMsg:
		m.status = msg.text
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

func (m Model) View() string {
	if m.err != nil {
		return "Error: " + m.err.Error() + "\n\nPress ctrl+c to quit"
	}

	switch m.mode {
	case chatView:
		return m.viewChat()
	case listView:
		return m.viewList()
	case helpView:
		return m.viewHelp()
	}

	return ""
}

func (m *Model) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	m.viewport.Width = m.width
	m.viewport.Height = max(m.height-chromeHeight, 3)
	m.input.Width = max(m.width-8, 10)
	m.list.SetSize(m.width, m.listHeight())
	m.refreshConversation()
}

func (m Model) listHeight() int {
	// Header, filter line and help text
	return max(m.height-4, 3)
}
