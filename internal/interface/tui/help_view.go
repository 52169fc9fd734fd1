package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

func (m Model) updateHelp(_ tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.mode = m.prevMode
	return m, nil
}

func (m Model) viewHelp() string {
	help := `
querychat - Help
════════════════

CHAT VIEW
─────────
  Type         Ask a question about your data
  Enter        Send the question
  ctrl+n       Start a new chat
  ctrl+o       Attach a data file (instant analysis)
  ctrl+y       Copy the last SQL query to the clipboard
  ctrl+e       Export the last result set to export.csv
  pgup/pgdown  Scroll the conversation
  tab, esc     Show the chat list
  ctrl+c       Quit

CHAT LIST
─────────
  ↑/↓, j/k     Navigate chats
  Enter        Open chat
  n            Start a new chat
  d            Delete chat
  /            Filter chats (role:user, has:sql, after:yesterday)
  tab          Back to the current chat
  ?            Show this help
  q            Quit

Press any key to return
`

	return helpStyle.Render(help)
}
