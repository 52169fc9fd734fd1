package models

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// Role identifies who produced a message. Rendering is keyed on it.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleError:
		return true
	}
	return false
}

// Message is one turn of a conversation.
// Field names follow the web client's localStorage layout so histories
// exported from a browser load unchanged.
type Message struct {
	ID        string    `json:"id" yaml:"id"`
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Assistant-only fields
	SQLQuery          string          `json:"sqlQuery,omitempty" yaml:"sql_query,omitempty"`
	Table             string          `json:"table,omitempty" yaml:"table,omitempty"`
	Chart             json.RawMessage `json:"chart,omitempty" yaml:"-"`
	AnalysisStatement string          `json:"analysisStatement,omitempty" yaml:"analysis_statement,omitempty"`
	AnalysisPlot      *AnalysisPlot   `json:"analysisPlot,omitempty" yaml:"analysis_plot,omitempty"`
}

// AnalysisPlot is the chart image produced by the backend's analysis step.
// The backend sends either an object with a base64 PNG or a bare HTML tag.
type AnalysisPlot struct {
	Image   string `json:"image,omitempty" yaml:"-"`
	HTMLTag string `json:"html_tag,omitempty" yaml:"html_tag,omitempty"`
}

// UnmarshalJSON accepts both the object and the plain string form
func (p *AnalysisPlot) UnmarshalJSON(data []byte) error {
	var tag string
	if err := json.Unmarshal(data, &tag); err == nil {
		p.HTMLTag = tag
		return nil
	}
	type plain AnalysisPlot
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = AnalysisPlot(obj)
	return nil
}

// Empty reports whether the plot carries nothing renderable
func (p *AnalysisPlot) Empty() bool {
	return p == nil || (p.Image == "" && p.HTMLTag == "")
}

// HistoryEntry is the reduced form of a message sent back to the backend
type HistoryEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History reduces messages to role/content pairs, dropping derived fields
func History(msgs []Message) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, HistoryEntry{Role: m.Role, Content: m.Content})
	}
	return out
}

// DisplayContent returns the text shown for a message. Assistant replies
// whose content is just the generated SQL get a short caption instead.
func (m Message) DisplayContent() string {
	if m.SQLQuery != "" && m.SQLQuery == m.Content {
		return "Here are your results"
	}
	return m.Content
}

var (
	idMu   sync.Mutex
	lastID int64
)

// NewID returns a time-based identifier that strictly increases within the process
func NewID(now time.Time) string {
	idMu.Lock()
	defer idMu.Unlock()

	id := now.UnixNano()
	if id <= lastID {
		id = lastID + 1
	}
	lastID = id
	return strconv.FormatInt(id, 10)
}

// NewMessage creates a message stamped with the current time
func NewMessage(role Role, content string) Message {
	now := time.Now()
	return Message{
		ID:        NewID(now),
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
}
