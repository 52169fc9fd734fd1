package search

import (
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Filters represents parsed filters from a search query
type Filters struct {
	Query      string      // The actual search text
	Role       models.Role // Only match messages with this role
	HasSQL     bool        // Only chats with generated SQL
	AfterDate  time.Time   // Only chats active after this date
	BeforeDate time.Time   // Only chats active before this date
	HasAfter   bool        // Whether AfterDate was set
	HasBefore  bool        // Whether BeforeDate was set
}

// Empty reports whether the filters match every chat
func (f Filters) Empty() bool {
	return f.Query == "" && f.Role == "" && !f.HasSQL && !f.HasAfter && !f.HasBefore
}

// ParseQuery extracts filters from a search query string
// Supports:
//   - role:user, role:assistant, role:error - filter matched messages by role
//   - has:sql - only chats where the server generated SQL
//   - date:yesterday, date:last-week, date:2024-11-01 - filter by date
//   - after:yesterday, before:2024-11-01 - explicit date ranges
func ParseQuery(query string) Filters {
	return ParseQueryAt(query, time.Now())
}

// ParseQueryAt is ParseQuery with relative dates resolved against now
func ParseQueryAt(query string, now time.Time) Filters {
	filters := Filters{}

	// Initialize date parser with English rules
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	var queryParts []string

	for _, token := range strings.Fields(query) {
		switch {
		case strings.HasPrefix(token, "role:"):
			if role := models.Role(strings.ToLower(strings.TrimPrefix(token, "role:"))); role.Valid() {
				filters.Role = role
			}
			continue

		case token == "has:sql":
			filters.HasSQL = true
			continue

		case strings.HasPrefix(token, "date:"), strings.HasPrefix(token, "after:"):
			dateStr := token[strings.Index(token, ":")+1:]
			if parsed := parseDate(w, dateStr, now); parsed != nil {
				// For "date:" treat as "after this date"
				filters.AfterDate = *parsed
				filters.HasAfter = true
			}
			continue

		case strings.HasPrefix(token, "before:"):
			if parsed := parseDate(w, strings.TrimPrefix(token, "before:"), now); parsed != nil {
				filters.BeforeDate = *parsed
				filters.HasBefore = true
			}
			continue
		}

		// Not a filter, add to query
		queryParts = append(queryParts, token)
	}

	filters.Query = strings.Join(queryParts, " ")
	return filters
}

// parseDate attempts to parse a date string as a fixed date, a relative
// shorthand, then natural language
func parseDate(w *when.Parser, dateStr string, now time.Time) *time.Time {
	// Try standard formats
	formats := []string{
		"2006-01-02",
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006/01/02",
		"01/02/2006",
	}

	for _, format := range formats {
		if t, err := time.ParseInLocation(format, dateStr, now.Location()); err == nil {
			return &t
		}
	}

	switch strings.ToLower(dateStr) {
	case "today":
		t := startOfDay(now)
		return &t
	case "last-week":
		t := startOfDay(now).AddDate(0, 0, -7)
		return &t
	case "last-month":
		t := startOfDay(now).AddDate(0, -1, 0)
		return &t
	case "last-year":
		t := startOfDay(now).AddDate(-1, 0, 0)
		return &t
	}

	// Natural language, with dashes standing in for spaces
	natural := strings.ReplaceAll(dateStr, "-", " ")
	if result, err := w.Parse(natural, now); err == nil && result != nil {
		return &result.Time
	}

	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Match is a chat that satisfied the filters
type Match struct {
	Index   int // position in the collection
	Session models.Session
	Snippet string // excerpt around the first hit, "" without a text query
	Hits    int    // messages containing every term
}

// Filter returns the non-empty chats matching f, most recently active first
func Filter(sessions []models.Session, f Filters) []Match {
	terms := strings.Fields(strings.ToLower(f.Query))

	var matches []Match
	for i, sess := range sessions {
		if len(sess.Messages) == 0 {
			continue
		}

		updated := sess.UpdatedAt()
		if f.HasAfter && updated.Before(f.AfterDate) {
			continue
		}
		if f.HasBefore && !updated.Before(f.BeforeDate) {
			continue
		}
		if f.HasSQL && !hasSQL(sess) {
			continue
		}

		m := Match{Index: i, Session: sess}
		if len(terms) > 0 || f.Role != "" {
			for _, msg := range sess.Messages {
				if f.Role != "" && msg.Role != f.Role {
					continue
				}
				text := strings.ToLower(msg.Content + "\n" + msg.SQLQuery)
				if !containsAll(text, terms) {
					continue
				}
				if m.Hits == 0 && len(terms) > 0 {
					m.Snippet = snippet(msg.Content, terms[0], 64)
				}
				m.Hits++
			}
			if m.Hits == 0 {
				continue
			}
		}

		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Session.UpdatedAt().After(matches[b].Session.UpdatedAt())
	})
	return matches
}

func hasSQL(sess models.Session) bool {
	for _, msg := range sess.Messages {
		if msg.SQLQuery != "" {
			return true
		}
	}
	return false
}

func containsAll(text string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(text, t) {
			return false
		}
	}
	return true
}

// snippet returns about width runes of text centered on term
func snippet(text, term string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	pos := strings.Index(strings.ToLower(text), term)
	if pos < 0 || pos > len(text) {
		pos = 0
	}

	runes := []rune(text)
	if len(runes) <= width {
		return text
	}

	center := utf8.RuneCountInString(text[:pos])
	start := center - width/2
	if start < 0 {
		start = 0
	}
	end := start + width
	if end > len(runes) {
		end = len(runes)
		start = end - width
	}

	out := string(runes[start:end])
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}
