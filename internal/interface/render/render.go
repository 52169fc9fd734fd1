// Package render turns assistant replies into terminal text: highlighted
// SQL and tables recovered from the server's HTML.
package render

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-runewidth"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HighlightSQL colors a SQL statement for a 256-color terminal
func HighlightSQL(code string) string {
	return highlight(code, "sql")
}

func highlight(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}

// TableRows extracts the cells of an HTML table. The first row is the
// header when the table has one.
func TableRows(markup string) [][]string {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil
	}

	var rows [][]string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			if cells := rowCells(n); len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return rows
}

func rowCells(tr *html.Node) []string {
	var cells []string
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		var b strings.Builder
		nodeText(c, &b)
		cells = append(cells, strings.Join(strings.Fields(b.String()), " "))
	}
	return cells
}

// nodeText collects the text under n, skipping comments and scripts
func nodeText(n *html.Node, b *strings.Builder) {
	switch {
	case n.Type == html.TextNode:
		b.WriteString(n.Data)
		b.WriteString(" ")
		return
	case n.Type == html.ElementNode && (n.DataAtom == atom.Style || n.DataAtom == atom.Script):
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		nodeText(c, b)
	}
}

// Table draws rows with the first row as header. At most maxRows data rows
// are shown; cells are clipped to maxCell columns.
func Table(rows [][]string, maxRows, maxCell int) string {
	if len(rows) == 0 {
		return ""
	}

	clip := func(cells []string) []string {
		out := make([]string, len(cells))
		for i, c := range cells {
			out[i] = runewidth.Truncate(c, maxCell, "…")
		}
		return out
	}

	body := rows[1:]
	more := 0
	if maxRows > 0 && len(body) > maxRows {
		more = len(body) - maxRows
		body = body[:maxRows]
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(clip(rows[0])...)
	for _, r := range body {
		t.Row(clip(r)...)
	}

	out := t.String()
	if more > 0 {
		out += "\n" + lipgloss.NewStyle().Foreground(lipgloss.Color("240")).
			Render(fmt.Sprintf(" ... %d more row(s)", more))
	}
	return out
}
