package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/neilberkman/querychat/internal/core/models"
	"github.com/neilberkman/querychat/internal/interface/render"
)

// printMessage writes one message as plain terminal text. color enables
// SQL highlighting.
func printMessage(w io.Writer, msg models.Message, color bool) {
	switch msg.Role {
	case models.RoleUser:
		fmt.Fprintf(w, "You: %s\n", msg.Content)
		return
	case models.RoleError:
		fmt.Fprintf(w, "Error: %s\n", msg.Content)
		return
	}

	fmt.Fprintln(w, msg.DisplayContent())

	if msg.SQLQuery != "" {
		sql := strings.TrimSpace(msg.SQLQuery)
		if color {
			sql = render.HighlightSQL(sql)
		}
		fmt.Fprintf(w, "\nSQL:\n%s\n", indent(sql, "  "))
	}

	if rows := render.TableRows(msg.Table); len(rows) > 0 {
		fmt.Fprintf(w, "\n%s\n", render.Table(rows, 20, 30))
	}

	if msg.AnalysisStatement != "" {
		fmt.Fprintf(w, "\nAnalysis:\n%s\n", indent(strings.TrimSpace(msg.AnalysisStatement), "  "))
	}

	switch {
	case msg.AnalysisPlot.Empty():
	case msg.AnalysisPlot.Image != "":
		// base64 expands by 4/3
		size := uint64(len(msg.AnalysisPlot.Image)) * 3 / 4
		fmt.Fprintf(w, "\n[chart image, %s; export the chat to view it]\n", humanize.Bytes(size))
	default:
		fmt.Fprintf(w, "\n[chart: %s]\n", truncate(msg.AnalysisPlot.HTMLTag, 80))
	}

	if len(msg.Chart) > 0 {
		fmt.Fprintln(w, "\n[visualization data attached]")
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// truncate shortens s to width display columns on one line
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, width, "...")
}

// formatTimestamp formats a timestamp in a human-friendly way
func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	if time.Since(t) < 30*24*time.Hour {
		return humanize.Time(t)
	}
	if t.Year() == time.Now().Year() {
		return t.Format("Jan 2")
	}
	return t.Format("Jan 2, 2006")
}
