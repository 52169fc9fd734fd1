// Package export writes chats and datasets to files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/neilberkman/querychat/internal/core/models"
	"gopkg.in/yaml.v3"
)

// Exporter writes one chat in a particular format
type Exporter interface {
	Export(sess *models.Session, w io.Writer) error
	Extension() string
}

// NewExporter returns the exporter for format (markdown, json or yaml)
func NewExporter(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "md", "markdown", "":
		return &MarkdownExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown export format: %s", format)
	}
}

// MarkdownExporter exports chats as Markdown
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(sess *models.Session, w io.Writer) error {
	var b strings.Builder

	title := sess.Title()
	if title == "" {
		title = "Untitled chat"
	}
	b.WriteString("# ")
	b.WriteString(title)
	b.WriteString("\n\n")

	b.WriteString("**Chat ID:** `")
	b.WriteString(sess.ID)
	b.WriteString("`  \n")
	if !sess.CreatedAt.IsZero() {
		b.WriteString("**Created:** ")
		b.WriteString(formatTimestamp(sess.CreatedAt))
		b.WriteString("  \n")
	}
	b.WriteString("**Updated:** ")
	b.WriteString(formatTimestamp(sess.UpdatedAt()))
	b.WriteString("  \n")
	fmt.Fprintf(&b, "**Messages:** %d\n\n", len(sess.Messages))
	b.WriteString("---\n\n")

	for _, msg := range sess.Messages {
		b.WriteString("**")
		b.WriteString(strings.ToUpper(string(msg.Role)))
		b.WriteString("**")
		if !msg.Timestamp.IsZero() {
			b.WriteString(" (")
			b.WriteString(formatTimestamp(msg.Timestamp))
			b.WriteString(")")
		}
		b.WriteString("\n\n")
		b.WriteString(msg.DisplayContent())
		b.WriteString("\n\n")

		if msg.SQLQuery != "" {
			b.WriteString("```sql\n")
			b.WriteString(strings.TrimSpace(msg.SQLQuery))
			b.WriteString("\n```\n\n")
		}
		if msg.Table != "" {
			b.WriteString(msg.Table)
			b.WriteString("\n\n")
		}
		if msg.AnalysisStatement != "" {
			b.WriteString("> ")
			b.WriteString(strings.ReplaceAll(strings.TrimSpace(msg.AnalysisStatement), "\n", "\n> "))
			b.WriteString("\n\n")
		}
		switch {
		case msg.AnalysisPlot.Empty():
		case msg.AnalysisPlot.Image != "":
			b.WriteString("![analysis](data:image/png;base64,")
			b.WriteString(msg.AnalysisPlot.Image)
			b.WriteString(")\n\n")
		default:
			b.WriteString(msg.AnalysisPlot.HTMLTag)
			b.WriteString("\n\n")
		}

		b.WriteString("---\n\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func (e *MarkdownExporter) Extension() string {
	return "md"
}

// JSONExporter exports chats in the stored JSON layout
type JSONExporter struct{}

func (e *JSONExporter) Export(sess *models.Session, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sess)
}

func (e *JSONExporter) Extension() string {
	return "json"
}

// YAMLExporter exports chats as YAML
type YAMLExporter struct{}

func (e *YAMLExporter) Export(sess *models.Session, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer func() { _ = enc.Close() }()

	return enc.Encode(sess)
}

func (e *YAMLExporter) Extension() string {
	return "yaml"
}

// Filename returns the default file name for a chat export
func Filename(sess *models.Session, e Exporter) string {
	shortID := sess.ID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	return fmt.Sprintf("chat-%s.%s", shortID, e.Extension())
}

// DatasetFilename is the default name of an exported dataset
const DatasetFilename = "export.csv"

// ParseDataset splits the CSV text returned by the server into rows
func ParseDataset(data string) ([][]string, error) {
	if strings.TrimSpace(data) == "" {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}
	return rows, nil
}

// WriteDataset writes the dataset as CSV. Empty data is an error so that
// callers never create an empty export.
func WriteDataset(w io.Writer, data string) error {
	rows, err := ParseDataset(data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no dataset to export")
	}

	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.Local().Format("Jan 2, 2006 at 3:04 PM")
}
