package importer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// ProgressCallback defines the interface for progress reporting
type ProgressCallback interface {
	Update(title string)
	Finish()
}

// ProgressReporter handles progress feedback during import
type ProgressReporter struct {
	writer    io.Writer
	total     int
	current   int
	startTime time.Time
}

// NewProgressReporter creates a new progress reporter
func NewProgressReporter(w io.Writer, total int) *ProgressReporter {
	return &ProgressReporter{
		writer:    w,
		total:     total,
		startTime: time.Now(),
	}
}

// Update advances the progress bar and shows the chat being imported
func (p *ProgressReporter) Update(title string) {
	p.current++
	total := p.total
	if total < p.current {
		total = p.current
	}

	pct := float64(p.current) / float64(total) * 100

	// Draw progress bar (30 chars wide)
	barWidth := 30
	filled := barWidth * p.current / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	// Truncate display text to fit terminal
	displayText := runewidth.Truncate(strings.Join(strings.Fields(title), " "), 50, "...")

	_, _ = fmt.Fprintf(p.writer, "\r[%s] %3.0f%% (%d/%d) %s", bar, pct, p.current, total,
		runewidth.FillRight(displayText, 50))
}

// Finish completes the progress display
func (p *ProgressReporter) Finish() {
	elapsed := time.Since(p.startTime)
	_, _ = fmt.Fprintf(p.writer, "\nCompleted: Processed %d chats in %s\n", p.current, elapsed.Round(time.Millisecond))
}
