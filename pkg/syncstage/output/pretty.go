package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// PrettyFormatter renders the report for a terminal: a header box, the
// colored table and a summary box.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")
	w.WriteString(f.formatTable(r))

	if footer := f.formatFooter(r); footer != "" {
		w.WriteString(footer)
		w.WriteString("\n")
	}
	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatWarnings(r.Warnings))
	}
	return nil
}

func (f *PrettyFormatter) formatHeader(r *Report) string {
	lines := []string{TitleStyle.Render(r.Command)}

	if len(r.Roots) > 0 {
		lines = append(lines, LabelStyle.Render("Roots:")+" "+ValueStyle.Render(strings.Join(r.Roots, ", ")))
	}
	if r.DryRun {
		lines = append(lines, WarningStyle.Bold(true).Render("Dry run: nothing will be changed"))
	}
	if r.Interrupted {
		lines = append(lines, WarningStyle.Bold(true).Render("Interrupted by user"))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatTable(r *Report) string {
	t := TableOf(r)
	if len(t.Rows) == 0 {
		return MutedStyle.Render("  Nothing to show") + "\n"
	}

	widths := make([]int, len(t.Header))
	for i, h := range t.Header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.Rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	var sb strings.Builder
	cells := make([]string, len(t.Header))
	for i, h := range t.Header {
		cells[i] = TableHeaderStyle.Render(pad(h, widths[i], i == len(t.Header)-1))
	}
	sb.WriteString("  " + strings.Join(cells, "  ") + "\n")

	for _, row := range t.Rows {
		for i, cell := range row {
			cells[i] = cellStyle(t.Header[i], cell).Render(pad(cell, widths[i], i == len(row)-1))
		}
		sb.WriteString("  " + strings.Join(cells, "  ") + "\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) formatFooter(r *Report) string {
	fields := SummaryOf(r)
	if len(fields) == 0 {
		return ""
	}

	width := 0
	for _, field := range fields {
		width = max(width, len(field.Label))
	}

	lines := make([]string, 0, len(fields))
	for _, field := range fields {
		style := ValueStyle
		if field.Label == "Applied" && r.Apply != nil && r.Apply.Summary.Failed > 0 {
			style = ErrorStyle
		}
		label := LabelStyle.Render(fmt.Sprintf("%-*s", width+1, field.Label+":"))
		lines = append(lines, label+" "+style.Render(field.Value))
	}
	return FooterBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}
	return sb.String()
}

// pad right-pads s to width. The last column is left unpadded.
func pad(s string, width int, last bool) string {
	if last {
		return s
	}
	if n := width - lipgloss.Width(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	sec := d.Seconds()
	if sec < 1 {
		return fmt.Sprintf("%.0fms", sec*1000)
	}
	if sec < 60 {
		return fmt.Sprintf("%.1fs", sec)
	}
	minutes := int(sec) / 60
	seconds := int(sec) % 60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

func init() {
	Register("pretty", func() Formatter { return &PrettyFormatter{} })
}

var _ Formatter = (*PrettyFormatter)(nil)
