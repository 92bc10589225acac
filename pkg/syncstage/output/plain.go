package output

import (
	"bytes"
	"strings"
	"text/tabwriter"
)

// PlainFormatter writes the report table aligned with spaces, without
// colors, followed by the summary lines.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	t := TableOf(r)
	if len(t.Rows) > 0 {
		if _, err := tw.Write([]byte(strings.Join(t.Header, "\t") + "\n")); err != nil {
			return err
		}
		for _, row := range t.Rows {
			if _, err := tw.Write([]byte(strings.Join(row, "\t") + "\n")); err != nil {
				return err
			}
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		w.WriteByte('\n')
	}

	for _, field := range SummaryOf(r) {
		if _, err := tw.Write([]byte(field.Label + ":\t" + field.Value + "\n")); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, warning := range r.Warnings {
		w.WriteString("warning: " + warning + "\n")
	}
	if r.Interrupted {
		w.WriteString("interrupted\n")
	}
	return nil
}

func init() {
	Register("plain", func() Formatter { return &PlainFormatter{} })
}

var _ Formatter = (*PlainFormatter)(nil)
