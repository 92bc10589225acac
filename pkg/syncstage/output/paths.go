package output

import "bytes"

// PathsFormatter writes one path per line. See Report.Paths for which
// paths a report lists.
type PathsFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PathsFormatter) Format(w *bytes.Buffer, r *Report) error {
	for _, p := range r.Paths() {
		w.WriteString(p)
		w.WriteByte('\n')
	}
	return nil
}

// NullFormatter writes NUL-terminated paths for xargs -0.
type NullFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *NullFormatter) Format(w *bytes.Buffer, r *Report) error {
	for _, p := range r.Paths() {
		w.WriteString(p)
		w.WriteByte(0)
	}
	return nil
}

func init() {
	Register("paths", func() Formatter { return &PathsFormatter{} })
	Register("null", func() Formatter { return &NullFormatter{} })
}

var (
	_ Formatter = (*PathsFormatter)(nil)
	_ Formatter = (*NullFormatter)(nil)
)
