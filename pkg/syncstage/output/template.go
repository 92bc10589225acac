package output

import (
	"bytes"
	"sync"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
)

// TemplateFormatter renders the report through a user text/template.
type TemplateFormatter struct {
	templateStr string
	template    *template.Template
	mu          sync.Mutex
}

// templateData is the template's dot: the report plus computed fields.
type templateData struct {
	*Report
	Table     Table
	Summary   []Field
	PathList  []string
	TotalSize int64
}

// NewTemplateFormatter creates a template formatter for templateStr.
func NewTemplateFormatter(templateStr string) *TemplateFormatter {
	return &TemplateFormatter{templateStr: templateStr}
}

// SetTemplate replaces the template string.
func (f *TemplateFormatter) SetTemplate(templateStr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.templateStr = templateStr
	f.template = nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		// {{date .ModTime "2006-01-02"}}
		"date": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},
		// {{bytes .Size}}
		"bytes": func(size int64) string {
			return humanize.IBytes(uint64(size))
		},
		// {{ago .ModTime}}
		"ago": humanize.Time,
		// {{duration .Scan.Elapsed}}
		"duration": formatDuration,
	}
}

// Format writes the formatted output to the buffer.
func (f *TemplateFormatter) Format(w *bytes.Buffer, r *Report) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.template == nil {
		tmpl, err := template.New("output").Funcs(templateFuncs()).Parse(f.templateStr)
		if err != nil {
			return err
		}
		f.template = tmpl
	}

	return f.template.Execute(w, templateData{
		Report:    r,
		Table:     TableOf(r),
		Summary:   SummaryOf(r),
		PathList:  r.Paths(),
		TotalSize: r.TotalSize(),
	})
}

// defaultTemplate prints the report table tab-separated.
const defaultTemplate = `{{range .Table.Rows}}{{range $i, $c := .}}{{if $i}}	{{end}}{{$c}}{{end}}
{{end}}`

func init() {
	Register("template", func() Formatter { return NewTemplateFormatter(defaultTemplate) })
}

var _ Formatter = (*TemplateFormatter)(nil)
