// Package rename plans file renames from a token template.
//
// A template mixes literal text with tokens:
//
//	{stem}              file name without its extension
//	{ext}               extension including the leading dot, or ""
//	{parent}            name of the containing directory
//	{created:<fmt>}     creation time as strftime, default %Y-%m-%d
//	{modified:<fmt>}    modification time as strftime, default %Y-%m-%d
//	{counter}           collision counter, starting at 1, zero padded
//
// Templates are compiled before any file is looked at, so a typo fails
// the run up front.
package rename

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"

	serrors "github.com/ysasiwat/syncstage/pkg/syncstage/errors"
	"github.com/ysasiwat/syncstage/pkg/syncstage/types"
)

// DefaultDateFormat is used by {created} and {modified} without a format.
const DefaultDateFormat = "%Y-%m-%d"

type tokenKind int

const (
	tokLiteral tokenKind = iota
	tokStem
	tokExt
	tokParent
	tokCreated
	tokModified
	tokCounter
)

type token struct {
	kind    tokenKind
	literal string
	format  *strftime.Strftime
}

// Template is a compiled rename template. It is immutable and safe for
// concurrent use.
type Template struct {
	raw        string
	tokens     []token
	hasCounter bool
	hasExt     bool
}

// Compile parses a template. Unknown tokens, unbalanced braces, arguments
// on tokens that take none and invalid date formats are template errors.
func Compile(tmpl string) (*Template, error) {
	if strings.TrimSpace(tmpl) == "" {
		return nil, serrors.Template(tmpl, "template is empty")
	}

	t := &Template{raw: tmpl}
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.tokens = append(t.tokens, token{kind: tokLiteral, literal: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(tmpl); i++ {
		switch c := tmpl[i]; c {
		case '}':
			return nil, serrors.Template(tmpl, "unmatched '}' at offset %d", i)
		case '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return nil, serrors.Template(tmpl, "unclosed '{' at offset %d", i)
			}
			body := tmpl[i+1 : i+1+end]
			if strings.ContainsRune(body, '{') {
				return nil, serrors.Template(tmpl, "nested '{' at offset %d", i)
			}
			tok, err := parseToken(tmpl, body)
			if err != nil {
				return nil, err
			}
			flush()
			t.tokens = append(t.tokens, tok)
			switch tok.kind {
			case tokCounter:
				t.hasCounter = true
			case tokExt:
				t.hasExt = true
			}
			i += end + 1
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return t, nil
}

func parseToken(tmpl, body string) (token, error) {
	name, arg, hasArg := strings.Cut(body, ":")
	noArg := func(kind tokenKind) (token, error) {
		if hasArg {
			return token{}, serrors.Template(tmpl, "{%s} takes no argument", name)
		}
		return token{kind: kind}, nil
	}

	switch name {
	case "stem":
		return noArg(tokStem)
	case "ext":
		return noArg(tokExt)
	case "parent":
		return noArg(tokParent)
	case "counter":
		return noArg(tokCounter)
	case "created", "modified":
		kind := tokCreated
		if name == "modified" {
			kind = tokModified
		}
		layout := DefaultDateFormat
		if hasArg {
			if arg == "" {
				return token{}, serrors.Template(tmpl, "{%s:} has an empty format", name)
			}
			layout = arg
		}
		f, err := strftime.New(layout)
		if err != nil {
			return token{}, serrors.Template(tmpl, "{%s}: %v", name, err)
		}
		return token{kind: kind, format: f}, nil
	case "":
		return token{}, serrors.Template(tmpl, "empty token {}")
	default:
		return token{}, serrors.Template(tmpl, "unknown token {%s}", name)
	}
}

// String returns the template source.
func (t *Template) String() string { return t.raw }

// HasCounter reports whether the template contains {counter}.
func (t *Template) HasCounter() bool { return t.hasCounter }

// HasExt reports whether the template contains {ext}.
func (t *Template) HasExt() bool { return t.hasExt }

// Render expands the template for rec. counter is only used by {counter}
// and is zero padded to pad digits.
func (t *Template) Render(rec types.FileRecord, counter, pad int) string {
	stem, ext := SplitExt(rec.Name())
	var b strings.Builder
	for _, tok := range t.tokens {
		switch tok.kind {
		case tokLiteral:
			b.WriteString(tok.literal)
		case tokStem:
			b.WriteString(stem)
		case tokExt:
			b.WriteString(ext)
		case tokParent:
			b.WriteString(parentName(rec))
		case tokCreated:
			b.WriteString(tok.format.FormatString(timeOrEpoch(rec.CreateTime)))
		case tokModified:
			b.WriteString(tok.format.FormatString(timeOrEpoch(rec.ModTime)))
		case tokCounter:
			b.WriteString(PadCounter(counter, pad))
		}
	}
	return b.String()
}

// PadCounter formats n with at least pad digits.
func PadCounter(n, pad int) string {
	return fmt.Sprintf("%0*d", max(pad, 1), n)
}

// SplitExt splits a file name into stem and extension. Only the last dot
// counts, and a leading dot belongs to the stem: ".bashrc" has no
// extension and "archive.tar.gz" has ".gz".
func SplitExt(name string) (stem, ext string) {
	idx := strings.LastIndexByte(name, '.')
	if idx <= 0 {
		return name, ""
	}
	return name[:idx], name[idx:]
}

func parentName(rec types.FileRecord) string {
	dir := rec.Dir()
	if dir == "." {
		return path.Base(strings.TrimSuffix(toSlash(rec.Root), "/"))
	}
	return path.Base(dir)
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func timeOrEpoch(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0)
	}
	return t
}

// quote is used in skip reasons.
func quote(s string) string { return strconv.Quote(s) }
