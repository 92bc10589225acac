package rename

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Case modes for stems.
const (
	CaseKeep  = "keep"
	CaseSmart = "smart"
	CaseTitle = "title"
	CaseLower = "lower"
	CaseUpper = "upper"
)

// Sanitize modes.
const (
	SanitizeDrop       = "drop"
	SanitizeUnderscore = "underscore"
)

// ErrInvalidMode is returned for an unknown case or sanitize mode.
var ErrInvalidMode = errors.New("invalid mode")

var (
	spaceRun = regexp.MustCompile(`\s+`)
	symbols  = regexp.MustCompile("[\"'?!`·•^/\\\\|*<>]+")
)

// Words kept lower case by smart casing unless first or last.
var smallWords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "at": true, "but": true,
	"by": true, "for": true, "from": true, "in": true, "of": true, "on": true,
	"or": true, "the": true, "to": true, "vs": true, "via": true,
}

// Acronyms forced upper case by smart casing.
var acronyms = map[string]bool{
	"PDF": true, "CAD": true, "RF": true, "SDR": true, "STM32": true, "FPGA": true,
	"SAR": true, "GNSS": true, "IOT": true, "CPU": true, "GPU": true, "GPS": true,
	"USB": true, "I2C": true, "SPI": true, "CAN": true, "AI": true, "ML": true,
	"HDR": true, "RAW": true, "DVD": true, "TV": true,
}

// safeRunes are kept by Sanitize alongside letters, digits, marks and spaces.
const safeRunes = "-_.()[]{}@~^+=,&#%!'"

// NormalizeOptions controls stem normalization.
type NormalizeOptions struct {
	Case            string
	KeepSymbols     bool
	KeepUnderscores bool
	ConvertDashes   bool
}

// Validate checks the case mode.
func (o NormalizeOptions) Validate() error {
	switch o.Case {
	case "", CaseKeep, CaseSmart, CaseTitle, CaseLower, CaseUpper:
		return nil
	}
	return fmt.Errorf("%w: case %q", ErrInvalidMode, o.Case)
}

// NormalizeStem applies NFKC, separator conversion, symbol dropping,
// whitespace collapsing and the case mode, in that order.
func NormalizeStem(stem string, o NormalizeOptions) string {
	s := norm.NFKC.String(stem)
	if !o.KeepUnderscores {
		s = strings.ReplaceAll(s, "_", " ")
	}
	if o.ConvertDashes {
		s = strings.ReplaceAll(s, "-", " ")
	}
	if !o.KeepSymbols {
		s = symbols.ReplaceAllString(s, "")
	}
	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))

	switch o.Case {
	case CaseLower:
		return cases.Lower(language.Und).String(s)
	case CaseUpper:
		return cases.Upper(language.Und).String(s)
	case CaseTitle:
		return cases.Title(language.Und).String(s)
	case CaseSmart:
		return SmartCase(s)
	default:
		return s
	}
}

// SmartCase title-cases words, keeps small joining words lower case except
// at either end, and upper-cases known acronyms. Spaces and dashes
// separate words and are preserved.
func SmartCase(s string) string {
	parts := splitKeep(s)
	first, last := -1, -1
	for i, p := range parts {
		if !isSeparator(p) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}

	title := cases.Title(language.Und)
	var b strings.Builder
	for i, p := range parts {
		if isSeparator(p) {
			b.WriteString(p)
			continue
		}
		bare := strings.ToUpper(strings.TrimFunc(p, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		lower := strings.ToLower(p)
		switch {
		case acronyms[bare]:
			b.WriteString(strings.ToUpper(p))
		case i != first && i != last && smallWords[lower]:
			b.WriteString(lower)
		default:
			b.WriteString(title.String(p))
		}
	}
	return b.String()
}

func splitKeep(s string) []string {
	var parts []string
	start := 0
	for i, r := range s {
		if r == ' ' || r == '-' {
			if i > start {
				parts = append(parts, s[start:i])
			}
			parts = append(parts, string(r))
			start = i + 1
		}
	}
	if start < len(s) {
		parts = append(parts, s[start:])
	}
	return parts
}

func isSeparator(p string) bool {
	return p == " " || p == "-"
}

// ApplyExtCase changes the case of an extension: keep, lower or upper.
func ApplyExtCase(ext, mode string) string {
	switch mode {
	case CaseLower:
		return strings.ToLower(ext)
	case CaseUpper:
		return strings.ToUpper(ext)
	default:
		return ext
	}
}

// Sanitize removes characters that are invalid or awkward in file names
// on common filesystems, or replaces them with '_' in underscore mode.
// Runs of whitespace collapse to one space and the result is trimmed.
func Sanitize(name, mode string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case strings.ContainsRune(safeRunes, r):
			b.WriteRune(r)
		case mode == SanitizeUnderscore:
			b.WriteRune('_')
		}
	}
	out := strings.TrimSpace(spaceRun.ReplaceAllString(b.String(), " "))
	// Windows drops trailing dots silently.
	return strings.TrimRight(out, ".")
}
