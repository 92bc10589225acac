package output

import "github.com/charmbracelet/lipgloss"

// ANSI 256-color palette shared by the styled formatters.
const (
	ColorPrimary = lipgloss.Color("39")
	ColorSuccess = lipgloss.Color("42")
	ColorWarning = lipgloss.Color("214")
	ColorDanger  = lipgloss.Color("196")
	ColorMuted   = lipgloss.Color("245")
)

// Box styles.
var (
	// HeaderBox frames the command, roots and mode.
	HeaderBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorPrimary).
			Padding(0, 1).
			MarginBottom(1)

	// FooterBox frames the summary fields.
	FooterBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1).
			MarginTop(1)
)

// Text styles.
var (
	TitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	LabelStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	ValueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorWarning)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorDanger)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
)

// TableHeaderStyle is used for table column headers.
var TableHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorMuted)

// cellStyle picks the style of a table cell by its column and content.
// Status and action columns are colored; everything else is plain.
func cellStyle(column, value string) lipgloss.Style {
	switch column {
	case "STATUS":
		switch value {
		case "done", "ADDED":
			return SuccessStyle
		case "would", "MODIFIED":
			return WarningStyle
		case "failed", "REMOVED":
			return ErrorStyle
		default:
			return MutedStyle
		}
	case "ACTION", "ROLE":
		switch value {
		case "delete", "dup":
			return ErrorStyle
		case "hardlink", "move":
			return WarningStyle
		case "keep":
			return SuccessStyle
		default:
			return MutedStyle
		}
	case "SIZE", "GROUP":
		return TitleStyle
	default:
		return ValueStyle
	}
}
