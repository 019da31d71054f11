package console

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds the colour values used for console output.
type Theme struct {
	Name string

	Accent  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color

	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Dim       lipgloss.Color
}

// DarkTheme is the default theme.
var DarkTheme = Theme{
	Name:      "dark",
	Accent:    lipgloss.Color("#f97316"),
	Success:   lipgloss.Color("#22c55e"),
	Warning:   lipgloss.Color("#eab308"),
	Error:     lipgloss.Color("#ef4444"),
	Primary:   lipgloss.Color("#e0e0e8"),
	Secondary: lipgloss.Color("#888888"),
	Dim:       lipgloss.Color("#5a5a70"),
}

// LightTheme is for light terminal backgrounds.
var LightTheme = Theme{
	Name:      "light",
	Accent:    lipgloss.Color("#c2410c"),
	Success:   lipgloss.Color("#15803d"),
	Warning:   lipgloss.Color("#a16207"),
	Error:     lipgloss.Color("#b91c1c"),
	Primary:   lipgloss.Color("#0f172a"),
	Secondary: lipgloss.Color("#374151"),
	Dim:       lipgloss.Color("#4b5563"),
}

// DetectTheme picks a theme from the flag value, STAGERUN_THEME, or the
// COLORFGBG terminal hint, defaulting to dark.
func DetectTheme(flagVal string) Theme {
	switch strings.ToLower(flagVal) {
	case "dark":
		return DarkTheme
	case "light":
		return LightTheme
	}

	switch strings.ToLower(os.Getenv("STAGERUN_THEME")) {
	case "dark":
		return DarkTheme
	case "light":
		return LightTheme
	}

	// COLORFGBG is "fg;bg"; backgrounds 7 and 15 are light.
	if colorfgbg := os.Getenv("COLORFGBG"); colorfgbg != "" {
		parts := strings.Split(colorfgbg, ";")
		if len(parts) >= 2 {
			bg := parts[len(parts)-1]
			if bg == "15" || bg == "7" {
				return LightTheme
			}
		}
	}

	return DarkTheme
}

// StyleSet holds the styles derived from a theme for one renderer.
type StyleSet struct {
	Theme Theme

	Command    lipgloss.Style
	Banner     lipgloss.Style
	Counter    lipgloss.Style
	StageName  lipgloss.Style
	DimTxt     lipgloss.Style
	SuccessTxt lipgloss.Style
	WarningTxt lipgloss.Style
	ErrorTxt   lipgloss.Style
	Heading    lipgloss.Style
}

// NewStyleSet creates the styles for theme bound to renderer r, so colour
// support is decided by the writer r was created for.
func NewStyleSet(r *lipgloss.Renderer, theme Theme) *StyleSet {
	return &StyleSet{
		Theme: theme,

		Command:    r.NewStyle().Foreground(theme.Primary),
		Banner:     r.NewStyle().Foreground(theme.Accent).Bold(true),
		Counter:    r.NewStyle().Foreground(theme.Dim),
		StageName:  r.NewStyle().Foreground(theme.Primary).Bold(true),
		DimTxt:     r.NewStyle().Foreground(theme.Dim),
		SuccessTxt: r.NewStyle().Foreground(theme.Success),
		WarningTxt: r.NewStyle().Foreground(theme.Warning),
		ErrorTxt:   r.NewStyle().Foreground(theme.Error).Bold(true),
		Heading:    r.NewStyle().Foreground(theme.Secondary).Bold(true),
	}
}
