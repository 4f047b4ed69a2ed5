package tui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

type ThemeName string

const (
	ThemeDusk  ThemeName = "dusk"
	ThemePaper ThemeName = "paper"
)

// Theme holds the palette and the derived styles the shell renders with.
type Theme struct {
	Name ThemeName

	TextPrimary lipgloss.AdaptiveColor
	TextMuted   lipgloss.AdaptiveColor
	TextFaint   lipgloss.AdaptiveColor

	Accent   lipgloss.AdaptiveColor
	Success  lipgloss.AdaptiveColor
	Warn     lipgloss.AdaptiveColor
	Error    lipgloss.AdaptiveColor
	Border   lipgloss.AdaptiveColor
	BorderHi lipgloss.AdaptiveColor

	TopBarTitle lipgloss.Style
	TopBarBadge lipgloss.Style
	TopBarMeta  lipgloss.Style
	Footer      lipgloss.Style
	InputBox    lipgloss.Style
	Spinner     lipgloss.Style

	RoleYou lipgloss.Style
	RoleAI  lipgloss.Style
	RoleSys lipgloss.Style
	RoleErr lipgloss.Style

	TraceOK      lipgloss.Style
	TraceERR     lipgloss.Style
	TraceNeutral lipgloss.Style
	PromptSel    lipgloss.Style
}

// NewTheme picks the theme from HELIX_THEME, falling back to dusk.
// HELIX_NO_COLOR=1 strips the palette for dumb terminals and logs.
func NewTheme() Theme {
	if os.Getenv("HELIX_NO_COLOR") == "1" {
		return newMonoTheme()
	}
	switch ThemeName(os.Getenv("HELIX_THEME")) {
	case ThemePaper:
		return newPaperTheme()
	default:
		return newDuskTheme()
	}
}

func newDuskTheme() Theme {
	t := Theme{
		Name:        ThemeDusk,
		TextPrimary: lipgloss.AdaptiveColor{Light: "#1d2433", Dark: "#ececec"},
		TextMuted:   lipgloss.AdaptiveColor{Light: "#4a5568", Dark: "#b8bcc4"},
		TextFaint:   lipgloss.AdaptiveColor{Light: "#718096", Dark: "#8a8f99"},

		Accent:   lipgloss.AdaptiveColor{Light: "#1f6feb", Dark: "#7aa2ff"},
		Success:  lipgloss.AdaptiveColor{Light: "#0f766e", Dark: "#46d1b7"},
		Warn:     lipgloss.AdaptiveColor{Light: "#b45309", Dark: "#f4b27d"},
		Error:    lipgloss.AdaptiveColor{Light: "#b42318", Dark: "#ff7a7a"},
		Border:   lipgloss.AdaptiveColor{Light: "#cbd5e0", Dark: "#3a3a3a"},
		BorderHi: lipgloss.AdaptiveColor{Light: "#1f6feb", Dark: "#7aa2ff"},
	}
	return t.derive()
}

func newPaperTheme() Theme {
	t := Theme{
		Name:        ThemePaper,
		TextPrimary: lipgloss.AdaptiveColor{Light: "#111827", Dark: "#f5f1e8"},
		TextMuted:   lipgloss.AdaptiveColor{Light: "#374151", Dark: "#cfc9bc"},
		TextFaint:   lipgloss.AdaptiveColor{Light: "#6b7280", Dark: "#a49e91"},

		Accent:   lipgloss.AdaptiveColor{Light: "#b45309", Dark: "#e8a75d"},
		Success:  lipgloss.AdaptiveColor{Light: "#059669", Dark: "#6fbf9a"},
		Warn:     lipgloss.AdaptiveColor{Light: "#d97706", Dark: "#e8a75d"},
		Error:    lipgloss.AdaptiveColor{Light: "#dc2626", Dark: "#e07a6a"},
		Border:   lipgloss.AdaptiveColor{Light: "#9ca3af", Dark: "#4a453c"},
		BorderHi: lipgloss.AdaptiveColor{Light: "#b45309", Dark: "#e8a75d"},
	}
	return t.derive()
}

func newMonoTheme() Theme {
	t := Theme{
		Name:        "mono",
		TextPrimary: lipgloss.AdaptiveColor{Light: "#000000", Dark: "#ffffff"},
		TextMuted:   lipgloss.AdaptiveColor{Light: "#333333", Dark: "#dddddd"},
		TextFaint:   lipgloss.AdaptiveColor{Light: "#555555", Dark: "#bbbbbb"},
		Accent:      lipgloss.AdaptiveColor{Light: "#000000", Dark: "#ffffff"},
		Success:     lipgloss.AdaptiveColor{Light: "#000000", Dark: "#ffffff"},
		Warn:        lipgloss.AdaptiveColor{Light: "#000000", Dark: "#ffffff"},
		Error:       lipgloss.AdaptiveColor{Light: "#000000", Dark: "#ffffff"},
		Border:      lipgloss.AdaptiveColor{Light: "#555555", Dark: "#777777"},
		BorderHi:    lipgloss.AdaptiveColor{Light: "#000000", Dark: "#ffffff"},
	}
	return t.derive()
}

func (t Theme) derive() Theme {
	t.TopBarTitle = lipgloss.NewStyle().Bold(true).Foreground(t.TextPrimary)
	t.TopBarBadge = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	t.TopBarMeta = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.Footer = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.InputBox = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(t.Border).Padding(0, 1)
	t.Spinner = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)

	t.RoleYou = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	t.RoleAI = lipgloss.NewStyle().Bold(true).Foreground(t.TextPrimary)
	t.RoleSys = lipgloss.NewStyle().Foreground(t.TextMuted)
	t.RoleErr = lipgloss.NewStyle().Bold(true).Foreground(t.Error)

	t.TraceOK = lipgloss.NewStyle().Foreground(t.Success)
	t.TraceERR = lipgloss.NewStyle().Foreground(t.Error)
	t.TraceNeutral = lipgloss.NewStyle().Foreground(t.TextFaint)
	t.PromptSel = lipgloss.NewStyle().Bold(true).Foreground(t.Accent)
	return t
}
