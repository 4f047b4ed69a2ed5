package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"helixmind/internal/permission"
)

const (
	choiceAllowOnce = iota
	choiceAllowAlways
	choiceDeny
	choiceCount
)

func decisionFor(choice int) permission.Decision {
	switch choice {
	case choiceAllowOnce:
		return permission.AllowOnce
	case choiceAllowAlways:
		return permission.AllowAlways
	default:
		return permission.Deny
	}
}

func (m *Model) renderPermissionPrompt() string {
	if m.pending == nil {
		return ""
	}

	width := m.width - 4
	if width < 30 {
		width = 30
	}

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(m.theme.Warn)
	hintStyle := lipgloss.NewStyle().Foreground(m.theme.TextFaint)
	rowStyle := lipgloss.NewStyle().Foreground(m.theme.TextPrimary)
	metaStyle := lipgloss.NewStyle().Foreground(m.theme.TextMuted)

	row := func(idx int, text string) string {
		prefix := "  "
		style := rowStyle
		if idx == m.pendingChoice {
			prefix = "› "
			style = m.theme.PromptSel
		}
		return style.Render(prefix + text)
	}

	action := strings.TrimSpace(m.pending.Tool + " " + m.pending.Input)
	action = truncate.StringWithTail(action, uint(width), "…")

	var b strings.Builder
	b.WriteString(titleStyle.Render("Tool approval"))
	b.WriteString("\n")
	b.WriteString(metaStyle.Render(action))
	b.WriteString("\n\n")
	b.WriteString(row(choiceAllowOnce, "1. Allow once"))
	b.WriteString("\n")
	b.WriteString(row(choiceAllowAlways, "2. Allow for this session"))
	b.WriteString("\n")
	b.WriteString(row(choiceDeny, "3. Deny"))
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("↑/↓ or 1-3 choose  •  enter confirm  •  esc deny"))

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.theme.BorderHi).
		Padding(0, 1).
		Width(width).
		Render(b.String())
}

// answerPending resolves the active prompt and clears the modal. The agent
// goroutine is parked on the reply channel, so this must send exactly once.
func (m *Model) answerPending(d permission.Decision) {
	if m.pending == nil {
		return
	}
	m.pending.Reply <- d
	m.pending = nil
	m.pendingChoice = choiceAllowOnce
	verdict := "denied"
	if d != permission.Deny {
		verdict = "allowed"
	}
	m.appendEntry(entry{kind: entrySystem, text: fmt.Sprintf("permission %s", verdict)})
}
