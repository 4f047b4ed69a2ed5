package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"helixmind/internal/bugs"
)

const helpText = `## Commands

| Command | Description |
|---------|-------------|
| /help | Show this help |
| /clear | Clear the transcript |
| /bugs | List recorded bugs |
| /findings | List security findings |
| /undo [n] | Revert the last n file changes |
| /quit | Exit |

## Keys
- **Enter** send, **Esc** abort the running turn
- **Ctrl+L** clear, **Ctrl+C** quit
`

func (m *Model) runCommand(input string) (tea.Model, tea.Cmd) {
	parts := strings.Fields(input)
	switch parts[0] {
	case "/quit", "/exit", "/q":
		return m, tea.Quit

	case "/clear":
		m.entries = nil
		m.refresh()
		return m, nil

	case "/help":
		m.appendEntry(entry{kind: entryAssistant, text: helpText})
		return m, nil

	case "/bugs":
		m.appendEntry(entry{kind: entryAssistant, text: m.journalReport(bugs.KindBug, "bugs")})
		return m, nil

	case "/findings":
		m.appendEntry(entry{kind: entryAssistant, text: m.journalReport(bugs.KindFinding, "findings")})
		return m, nil

	case "/undo":
		n := 1
		if len(parts) > 1 {
			parsed, err := strconv.Atoi(parts[1])
			if err != nil || parsed < 1 {
				m.appendEntry(entry{kind: entryError, text: "usage: /undo [n]"})
				return m, nil
			}
			n = parsed
		}
		reverted, err := m.sess.Undo().Undo(n)
		if err != nil {
			m.appendEntry(entry{kind: entryError, text: fmt.Sprintf("undo stopped after %d: %v", reverted, err)})
			return m, nil
		}
		m.appendEntry(entry{kind: entrySystem, text: fmt.Sprintf("reverted %d file change(s)", reverted)})
		return m, nil

	default:
		m.appendEntry(entry{kind: entryError, text: fmt.Sprintf("unknown command %s, try /help", parts[0])})
		return m, nil
	}
}

func (m *Model) journalReport(kind, label string) string {
	if m.opts.Handler.Journal == nil {
		return fmt.Sprintf("no %s journal configured", label)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	entries, err := m.opts.Handler.Journal.List(ctx, kind, 20)
	if err != nil {
		return fmt.Sprintf("could not read %s: %v", label, err)
	}
	if len(entries) == 0 {
		return fmt.Sprintf("No %s recorded yet.", label)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Recorded %s\n\n", label)
	for _, e := range entries {
		fmt.Fprintf(&b, "- **[%s]** %s", e.Severity, e.Title)
		if e.Detail != "" {
			fmt.Fprintf(&b, ": %s", clipText(e.Detail, 120))
		}
		b.WriteString("\n")
	}
	return b.String()
}
