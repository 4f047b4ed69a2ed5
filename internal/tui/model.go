// Package tui is the interactive terminal shell. One bubbletea model owns a
// single local session and streams agent output into a scrollback viewport;
// tool calls surface as trace lines and permission prompts as a modal.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"helixmind/internal/agent"
	"helixmind/internal/chat"
	"helixmind/internal/permission"
	"helixmind/internal/session"
	"helixmind/internal/tools"
)

// Options wires the shell to the rest of the application. The handler owns
// the turn pipeline; the shell only supplies callbacks and the asker.
type Options struct {
	Handler *chat.Handler
	Asker   *Asker
	Version string
}

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entrySystem
	entryError
	entryTool
)

type entry struct {
	kind entryKind
	text string
}

// Messages delivered into the update loop. Chunk and tool messages arrive
// from the agent goroutine via program.Send while a turn is running.
type (
	chunkMsg     struct{ text string }
	toolStartMsg struct {
		step  int
		name  string
		input string
	}
	toolEndMsg struct {
		step   int
		name   string
		result tools.Result
	}
	turnDoneMsg struct{ res agent.Result }
)

type Model struct {
	opts  Options
	theme Theme
	keys  keyMap

	input    textarea.Model
	view     viewport.Model
	spin     spinner.Model
	markdown *MarkdownRenderer

	chatID string
	sess   *session.Session

	entries   []entry
	stream    string
	openTools map[int]int

	pending       *permissionRequestMsg
	pendingChoice int

	loading bool
	ready   bool
	width   int
	height  int

	send func(tea.Msg)
}

func NewModel(opts Options) *Model {
	if opts.Version == "" {
		opts.Version = "dev"
	}
	theme := NewTheme()

	ta := textarea.New()
	ta.Placeholder = "Ask Helix anything... (Enter to send)"
	ta.Focus()
	ta.CharLimit = 8000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.Prompt = "▍ "
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()
	ta.FocusedStyle.Placeholder = lipgloss.NewStyle().Foreground(theme.TextFaint)
	ta.BlurredStyle.Placeholder = lipgloss.NewStyle().Foreground(theme.TextFaint)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Spinner

	chatID := "local-" + uuid.NewString()[:8]

	return &Model{
		opts:      opts,
		theme:     theme,
		keys:      defaultKeyMap(),
		input:     ta,
		view:      viewport.New(80, 20),
		spin:      sp,
		markdown:  NewMarkdownRenderer(76),
		chatID:    chatID,
		sess:      opts.Handler.Registry.GetOrCreate(chatID),
		openTools: make(map[int]int),
	}
}

// Run boots the program in the alternate screen and blocks until quit.
func Run(opts Options) error {
	m := NewModel(opts)
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.send = p.Send
	if opts.Asker != nil {
		opts.Asker.Bind(p.Send)
	}
	_, err := p.Run()
	return err
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spin.Tick)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(msg.Width - 6)
		vpHeight := msg.Height - 9
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.view = viewport.New(msg.Width-2, vpHeight)
			m.ready = true
		} else {
			m.view.Width = msg.Width - 2
			m.view.Height = vpHeight
		}
		m.markdown.SetWidth(msg.Width - 8)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if m.pending != nil {
			return m.updatePermission(msg)
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.loading {
				m.sess.Abort()
			}
			return m, tea.Quit

		case key.Matches(msg, m.keys.Abort):
			if m.loading {
				if m.sess.Abort() {
					m.appendEntry(entry{kind: entrySystem, text: "aborting turn"})
				}
			}
			return m, nil

		case key.Matches(msg, m.keys.Clear):
			m.entries = nil
			m.refresh()
			return m, nil

		case key.Matches(msg, m.keys.Enter):
			if m.loading {
				return m, nil
			}
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			if strings.HasPrefix(text, "/") {
				return m.runCommand(text)
			}
			m.appendEntry(entry{kind: entryUser, text: text})
			m.loading = true
			m.stream = ""
			return m, tea.Batch(m.spin.Tick, m.startTurn(text))
		}

	case spinner.TickMsg:
		if m.loading {
			var cmd tea.Cmd
			m.spin, cmd = m.spin.Update(msg)
			return m, cmd
		}
		return m, nil

	case permissionRequestMsg:
		req := msg
		m.pending = &req
		m.pendingChoice = choiceAllowOnce
		return m, nil

	case chunkMsg:
		m.stream += msg.text
		m.refresh()
		return m, nil

	case toolStartMsg:
		line := m.theme.TraceNeutral.Render(fmt.Sprintf("⚙ %s (step %d) …", msg.name, msg.step))
		m.entries = append(m.entries, entry{kind: entryTool, text: line})
		m.openTools[msg.step] = len(m.entries) - 1
		m.refresh()
		return m, nil

	case toolEndMsg:
		line := m.traceLine(msg)
		if idx, ok := m.openTools[msg.step]; ok {
			m.entries[idx].text = line
			delete(m.openTools, msg.step)
		} else {
			m.entries = append(m.entries, entry{kind: entryTool, text: line})
		}
		m.refresh()
		return m, nil

	case turnDoneMsg:
		m.loading = false
		m.stream = ""
		switch msg.res.Outcome {
		case agent.OutcomeCompleted:
			m.appendEntry(entry{kind: entryAssistant, text: msg.res.Answer})
		case agent.OutcomeAborted:
			if msg.res.Answer != "" {
				m.appendEntry(entry{kind: entryAssistant, text: msg.res.Answer})
			}
			m.appendEntry(entry{kind: entrySystem, text: "turn aborted"})
		default:
			text := "turn failed"
			if msg.res.Err != nil {
				text = msg.res.Err.Error()
			}
			m.appendEntry(entry{kind: entryError, text: text})
		}
		return m, nil
	}

	if !m.loading {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	var cmd tea.Cmd
	m.view, cmd = m.view.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *Model) updatePermission(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.pendingChoice > 0 {
			m.pendingChoice--
		}
	case "down", "j", "tab":
		if m.pendingChoice < choiceCount-1 {
			m.pendingChoice++
		}
	case "1":
		m.pendingChoice = choiceAllowOnce
		m.answerPending(decisionFor(m.pendingChoice))
	case "2":
		m.pendingChoice = choiceAllowAlways
		m.answerPending(decisionFor(m.pendingChoice))
	case "3", "esc":
		m.answerPending(permission.Deny)
	case "enter":
		m.answerPending(decisionFor(m.pendingChoice))
	case "ctrl+c":
		m.answerPending(permission.Deny)
		m.sess.Abort()
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) traceLine(msg toolEndMsg) string {
	if msg.result.Status == tools.StatusError {
		detail := msg.result.Err
		if len(detail) > 80 {
			detail = detail[:80] + "…"
		}
		return m.theme.TraceERR.Render(fmt.Sprintf("✗ %s (step %d): %s", msg.name, msg.step, detail))
	}
	return m.theme.TraceOK.Render(fmt.Sprintf("✓ %s (step %d, %dms)", msg.name, msg.step, msg.result.DurationMs))
}

func (m *Model) appendEntry(e entry) {
	m.entries = append(m.entries, e)
	m.refresh()
}

func (m *Model) refresh() {
	m.view.SetContent(m.renderTranscript())
	m.view.GotoBottom()
}

func (m *Model) renderTranscript() string {
	var b strings.Builder
	for _, e := range m.entries {
		switch e.kind {
		case entryUser:
			b.WriteString(m.theme.RoleYou.Render("You"))
			b.WriteString("\n")
			b.WriteString(e.text)
			b.WriteString("\n\n")
		case entryAssistant:
			b.WriteString(m.theme.RoleAI.Render("Helix"))
			b.WriteString("\n")
			b.WriteString(m.markdown.Render(e.text))
			b.WriteString("\n")
		case entryTool:
			b.WriteString(e.text)
			b.WriteString("\n")
		case entrySystem:
			b.WriteString(m.theme.RoleSys.Render("• " + e.text))
			b.WriteString("\n")
		case entryError:
			b.WriteString(m.theme.RoleErr.Render("Error: " + e.text))
			b.WriteString("\n\n")
		}
	}
	if m.stream != "" {
		b.WriteString(m.theme.RoleAI.Render("Helix"))
		b.WriteString("\n")
		b.WriteString(m.stream)
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) View() string {
	if !m.ready {
		return "Starting..."
	}

	var parts []string
	parts = append(parts, m.renderHeader())
	parts = append(parts, m.view.View())
	if m.loading {
		parts = append(parts, m.spin.View()+m.theme.TopBarMeta.Render(" working… (esc to abort)"))
	}
	if m.pending != nil {
		parts = append(parts, m.renderPermissionPrompt())
	}
	parts = append(parts, m.theme.InputBox.Width(m.width-2).Render(m.input.View()))
	parts = append(parts, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *Model) renderHeader() string {
	id := m.opts.Handler.Executor.Identity()
	title := m.theme.TopBarTitle.Render("Helix")
	badge := m.theme.TopBarBadge.Render(m.opts.Version)
	meta := m.theme.TopBarMeta.Render(fmt.Sprintf("%s · %s · %s", id.Provider, id.Model, m.opts.Handler.WorkDir))
	return lipgloss.JoinHorizontal(lipgloss.Center, title, " ", badge, "  ", meta)
}

func (m *Model) renderFooter() string {
	return m.theme.Footer.Render("enter send • esc abort • ctrl+l clear • /help commands • ctrl+c quit")
}

// startTurn runs one agent turn off the update loop. Streaming output and
// tool activity come back through program.Send; the final result arrives as
// turnDoneMsg.
func (m *Model) startTurn(text string) tea.Cmd {
	h := m.opts.Handler
	chatID := m.chatID
	send := m.send

	return func() tea.Msg {
		res := h.RunTurn(context.Background(), chatID, text, agent.Callbacks{
			OnTextChunk: func(_ string, chunk string) {
				send(chunkMsg{text: chunk})
			},
			OnToolStart: func(_ string, step int, name, input string) {
				send(toolStartMsg{step: step, name: name, input: input})
			},
			OnToolEnd: func(_ string, step int, name string, r tools.Result) {
				send(toolEndMsg{step: step, name: name, result: r})
			},
		})
		return turnDoneMsg{res: res}
	}
}

func clipText(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
