package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"helixmind/internal/permission"
)

// permissionRequestMsg asks the UI to decide one tool call. The agent
// goroutine blocks on Reply until Update answers; Reply is buffered so the
// UI never blocks sending the decision.
type permissionRequestMsg struct {
	Tool  string
	Input string
	Reply chan permission.Decision
}

// Asker routes gate prompts into the running program. It satisfies
// permission.Asker once bound; before Bind every prompt is denied because
// there is no UI to ask.
type Asker struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

func NewAsker() *Asker { return &Asker{} }

func (a *Asker) Bind(send func(tea.Msg)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.send = send
}

func (a *Asker) Ask(tool, input string) permission.Decision {
	a.mu.Lock()
	send := a.send
	a.mu.Unlock()
	if send == nil {
		return permission.Deny
	}
	reply := make(chan permission.Decision, 1)
	send(permissionRequestMsg{Tool: tool, Input: input, Reply: reply})
	return <-reply
}
