// Package permission gates tool execution on user approval.
package permission

import "sync"

type Decision int

const (
	Deny Decision = iota
	AllowOnce
	AllowAlways
)

// Asker prompts the user for one tool call and returns their decision. A nil
// Asker means nobody can be asked, so anything that needs a prompt is denied.
type Asker func(tool, input string) Decision

// AutoApprove answers every prompt with AllowOnce. Remote-driven sessions
// install it; starting the serve mode is the operator's standing approval.
func AutoApprove(string, string) Decision { return AllowOnce }

// Gate decides tool calls for one session. Skip-all waves non-dangerous
// tools through; tools in the dangerous set prompt every time regardless.
type Gate struct {
	mu        sync.Mutex
	skipAll   bool
	dangerous map[string]bool
	always    map[string]bool
	asker     Asker
}

func NewGate(dangerous []string, asker Asker) *Gate {
	set := make(map[string]bool, len(dangerous))
	for _, name := range dangerous {
		set[name] = true
	}
	return &Gate{dangerous: set, asker: asker}
}

func (g *Gate) SetSkipAll(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.skipAll = v
}

func (g *Gate) SkipAll() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.skipAll
}

// IsAllowed reports whether the tool call may run, prompting if needed.
func (g *Gate) IsAllowed(tool, input string) bool {
	g.mu.Lock()
	dangerous := g.dangerous[tool]
	if !dangerous {
		if g.always[tool] || g.skipAll {
			g.mu.Unlock()
			return true
		}
	}
	asker := g.asker
	g.mu.Unlock()

	if asker == nil {
		return false
	}
	switch asker(tool, input) {
	case AllowOnce:
		return true
	case AllowAlways:
		// Dangerous tools are re-asked every time; "always" only sticks
		// for the rest.
		if !dangerous {
			g.mu.Lock()
			if g.always == nil {
				g.always = make(map[string]bool)
			}
			g.always[tool] = true
			g.mu.Unlock()
		}
		return true
	default:
		return false
	}
}
