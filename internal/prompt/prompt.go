// Package prompt assembles the system prompt for a turn. Assemble is a pure
// function of its inputs so the same context always yields the same prompt.
package prompt

import (
	"fmt"
	"strings"

	"helixmind/internal/memory"
	"helixmind/internal/project"
)

// Identity names the backing provider and model.
type Identity struct {
	Provider string
	Model    string
}

const basePrompt = `You are Helix, a coding agent that works inside the user's workspace.
Be direct and concrete. Prefer reading files and running commands over guessing.
When you change files, make the smallest change that solves the problem.`

// Assemble builds the system prompt from whatever context is available.
// Every input except the identity may be absent; missing pieces are simply
// skipped and the base prompt guarantees the result is never empty.
func Assemble(proj *project.Info, mem memory.QueryResult, summary string, id Identity, bugSummary string) string {
	sections := []string{basePrompt}

	if id.Provider != "" || id.Model != "" {
		sections = append(sections, fmt.Sprintf("Backend: %s (%s)", id.Provider, id.Model))
	}

	if proj != nil {
		var b strings.Builder
		b.WriteString("## Workspace\n")
		fmt.Fprintf(&b, "Project: %s\n", proj.Name)
		fmt.Fprintf(&b, "Root: %s\n", proj.Root)
		if proj.Language != "" {
			fmt.Fprintf(&b, "Language: %s\n", proj.Language)
		}
		if proj.VCS != "" {
			fmt.Fprintf(&b, "VCS: %s\n", proj.VCS)
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if len(mem.Entries) > 0 {
		var b strings.Builder
		b.WriteString("## Memory\n")
		b.WriteString("Relevant notes from earlier sessions:\n")
		for _, e := range mem.Entries {
			fmt.Fprintf(&b, "- [%s] %s\n", e.Kind, e.Text)
		}
		sections = append(sections, strings.TrimRight(b.String(), "\n"))
	}

	if strings.TrimSpace(summary) != "" {
		sections = append(sections, "## Earlier in this conversation\n"+strings.TrimSpace(summary))
	}

	if strings.TrimSpace(bugSummary) != "" {
		sections = append(sections, "## Known bugs\n"+strings.TrimSpace(bugSummary))
	}

	return strings.Join(sections, "\n\n")
}
