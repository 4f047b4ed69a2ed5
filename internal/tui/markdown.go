package tui

import (
	"os"
	"sync"

	"github.com/charmbracelet/glamour"
)

// MarkdownRenderer wraps glamour with width tracking and a plain-text
// fallback. Rendering never fails the UI: on error or panic the raw
// markdown is shown instead.
type MarkdownRenderer struct {
	mu       sync.Mutex
	width    int
	renderer *glamour.TermRenderer
}

func NewMarkdownRenderer(width int) *MarkdownRenderer {
	r := &MarkdownRenderer{}
	r.SetWidth(width)
	return r
}

// SetWidth rebuilds the underlying renderer when the word-wrap width
// changes, which happens on every terminal resize.
func (r *MarkdownRenderer) SetWidth(width int) {
	if width < 20 {
		width = 20
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.renderer != nil && r.width == width {
		return
	}
	r.width = width
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(width)}
	if os.Getenv("HELIX_NO_COLOR") == "1" {
		opts = append(opts, glamour.WithStylePath("notty"))
	} else {
		opts = append(opts, glamour.WithAutoStyle())
	}
	r.renderer, _ = glamour.NewTermRenderer(opts...)
}

func (r *MarkdownRenderer) Render(content string) (out string) {
	defer func() {
		if rec := recover(); rec != nil {
			out = content
		}
	}()
	r.mu.Lock()
	renderer := r.renderer
	r.mu.Unlock()
	if renderer == nil || content == "" {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}
