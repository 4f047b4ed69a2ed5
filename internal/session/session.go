// Package session owns per-conversation state: history, the rolling summary,
// the undo stack, the permission gate, and the active-turn cancel handle.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"helixmind/internal/permission"
	"helixmind/internal/provider"
	"helixmind/internal/tools"
)

// ErrTurnActive is returned by BeginTurn while another turn is running.
var ErrTurnActive = errors.New("session: a turn is already active")

type Session struct {
	ID string

	mu        sync.Mutex
	history   []provider.Message
	summary   *SummaryBuffer
	undo      *tools.UndoStack
	gate      *permission.Gate
	turn      int
	active    bool
	cancel    context.CancelFunc
	updatedAt time.Time
}

func newSession(id string, gate *permission.Gate) *Session {
	if gate == nil {
		gate = permission.NewGate(nil, nil)
	}
	return &Session{
		ID:        id,
		summary:   NewSummaryBuffer(8),
		undo:      tools.NewUndoStack(),
		gate:      gate,
		updatedAt: time.Now(),
	}
}

// History returns a copy of the conversation history.
func (s *Session) History() []provider.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]provider.Message, len(s.history))
	copy(out, s.history)
	return out
}

// SetHistory replaces the history wholesale. The agent loop hands back the
// complete updated transcript after a turn; nothing is merged.
func (s *Session) SetHistory(h []provider.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = make([]provider.Message, len(h))
	copy(s.history, h)
	s.updatedAt = time.Now()
}

func (s *Session) Summary() *SummaryBuffer { return s.summary }
func (s *Session) Undo() *tools.UndoStack  { return s.undo }
func (s *Session) Gate() *permission.Gate  { return s.gate }

// BeginTurn marks the session busy and derives the turn context. It fails
// with ErrTurnActive if a turn is already running. The returned done func
// must be called when the turn finishes, on every path.
func (s *Session) BeginTurn(parent context.Context) (context.Context, func(), int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return nil, nil, 0, ErrTurnActive
	}
	ctx, cancel := context.WithCancel(parent)
	s.active = true
	s.cancel = cancel
	s.turn++
	s.updatedAt = time.Now()
	turn := s.turn

	done := func() {
		s.mu.Lock()
		s.active = false
		s.cancel = nil
		s.updatedAt = time.Now()
		s.mu.Unlock()
		cancel()
	}
	return ctx, done, turn, nil
}

// Abort cancels the active turn, if any. Calling it again before the turn
// winds down is harmless and reports the same result.
func (s *Session) Abort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Info is the registry's external view of one session.
type Info struct {
	ID        string    `json:"id"`
	Active    bool      `json:"active"`
	Turns     int       `json:"turns"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{ID: s.ID, Active: s.active, Turns: s.turn, UpdatedAt: s.updatedAt}
}

// SummaryBuffer keeps a rolling digest of recent turns. Old turns fall off
// the window; the digest feeds the next turn's system prompt.
type SummaryBuffer struct {
	mu    sync.Mutex
	max   int
	turns []string
}

func NewSummaryBuffer(max int) *SummaryBuffer {
	if max <= 0 {
		max = 8
	}
	return &SummaryBuffer{max: max}
}

// NoteTurn records one completed exchange.
func (b *SummaryBuffer) NoteTurn(userText, answer string) {
	entry := fmt.Sprintf("User: %s | Helix: %s", digest(userText, 120), digest(answer, 160))
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns, entry)
	if len(b.turns) > b.max {
		b.turns = b.turns[len(b.turns)-b.max:]
	}
}

// Render returns the digest text, or "" when nothing has happened yet.
func (b *SummaryBuffer) Render() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.turns, "\n")
}

// digest collapses whitespace and truncates to at most max bytes without
// splitting a rune.
func digest(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
