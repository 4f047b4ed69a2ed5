package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockTurn scripts one model round-trip.
type MockTurn struct {
	Chunks []string
	Usage  Usage
	Err    error
}

// Mock is a scriptable Provider for tests and --mock runs. Scripted turns
// play in order; when the script runs out (or none was given) Respond is
// consulted, falling back to a plain echo answer.
type Mock struct {
	mu      sync.Mutex
	turns   []MockTurn
	idx     int
	Respond func(req CompletionRequest) MockTurn
}

func NewMock(turns ...MockTurn) *Mock {
	return &Mock{turns: turns}
}

func (m *Mock) Name() string    { return "mock" }
func (m *Mock) ModelID() string { return "mock-1" }

func (m *Mock) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	m.mu.Lock()
	var turn MockTurn
	switch {
	case m.idx < len(m.turns):
		turn = m.turns[m.idx]
		m.idx++
	case m.Respond != nil:
		turn = m.Respond(req)
	default:
		turn = MockTurn{Chunks: []string{defaultAnswer(req)}, Usage: Usage{InputTokens: 1, OutputTokens: 1}}
	}
	m.mu.Unlock()

	if turn.Err != nil {
		return nil, turn.Err
	}

	ch := make(chan StreamEvent, len(turn.Chunks)+1)
	go func() {
		defer close(ch)
		for _, chunk := range turn.Chunks {
			select {
			case ch <- StreamEvent{Chunk: chunk}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- StreamEvent{Usage: &Usage{InputTokens: turn.Usage.InputTokens, OutputTokens: turn.Usage.OutputTokens}}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// ToolCallJSON builds the in-band tool request for scripting mock turns.
func ToolCallJSON(id, name, arguments string) string {
	return fmt.Sprintf(`{"tool_calls":[{"id":%q,"name":%q,"arguments":%s}]}`, id, name, arguments)
}

func defaultAnswer(req CompletionRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser && !strings.HasPrefix(req.Messages[i].Content, "Tool result for") {
			return "Mock answer to: " + firstLine(req.Messages[i].Content)
		}
	}
	return "Mock answer."
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}
