// Package provider defines the LLM streaming seam and its adapters.
package provider

import (
	"context"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one role-tagged entry of a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolSpec describes one callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Schema      string
}

// Usage carries token counts for a single provider round-trip.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// StreamEvent is one item of a streaming completion: a text chunk, a usage
// report, or a terminal error. The channel closes when the round-trip ends.
type StreamEvent struct {
	Chunk string
	Usage *Usage
	Err   error
}

// CompletionRequest is one model round-trip: system prompt, full history,
// and the tools the model may request.
type CompletionRequest struct {
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// Provider is the capability the turn executor consumes.
type Provider interface {
	Name() string
	ModelID() string
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}

// ToolProtocol renders the in-band tool-calling contract for a system prompt.
// The model requests tools by replying with a single JSON object
// {"tool_calls":[{"id","name","arguments"}]}; results come back as user
// messages tagged "Tool result for <name>".
func ToolProtocol(tools []ToolSpec) string {
	if len(tools) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Tools\n")
	b.WriteString("To run a tool, reply with exactly one JSON object and no other text:\n")
	b.WriteString(`{"tool_calls":[{"id":"<unique>","name":"<tool>","arguments":{...}}]}`)
	b.WriteString("\nAvailable tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		if t.Schema != "" {
			fmt.Fprintf(&b, "  arguments: %s\n", t.Schema)
		}
	}
	b.WriteString("Each result arrives as a message starting with \"Tool result for\". ")
	b.WriteString("When you have the final answer, reply in plain text without tool_calls.")
	return b.String()
}
