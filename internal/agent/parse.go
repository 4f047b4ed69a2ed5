package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ToolCall is one requested tool invocation, parsed out of model text.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolCallEnvelope struct {
	ToolCalls []ToolCall `json:"tool_calls"`
}

var emptyFence = regexp.MustCompile("(?s)```(?:json)?\\s*```")

// parseToolCalls extracts every {"tool_calls": [...]} object embedded in the
// model's text and returns the calls plus the text with those objects
// removed. Models wrap the JSON in prose or code fences inconsistently, so
// this scans for any decodable envelope rather than expecting a fixed shape.
func parseToolCalls(text string) ([]ToolCall, string) {
	var calls []ToolCall
	var visible strings.Builder

	i := 0
	for i < len(text) {
		if text[i] != '{' {
			visible.WriteByte(text[i])
			i++
			continue
		}
		env, consumed := decodeEnvelope(text[i:])
		if consumed == 0 || len(env.ToolCalls) == 0 {
			visible.WriteByte(text[i])
			i++
			continue
		}
		calls = append(calls, env.ToolCalls...)
		i += consumed
	}

	for k := range calls {
		if calls[k].ID == "" {
			calls[k].ID = fmt.Sprintf("call_%d", k+1)
		}
		if len(calls[k].Arguments) == 0 {
			calls[k].Arguments = json.RawMessage("{}")
		}
	}

	out := emptyFence.ReplaceAllString(visible.String(), "")
	return calls, strings.TrimSpace(out)
}

// decodeEnvelope tries to decode one JSON object from the start of s and
// reports how many bytes it spanned. A zero count means no valid envelope.
func decodeEnvelope(s string) (toolCallEnvelope, int) {
	var env toolCallEnvelope
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&env); err != nil {
		return toolCallEnvelope{}, 0
	}
	return env, int(dec.InputOffset())
}
