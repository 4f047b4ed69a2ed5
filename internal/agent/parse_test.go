package agent

import (
	"strings"
	"testing"
)

func TestParsePlainText(t *testing.T) {
	calls, visible := parseToolCalls("Just an answer with {braces} in prose.")
	if len(calls) != 0 {
		t.Fatalf("calls = %+v", calls)
	}
	if visible != "Just an answer with {braces} in prose." {
		t.Fatalf("visible = %q", visible)
	}
}

func TestParseBareEnvelope(t *testing.T) {
	text := `{"tool_calls":[{"id":"c1","name":"read_file","arguments":{"path":"go.mod"}}]}`
	calls, visible := parseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].ID != "c1" || calls[0].Name != "read_file" {
		t.Fatalf("call = %+v", calls[0])
	}
	if visible != "" {
		t.Fatalf("visible = %q", visible)
	}
}

func TestParseEnvelopeInProse(t *testing.T) {
	text := "Let me look at that file.\n\n```json\n" +
		`{"tool_calls":[{"name":"read_file","arguments":{"path":"main.go"}}]}` +
		"\n```\n\nBack in a moment."
	calls, visible := parseToolCalls(text)
	if len(calls) != 1 || calls[0].Name != "read_file" {
		t.Fatalf("calls = %+v", calls)
	}
	if strings.Contains(visible, "tool_calls") || strings.Contains(visible, "```") {
		t.Fatalf("visible still contains call JSON: %q", visible)
	}
	if !strings.Contains(visible, "Let me look") || !strings.Contains(visible, "Back in a moment.") {
		t.Fatalf("prose lost: %q", visible)
	}
}

func TestParseMultipleEnvelopes(t *testing.T) {
	text := `{"tool_calls":[{"name":"list_dir","arguments":{}}]}` + "\nand\n" +
		`{"tool_calls":[{"name":"grep","arguments":{"pattern":"x"}}]}`
	calls, _ := parseToolCalls(text)
	if len(calls) != 2 || calls[0].Name != "list_dir" || calls[1].Name != "grep" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestParseSynthesizesIDs(t *testing.T) {
	text := `{"tool_calls":[{"name":"exec"},{"name":"grep"}]}`
	calls, _ := parseToolCalls(text)
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].ID == "" || calls[1].ID == "" || calls[0].ID == calls[1].ID {
		t.Fatalf("ids = %q, %q", calls[0].ID, calls[1].ID)
	}
	if string(calls[0].Arguments) != "{}" {
		t.Fatalf("arguments = %q", calls[0].Arguments)
	}
}

func TestParseLeavesBrokenJSONVisible(t *testing.T) {
	text := `{"tool_calls": [{"name": "exec"` // unterminated
	calls, visible := parseToolCalls(text)
	if len(calls) != 0 {
		t.Fatalf("calls = %+v", calls)
	}
	if visible != text {
		t.Fatalf("visible = %q", visible)
	}
}
