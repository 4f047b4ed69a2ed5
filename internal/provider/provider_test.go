package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func collect(t *testing.T, ch <-chan StreamEvent) (string, *Usage) {
	t.Helper()
	var text strings.Builder
	var usage *Usage
	for ev := range ch {
		if ev.Err != nil {
			t.Fatalf("unexpected stream error: %v", ev.Err)
		}
		text.WriteString(ev.Chunk)
		if ev.Usage != nil {
			usage = ev.Usage
		}
	}
	return text.String(), usage
}

func TestOpenAICompatStream(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		frames := []string{
			`{"choices":[{"delta":{"content":"Hello"}}]}`,
			`{"choices":[{"delta":{"content":", world"}}]}`,
			`{"choices":[],"usage":{"prompt_tokens":12,"completion_tokens":4}}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	p := NewOpenAICompat("sk-test", srv.URL+"/v1", "test-model", 256)
	ch, err := p.Stream(context.Background(), CompletionRequest{
		System:   "You are a test.",
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	text, usage := collect(t, ch)
	if text != "Hello, world" {
		t.Errorf("expected streamed text %q, got %q", "Hello, world", text)
	}
	if usage == nil {
		t.Fatal("expected usage event")
	}
	if usage.InputTokens != 12 || usage.OutputTokens != 4 {
		t.Errorf("unexpected usage %+v", usage)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
}

func TestOpenAICompatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAICompat("bad", srv.URL, "test-model", 256)
	_, err := p.Stream(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestMockScriptedTurns(t *testing.T) {
	m := NewMock(
		MockTurn{Chunks: []string{"one ", "two"}, Usage: Usage{InputTokens: 3, OutputTokens: 2}},
		MockTurn{Chunks: []string{"final"}, Usage: Usage{InputTokens: 5, OutputTokens: 1}},
	)

	ch, err := m.Stream(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, usage := collect(t, ch)
	if text != "one two" {
		t.Errorf("expected %q, got %q", "one two", text)
	}
	if usage == nil || usage.InputTokens != 3 {
		t.Errorf("unexpected usage %+v", usage)
	}

	ch, err = m.Stream(context.Background(), CompletionRequest{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, _ = collect(t, ch)
	if text != "final" {
		t.Errorf("expected %q, got %q", "final", text)
	}
}

func TestMockFallsBackToEcho(t *testing.T) {
	m := NewMock()
	ch, err := m.Stream(context.Background(), CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "list the files"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	text, _ := collect(t, ch)
	if !strings.Contains(text, "list the files") {
		t.Errorf("expected echo of user text, got %q", text)
	}
}

func TestMockScriptedError(t *testing.T) {
	m := NewMock(MockTurn{Err: errors.New("provider exploded")})
	if _, err := m.Stream(context.Background(), CompletionRequest{}); err == nil {
		t.Fatal("expected scripted error")
	}
}

func TestToolProtocolListsTools(t *testing.T) {
	out := ToolProtocol([]ToolSpec{
		{Name: "read_file", Description: "read a file", Schema: `{"path":"string"}`},
	})
	if !strings.Contains(out, "read_file") || !strings.Contains(out, "tool_calls") {
		t.Errorf("tool protocol missing pieces: %q", out)
	}
	if ToolProtocol(nil) != "" {
		t.Error("expected empty protocol for no tools")
	}
}
