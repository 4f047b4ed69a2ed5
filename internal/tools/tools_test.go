package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"helixmind/internal/bugs"
	"helixmind/internal/memory"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return raw
}

func TestExecuteUnknownTool(t *testing.T) {
	r := DefaultRegistry()
	res := r.Execute(context.Background(), "levitate", nil, ExecContext{WorkDir: t.TempDir()})
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
	if !strings.Contains(res.Err, "unknown tool") {
		t.Fatalf("err = %q, want unknown tool", res.Err)
	}
}

func TestExecTool(t *testing.T) {
	r := DefaultRegistry()
	ec := ExecContext{WorkDir: t.TempDir()}
	res := r.Execute(context.Background(), "exec", mustJSON(t, map[string]string{"command": "echo hello"}), ec)
	if res.Status != StatusDone {
		t.Fatalf("status = %q (%s)", res.Status, res.Err)
	}
	if strings.TrimSpace(res.Output) != "hello" {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestExecToolFailureIsErrorResult(t *testing.T) {
	r := DefaultRegistry()
	ec := ExecContext{WorkDir: t.TempDir()}
	res := r.Execute(context.Background(), "exec", mustJSON(t, map[string]string{"command": "exit 3"}), ec)
	if res.Status != StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
}

func TestWriteThenReadFile(t *testing.T) {
	r := DefaultRegistry()
	ec := ExecContext{WorkDir: t.TempDir()}

	res := r.Execute(context.Background(), "write_file",
		mustJSON(t, map[string]string{"path": "notes/a.txt", "content": "line one\n"}), ec)
	if res.Status != StatusDone {
		t.Fatalf("write: %s", res.Err)
	}

	res = r.Execute(context.Background(), "read_file", mustJSON(t, map[string]string{"path": "notes/a.txt"}), ec)
	if res.Status != StatusDone {
		t.Fatalf("read: %s", res.Err)
	}
	if res.Output != "line one\n" {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestEditFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	if err := os.WriteFile(path, []byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := DefaultRegistry()
	ec := ExecContext{WorkDir: dir}

	res := r.Execute(context.Background(), "edit_file",
		mustJSON(t, map[string]string{"path": "main.go", "old_string": "func main() {}", "new_string": "func main() { run() }"}), ec)
	if res.Status != StatusDone {
		t.Fatalf("edit: %s", res.Err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "run()") {
		t.Fatalf("file = %q", data)
	}

	res = r.Execute(context.Background(), "edit_file",
		mustJSON(t, map[string]string{"path": "main.go", "old_string": "no such text", "new_string": "x"}), ec)
	if res.Status != StatusError {
		t.Fatalf("expected error when old_string missing, got %q", res.Status)
	}
}

func TestResolvePathRejectsEscapes(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name string
		path string
		ok   bool
	}{
		{"plain", "a.txt", true},
		{"nested", "sub/dir/a.txt", true},
		{"dotdot", "../outside.txt", false},
		{"sneaky", "sub/../../outside.txt", false},
		{"absolute outside", "/etc/passwd", false},
		{"absolute inside", filepath.Join(dir, "a.txt"), true},
		{"empty", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolvePath(dir, tc.path)
			if tc.ok && err != nil {
				t.Fatalf("resolvePath(%q) = %v, want ok", tc.path, err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("resolvePath(%q) succeeded, want error", tc.path)
			}
		})
	}
}

func TestListDirMarksDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "file.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := DefaultRegistry()
	res := r.Execute(context.Background(), "list_dir", mustJSON(t, map[string]string{"path": "."}), ExecContext{WorkDir: dir})
	if res.Status != StatusDone {
		t.Fatalf("list_dir: %s", res.Err)
	}
	if !strings.Contains(res.Output, "sub/") || !strings.Contains(res.Output, "file.txt") {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestGrepNoMatches(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("nothing here\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := DefaultRegistry()
	res := r.Execute(context.Background(), "grep",
		mustJSON(t, map[string]string{"pattern": "zzz_absent", "path": "."}), ExecContext{WorkDir: dir})
	if res.Status != StatusDone {
		t.Fatalf("grep: %s", res.Err)
	}
	if !strings.Contains(res.Output, "no matches") {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestOutputTruncation(t *testing.T) {
	r := DefaultRegistry()
	dir := t.TempDir()
	long := strings.Repeat("0123456789", 100)
	if err := os.WriteFile(filepath.Join(dir, "big.txt"), []byte(long), 0o644); err != nil {
		t.Fatal(err)
	}
	ec := ExecContext{WorkDir: dir, MaxOutput: 100}
	res := r.Execute(context.Background(), "read_file", mustJSON(t, map[string]string{"path": "big.txt"}), ec)
	if res.Status != StatusDone {
		t.Fatalf("read: %s", res.Err)
	}
	if !strings.HasSuffix(res.Output, "[output truncated]") {
		t.Fatalf("output not truncated: %d bytes", len(res.Output))
	}
}

type fakeEngine struct {
	stored []string
}

func (f *fakeEngine) Query(context.Context, string, int) (memory.QueryResult, error) {
	return memory.QueryResult{}, nil
}

func (f *fakeEngine) Store(_ context.Context, text, kind string, _ map[string]string) error {
	f.stored = append(f.stored, kind+": "+text)
	return nil
}

func TestRememberTool(t *testing.T) {
	r := DefaultRegistry()
	eng := &fakeEngine{}
	ec := ExecContext{WorkDir: t.TempDir(), Memory: eng}

	res := r.Execute(context.Background(), "remember", mustJSON(t, map[string]string{"text": "build uses make"}), ec)
	if res.Status != StatusDone {
		t.Fatalf("remember: %s", res.Err)
	}
	if len(eng.stored) != 1 || !strings.Contains(eng.stored[0], "build uses make") {
		t.Fatalf("stored = %v", eng.stored)
	}

	res = r.Execute(context.Background(), "remember", mustJSON(t, map[string]string{"text": "x"}), ExecContext{WorkDir: t.TempDir()})
	if res.Status != StatusError {
		t.Fatalf("expected error without memory engine, got %q", res.Status)
	}
}

type fakeRecorder struct {
	entries []bugs.Entry
}

func (f *fakeRecorder) Add(_ context.Context, e bugs.Entry) (bugs.Entry, error) {
	e.ID = "bug-1"
	f.entries = append(f.entries, e)
	return e, nil
}

func TestReportBugTool(t *testing.T) {
	r := DefaultRegistry()
	rec := &fakeRecorder{}
	ec := ExecContext{WorkDir: t.TempDir(), Bugs: rec}

	res := r.Execute(context.Background(), "report_bug",
		mustJSON(t, map[string]string{"title": "panic on empty input", "severity": "high"}), ec)
	if res.Status != StatusDone {
		t.Fatalf("report_bug: %s", res.Err)
	}
	if len(rec.entries) != 1 || rec.entries[0].Kind != bugs.KindBug {
		t.Fatalf("entries = %+v", rec.entries)
	}
	if !strings.Contains(res.Output, "bug-1") {
		t.Fatalf("output = %q", res.Output)
	}
}

func TestDefinitionsSorted(t *testing.T) {
	defs := DefaultRegistry().Definitions()
	if len(defs) < 9 {
		t.Fatalf("got %d definitions", len(defs))
	}
	for i := 1; i < len(defs); i++ {
		if defs[i-1].Name >= defs[i].Name {
			t.Fatalf("definitions not sorted: %q before %q", defs[i-1].Name, defs[i].Name)
		}
	}
}
