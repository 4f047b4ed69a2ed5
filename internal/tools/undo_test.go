package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestUndoRestoresOverwrittenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}
	undo := NewUndoStack()
	r := DefaultRegistry()
	ec := ExecContext{WorkDir: dir, Undo: undo}

	res := r.Execute(context.Background(), "write_file",
		mustJSON(t, map[string]string{"path": "a.txt", "content": "replaced"}), ec)
	if res.Status != StatusDone {
		t.Fatalf("write: %s", res.Err)
	}

	n, err := undo.Undo(1)
	if err != nil || n != 1 {
		t.Fatalf("Undo = (%d, %v)", n, err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "original" {
		t.Fatalf("file = %q, want original", data)
	}
}

func TestUndoRemovesCreatedFile(t *testing.T) {
	dir := t.TempDir()
	undo := NewUndoStack()
	r := DefaultRegistry()
	ec := ExecContext{WorkDir: dir, Undo: undo}

	res := r.Execute(context.Background(), "write_file",
		mustJSON(t, map[string]string{"path": "fresh.txt", "content": "new"}), ec)
	if res.Status != StatusDone {
		t.Fatalf("write: %s", res.Err)
	}

	if _, err := undo.Undo(1); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "fresh.txt")); !os.IsNotExist(err) {
		t.Fatalf("file still present after undo: %v", err)
	}
}

func TestUndoOrderIsLIFO(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	undo := NewUndoStack()
	r := DefaultRegistry()
	ec := ExecContext{WorkDir: dir, Undo: undo}

	for _, content := range []string{"v1", "v2", "v3"} {
		res := r.Execute(context.Background(), "write_file",
			mustJSON(t, map[string]string{"path": "a.txt", "content": content}), ec)
		if res.Status != StatusDone {
			t.Fatalf("write %s: %s", content, res.Err)
		}
	}
	if undo.Len() != 3 {
		t.Fatalf("Len = %d", undo.Len())
	}

	if _, err := undo.Undo(1); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "v2" {
		t.Fatalf("after one undo file = %q, want v2", data)
	}

	if _, err := undo.Undo(10); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should be gone after full undo")
	}
	if undo.Len() != 0 {
		t.Fatalf("Len = %d after full undo", undo.Len())
	}
}
