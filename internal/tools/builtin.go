package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"helixmind/internal/bugs"
	"helixmind/internal/memory"
)

func registerBuiltins(r *Registry) {
	r.Register(Definition{
		Name:        "exec",
		Description: "Run a shell command in the workspace and return combined output",
		Schema:      `{"command": "shell command", "timeout_seconds": "optional override"}`,
	}, execTool)
	r.Register(Definition{
		Name:        "read_file",
		Description: "Read a file relative to the workspace root",
		Schema:      `{"path": "file path"}`,
	}, readFileTool)
	r.Register(Definition{
		Name:        "write_file",
		Description: "Create or overwrite a file; the previous content is kept for undo",
		Schema:      `{"path": "file path", "content": "full new content"}`,
	}, writeFileTool)
	r.Register(Definition{
		Name:        "edit_file",
		Description: "Replace the first occurrence of old_string in a file with new_string",
		Schema:      `{"path": "file path", "old_string": "exact text to find", "new_string": "replacement"}`,
	}, editFileTool)
	r.Register(Definition{
		Name:        "apply_patch",
		Description: "Apply a unified diff to a file; the previous content is kept for undo",
		Schema:      `{"path": "file path", "patch": "unified diff with @@ hunks"}`,
	}, applyPatchTool)
	r.Register(Definition{
		Name:        "list_dir",
		Description: "List a directory; directories carry a trailing slash",
		Schema:      `{"path": "directory, defaults to ."}`,
	}, listDirTool)
	r.Register(Definition{
		Name:        "grep",
		Description: "Search file contents recursively for a pattern",
		Schema:      `{"pattern": "text or regex", "path": "directory, defaults to ."}`,
	}, grepTool)
	r.Register(Definition{
		Name:        "search_files",
		Description: "Find files by name pattern",
		Schema:      `{"pattern": "glob like *.go", "path": "directory, defaults to ."}`,
	}, searchFilesTool)
	r.Register(Definition{
		Name:        "remember",
		Description: "Store a fact in long-term memory for future sessions",
		Schema:      `{"text": "what to remember", "kind": "fact|finding, defaults to fact"}`,
	}, rememberTool)
	r.Register(Definition{
		Name:        "report_bug",
		Description: "Record a bug or security finding in the journal",
		Schema:      `{"title": "short summary", "detail": "optional detail", "severity": "low|medium|high", "kind": "bug|finding"}`,
	}, reportBugTool)
}

// resolvePath joins p onto the workspace root and rejects anything that
// escapes it, including absolute paths outside the root.
func resolvePath(workDir, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("empty path")
	}
	var full string
	if filepath.IsAbs(p) {
		full = filepath.Clean(p)
	} else {
		full = filepath.Clean(filepath.Join(workDir, p))
	}
	rel, err := filepath.Rel(workDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", p)
	}
	return full, nil
}

type execArgs struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func execTool(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
	var a execArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errResult("bad exec arguments: %v", err)
	}
	if strings.TrimSpace(a.Command) == "" {
		return errResult("exec: empty command")
	}
	if a.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(a.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", a.Command)
	cmd.Dir = ec.WorkDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return errResult("exec: command stopped: %v", ctx.Err())
		}
		r := errResult("exec: %v", err)
		r.Output = string(out)
		return r
	}
	return okResult(string(out))
}

type readFileArgs struct {
	Path string `json:"path"`
}

func readFileTool(_ context.Context, args json.RawMessage, ec ExecContext) Result {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errResult("bad read_file arguments: %v", err)
	}
	path, err := resolvePath(ec.WorkDir, a.Path)
	if err != nil {
		return errResult("read_file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errResult("read_file: %v", err)
	}
	return okResult(string(data))
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func writeFileTool(_ context.Context, args json.RawMessage, ec ExecContext) Result {
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errResult("bad write_file arguments: %v", err)
	}
	path, err := resolvePath(ec.WorkDir, a.Path)
	if err != nil {
		return errResult("write_file: %v", err)
	}
	recordUndo(ec.Undo, path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errResult("write_file: %v", err)
	}
	if err := os.WriteFile(path, []byte(a.Content), 0o644); err != nil {
		return errResult("write_file: %v", err)
	}
	return okResult(fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.Path))
}

type editFileArgs struct {
	Path      string `json:"path"`
	OldString string `json:"old_string"`
	NewString string `json:"new_string"`
}

func editFileTool(_ context.Context, args json.RawMessage, ec ExecContext) Result {
	var a editFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errResult("bad edit_file arguments: %v", err)
	}
	if a.OldString == "" {
		return errResult("edit_file: empty old_string")
	}
	path, err := resolvePath(ec.WorkDir, a.Path)
	if err != nil {
		return errResult("edit_file: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return errResult("edit_file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, a.OldString) {
		return errResult("edit_file: old_string not found in %s", a.Path)
	}
	recordUndo(ec.Undo, path)
	updated := strings.Replace(content, a.OldString, a.NewString, 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return errResult("edit_file: %v", err)
	}
	return okResult(fmt.Sprintf("edited %s", a.Path))
}

type listDirArgs struct {
	Path string `json:"path"`
}

func listDirTool(_ context.Context, args json.RawMessage, ec ExecContext) Result {
	var a listDirArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errResult("bad list_dir arguments: %v", err)
	}
	if a.Path == "" {
		a.Path = "."
	}
	path, err := resolvePath(ec.WorkDir, a.Path)
	if err != nil {
		return errResult("list_dir: %v", err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return errResult("list_dir: %v", err)
	}
	var b strings.Builder
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		b.WriteString(name)
		b.WriteByte('\n')
	}
	return okResult(b.String())
}

type grepArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

func grepTool(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
	var a grepArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errResult("bad grep arguments: %v", err)
	}
	if a.Pattern == "" {
		return errResult("grep: empty pattern")
	}
	if a.Path == "" {
		a.Path = "."
	}
	dir, err := resolvePath(ec.WorkDir, a.Path)
	if err != nil {
		return errResult("grep: %v", err)
	}
	cmd := exec.CommandContext(ctx, "grep", "-rn", "--binary-files=without-match", a.Pattern, dir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var ee *exec.ExitError
		// grep exits 1 when nothing matched.
		if errors.As(err, &ee) && ee.ExitCode() == 1 {
			return okResult("no matches")
		}
		return errResult("grep: %v: %s", err, out)
	}
	return okResult(string(out))
}

type searchFilesArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

func searchFilesTool(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
	var a searchFilesArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errResult("bad search_files arguments: %v", err)
	}
	if a.Pattern == "" {
		return errResult("search_files: empty pattern")
	}
	if a.Path == "" {
		a.Path = "."
	}
	dir, err := resolvePath(ec.WorkDir, a.Path)
	if err != nil {
		return errResult("search_files: %v", err)
	}
	cmd := exec.CommandContext(ctx, "find", dir, "-type", "f", "-name", a.Pattern)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errResult("search_files: %v: %s", err, out)
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return okResult("no matches")
	}
	return okResult(string(out))
}

type rememberArgs struct {
	Text string `json:"text"`
	Kind string `json:"kind"`
}

func rememberTool(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
	var a rememberArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errResult("bad remember arguments: %v", err)
	}
	if ec.Memory == nil {
		return errResult("remember: memory engine unavailable")
	}
	kind := a.Kind
	switch kind {
	case "":
		kind = memory.KindFact
	case memory.KindFact, memory.KindFinding:
	default:
		return errResult("remember: unknown kind %q", a.Kind)
	}
	if err := ec.Memory.Store(ctx, a.Text, kind, nil); err != nil {
		return errResult("remember: %v", err)
	}
	return okResult("remembered")
}

type reportBugArgs struct {
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Severity string `json:"severity"`
	Kind     string `json:"kind"`
}

func reportBugTool(ctx context.Context, args json.RawMessage, ec ExecContext) Result {
	var a reportBugArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return errResult("bad report_bug arguments: %v", err)
	}
	if ec.Bugs == nil {
		return errResult("report_bug: journal unavailable")
	}
	kind := a.Kind
	if kind == "" {
		kind = bugs.KindBug
	}
	entry, err := ec.Bugs.Add(ctx, bugs.Entry{
		Kind:     kind,
		Severity: a.Severity,
		Title:    a.Title,
		Detail:   a.Detail,
	})
	if err != nil {
		return errResult("report_bug: %v", err)
	}
	return okResult(fmt.Sprintf("recorded %s %s", entry.Kind, entry.ID))
}

func recordUndo(u *UndoStack, path string) {
	if u == nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		u.Push(FileOp{Path: path})
		return
	}
	u.Push(FileOp{Path: path, Existed: true, Prior: data})
}
