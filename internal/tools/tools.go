// Package tools defines the agent's tool surface: a registry of named tools
// plus the built-in set (shell, file access, search, memory, bug reports).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"helixmind/internal/bugs"
	"helixmind/internal/memory"
)

const (
	StatusDone  = "done"
	StatusError = "error"
)

const defaultMaxOutput = 64 * 1024

// Definition is the provider-facing description of one tool.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      string `json:"schema"`
}

// Result is the outcome of one tool invocation. A failed tool is still a
// Result with StatusError, never a Go error; the loop feeds it back to the
// model like any other output.
type Result struct {
	Status     string `json:"status"`
	Output     string `json:"output,omitempty"`
	Err        string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

// BugRecorder is the slice of the journal the report_bug tool needs.
type BugRecorder interface {
	Add(ctx context.Context, e bugs.Entry) (bugs.Entry, error)
}

// ExecContext carries the per-session capabilities a tool may use. Optional
// handles (Memory, Bugs, Undo) may be nil; tools that need them fail cleanly.
type ExecContext struct {
	WorkDir   string
	MaxOutput int
	Undo      *UndoStack
	Memory    memory.Engine
	Bugs      BugRecorder
	Logger    *zap.Logger
}

func (ec ExecContext) log() *zap.Logger {
	if ec.Logger == nil {
		return zap.NewNop()
	}
	return ec.Logger
}

// Executor runs one tool call against raw JSON arguments.
type Executor func(ctx context.Context, args json.RawMessage, ec ExecContext) Result

type tool struct {
	def Definition
	run Executor
}

// Registry holds the tools available to a run. Construct one per process and
// inject it; there is no package-global table.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool)}
}

// DefaultRegistry returns a registry loaded with the built-in tool set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
}

func (r *Registry) Register(def Definition, run Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[def.Name] = tool{def: def, run: run}
}

// Definitions returns all registered tools sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs the named tool. Unknown names and argument errors come back
// as error results so the caller has a single path for all outcomes.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage, ec ExecContext) Result {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	start := time.Now()
	if !ok {
		return Result{
			Status:     StatusError,
			Err:        fmt.Sprintf("unknown tool: %s", name),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{
			Status:     StatusError,
			Err:        fmt.Sprintf("tool %s not started: %v", name, err),
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	res := t.run(ctx, args, ec)
	res.DurationMs = time.Since(start).Milliseconds()
	res.Output = truncate(res.Output, ec.MaxOutput)

	ec.log().Debug("tool executed",
		zap.String("tool", name),
		zap.String("status", res.Status),
		zap.Int64("durationMs", res.DurationMs))
	return res
}

func truncate(s string, max int) string {
	if max <= 0 {
		max = defaultMaxOutput
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... [output truncated]"
}

func errResult(format string, args ...any) Result {
	return Result{Status: StatusError, Err: fmt.Sprintf(format, args...)}
}

func okResult(output string) Result {
	return Result{Status: StatusDone, Output: output}
}
