// Package agent runs the turn loop: stream the model, dispatch the tools it
// asks for, feed results back, and repeat until the model answers in plain
// text or the turn is aborted.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"helixmind/internal/checkpoint"
	"helixmind/internal/permission"
	"helixmind/internal/prompt"
	"helixmind/internal/provider"
	"helixmind/internal/tools"
)

// ErrAborted marks a turn stopped by an abort signal rather than a failure.
var ErrAborted = errors.New("agent: turn aborted")

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeFailed    Outcome = "failed"
)

// Result is the terminal record of one turn. History is the complete updated
// transcript the session should adopt wholesale.
type Result struct {
	Outcome Outcome            `json:"outcome"`
	Answer  string             `json:"answer,omitempty"`
	History []provider.Message `json:"-"`
	Steps   int                `json:"steps"`
	Usage   provider.Usage     `json:"usage"`
	Err     error              `json:"-"`
}

// Callbacks observe a turn. All fields are optional. For one turn the order
// is: OnStarted, then chunks and tool pairs in execution order, then exactly
// one of OnComplete or OnError. OnToolEnd always follows its OnToolStart.
type Callbacks struct {
	OnStarted   func(chatID string, turn int)
	OnTextChunk func(chatID, chunk string)
	OnToolStart func(chatID string, step int, name, input string)
	OnToolEnd   func(chatID string, step int, name string, res tools.Result)
	OnComplete  func(chatID string, res Result)
	OnError     func(chatID string, err error)
}

// TurnRequest is everything one turn needs. History must already contain the
// new user message as its last entry.
type TurnRequest struct {
	ChatID    string
	Turn      int
	System    string
	History   []provider.Message
	Gate      *permission.Gate
	Exec      tools.ExecContext
	Callbacks Callbacks
}

type Config struct {
	MaxSteps    int
	ToolTimeout time.Duration
}

// Executor drives turns against one provider and one tool registry. It is
// stateless across turns; all per-conversation state arrives in the request.
type Executor struct {
	provider    provider.Provider
	tools       *tools.Registry
	checkpoints checkpoint.Store
	cfg         Config
	log         *zap.Logger
}

func NewExecutor(p provider.Provider, reg *tools.Registry, store checkpoint.Store, cfg Config, log *zap.Logger) *Executor {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 16
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{provider: p, tools: reg, checkpoints: store, cfg: cfg, log: log}
}

// Identity reports the backing provider for prompt assembly.
func (e *Executor) Identity() prompt.Identity {
	return prompt.Identity{Provider: e.provider.Name(), Model: e.provider.ModelID()}
}

// Tools exposes the registry's definitions.
func (e *Executor) Tools() []tools.Definition {
	return e.tools.Definitions()
}

// Run executes one turn to its terminal state. Abort is delivered through
// ctx; the loop only gives up the turn at suspension points, never mid-tool.
func (e *Executor) Run(ctx context.Context, req TurnRequest) Result {
	cb := req.Callbacks
	log := e.log.With(zap.String("chatId", req.ChatID), zap.Int("turn", req.Turn))

	if cb.OnStarted != nil {
		cb.OnStarted(req.ChatID, req.Turn)
	}

	history := make([]provider.Message, len(req.History))
	copy(history, req.History)

	var (
		usage  provider.Usage
		steps  = 0
		capped = false
	)

	for {
		if ctx.Err() != nil {
			return e.finishAborted(cb, req.ChatID, "", history, steps, usage, log)
		}

		log.Debug("state", zap.String("phase", "streaming"))
		text, streamUsage, err := e.streamOnce(ctx, req, history, cb)
		usage.InputTokens += streamUsage.InputTokens
		usage.OutputTokens += streamUsage.OutputTokens
		if err != nil {
			if ctx.Err() != nil {
				return e.finishAborted(cb, req.ChatID, text, history, steps, usage, log)
			}
			return e.finishFailed(cb, req.ChatID, history, steps, usage, err, log)
		}

		calls, visible := parseToolCalls(text)
		history = append(history, provider.Message{Role: provider.RoleAssistant, Content: text})

		if len(calls) == 0 || capped {
			log.Debug("state", zap.String("phase", "finalizing"))
			res := Result{
				Outcome: OutcomeCompleted,
				Answer:  visible,
				History: history,
				Steps:   steps,
				Usage:   usage,
			}
			e.save(req, steps, history)
			log.Info("turn completed", zap.Int("steps", steps),
				zap.Int("inputTokens", usage.InputTokens), zap.Int("outputTokens", usage.OutputTokens))
			if cb.OnComplete != nil {
				cb.OnComplete(req.ChatID, res)
			}
			return res
		}

		log.Debug("state", zap.String("phase", "tool_dispatch"), zap.Int("calls", len(calls)))
		for _, call := range calls {
			if ctx.Err() != nil {
				return e.finishAborted(cb, req.ChatID, visible, history, steps, usage, log)
			}
			if steps >= e.cfg.MaxSteps {
				capped = true
				history = append(history, provider.Message{
					Role:    provider.RoleUser,
					Content: "Tool step limit reached. Answer with what you have; no further tool calls will run.",
				})
				break
			}
			steps++
			res := e.dispatch(ctx, req, call, steps, cb)
			history = append(history, provider.Message{
				Role:    provider.RoleUser,
				Content: formatToolResult(call.Name, steps, res),
			})
		}
		e.save(req, steps, history)
	}
}

// streamOnce runs a single provider stream and returns the full text.
// Chunks are forwarded to the callback the moment they arrive.
func (e *Executor) streamOnce(ctx context.Context, req TurnRequest, history []provider.Message, cb Callbacks) (string, provider.Usage, error) {
	defs := e.tools.Definitions()
	specs := make([]provider.ToolSpec, len(defs))
	for i, d := range defs {
		specs[i] = provider.ToolSpec{Name: d.Name, Description: d.Description, Schema: d.Schema}
	}

	events, err := e.provider.Stream(ctx, provider.CompletionRequest{
		System:   req.System,
		Messages: history,
		Tools:    specs,
	})
	if err != nil {
		return "", provider.Usage{}, fmt.Errorf("provider: %w", err)
	}

	var (
		text  []byte
		usage provider.Usage
	)
	for ev := range events {
		if ev.Err != nil {
			return string(text), usage, fmt.Errorf("provider stream: %w", ev.Err)
		}
		if ev.Usage != nil {
			usage = *ev.Usage
		}
		if ev.Chunk != "" {
			text = append(text, ev.Chunk...)
			if cb.OnTextChunk != nil {
				cb.OnTextChunk(req.ChatID, ev.Chunk)
			}
		}
	}
	return string(text), usage, nil
}

// dispatch runs one tool call through the gate and registry. Failures come
// back as error results; they never end the turn.
func (e *Executor) dispatch(ctx context.Context, req TurnRequest, call ToolCall, step int, cb Callbacks) tools.Result {
	input := string(call.Arguments)
	if cb.OnToolStart != nil {
		cb.OnToolStart(req.ChatID, step, call.Name, input)
	}

	var res tools.Result
	if req.Gate != nil && !req.Gate.IsAllowed(call.Name, input) {
		res = tools.Result{Status: tools.StatusError, Err: fmt.Sprintf("permission denied for %s", call.Name)}
	} else {
		toolCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
		res = e.tools.Execute(toolCtx, call.Name, call.Arguments, req.Exec)
		cancel()
	}

	if cb.OnToolEnd != nil {
		cb.OnToolEnd(req.ChatID, step, call.Name, res)
	}
	return res
}

// finishAborted keeps whatever text streamed before the stop as a partial
// answer.
func (e *Executor) finishAborted(cb Callbacks, chatID, partial string, history []provider.Message, steps int, usage provider.Usage, log *zap.Logger) Result {
	res := Result{
		Outcome: OutcomeAborted,
		Answer:  partial,
		History: history,
		Steps:   steps,
		Usage:   usage,
		Err:     ErrAborted,
	}
	log.Info("turn aborted", zap.Int("steps", steps))
	if cb.OnComplete != nil {
		cb.OnComplete(chatID, res)
	}
	return res
}

func (e *Executor) finishFailed(cb Callbacks, chatID string, history []provider.Message, steps int, usage provider.Usage, err error, log *zap.Logger) Result {
	res := Result{
		Outcome: OutcomeFailed,
		History: history,
		Steps:   steps,
		Usage:   usage,
		Err:     err,
	}
	log.Error("turn failed", zap.Int("steps", steps), zap.Error(err))
	if cb.OnError != nil {
		cb.OnError(chatID, err)
	}
	return res
}

func (e *Executor) save(req TurnRequest, step int, history []provider.Message) {
	if e.checkpoints == nil {
		return
	}
	err := e.checkpoints.Save(context.Background(), checkpoint.Snapshot{
		SessionID: req.ChatID,
		Turn:      req.Turn,
		Step:      step,
		History:   history,
	})
	if err != nil {
		e.log.Warn("checkpoint save failed", zap.String("chatId", req.ChatID), zap.Error(err))
	}
}

func formatToolResult(name string, step int, res tools.Result) string {
	body, err := json.Marshal(res)
	if err != nil {
		body = []byte(fmt.Sprintf(`{"status":"error","error":%q}`, err.Error()))
	}
	return fmt.Sprintf("Tool result for %s (step %d):\n%s", name, step, body)
}
