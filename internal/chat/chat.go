// Package chat drives agent turns for remote-initiated conversations (the
// browser relay and the local web UI) and exposes the control operations
// those transports share.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"helixmind/internal/agent"
	"helixmind/internal/bugs"
	"helixmind/internal/events"
	"helixmind/internal/memory"
	"helixmind/internal/project"
	"helixmind/internal/prompt"
	"helixmind/internal/provider"
	"helixmind/internal/session"
	"helixmind/internal/tools"
)

// Pusher delivers events to whatever transport is attached. Implementations
// must not block.
type Pusher interface {
	Push(ev events.Event)
}

// BusPusher publishes onto the shared event bus.
type BusPusher struct {
	Bus *events.Bus
}

func (p BusPusher) Push(ev events.Event) { p.Bus.Publish(ev) }

// Handler runs one turn per incoming chat message. Sessions come from the
// registry keyed by chat id; memory and the journal are optional and their
// failures never block a turn.
type Handler struct {
	Registry *session.Registry
	Executor *agent.Executor
	Memory   memory.Engine
	Journal  *bugs.Journal
	Project  *project.Info
	Push     Pusher
	Logger   *zap.Logger

	WorkDir      string
	MaxOutput    int
	MemoryBudget int

	// Base is the context background turns run under. Defaults to
	// context.Background; abort still works through the session token.
	Base context.Context
}

func (h *Handler) log() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

func (h *Handler) base() context.Context {
	if h.Base == nil {
		return context.Background()
	}
	return h.Base
}

func (h *Handler) push(ev events.Event) {
	if h.Push != nil {
		h.Push.Push(ev)
	}
}

// ResolveChatID returns the id a message should land on, minting one for
// empty ids so the caller can acknowledge before the turn starts.
func (h *Handler) ResolveChatID(chatID string) string {
	if chatID == "" {
		return uuid.NewString()
	}
	return chatID
}

// RunTurn executes one full turn for the chat with the caller's callbacks.
// The session gate applies as configured, so interactive transports get
// their prompts. A busy session rejects the message instead of queueing it.
func (h *Handler) RunTurn(ctx context.Context, chatID, text string, cb agent.Callbacks) agent.Result {
	sess := h.Registry.GetOrCreate(chatID)

	turnCtx, done, turn, err := sess.BeginTurn(ctx)
	if err != nil {
		return agent.Result{Outcome: agent.OutcomeFailed, Err: err}
	}
	defer done()

	system := BuildPrompt(turnCtx, PromptInputs{
		Memory:   h.Memory,
		Budget:   h.MemoryBudget,
		Journal:  h.Journal,
		Project:  h.Project,
		Summary:  sess.Summary().Render(),
		Identity: h.Executor.Identity(),
		Query:    text,
		Logger:   h.log(),
	})

	history := append(sess.History(), provider.Message{Role: provider.RoleUser, Content: text})

	exec := tools.ExecContext{
		WorkDir:   h.WorkDir,
		MaxOutput: h.MaxOutput,
		Undo:      sess.Undo(),
		Memory:    h.Memory,
		Logger:    h.log(),
	}
	if h.Journal != nil {
		exec.Bugs = h.Journal
	}

	res := h.Executor.Run(turnCtx, agent.TurnRequest{
		ChatID:    chatID,
		Turn:      turn,
		System:    system,
		History:   history,
		Gate:      sess.Gate(),
		Exec:      exec,
		Callbacks: cb,
	})

	sess.SetHistory(res.History)
	if res.Outcome == agent.OutcomeCompleted {
		sess.Summary().NoteTurn(text, res.Answer)
		go h.writeTurnMemory(chatID, text, res.Answer)
	}
	return res
}

// HandleChat runs one turn for a remote-initiated chat, streaming progress
// as events. Remote sessions have nobody at a terminal, so skip-all is
// forced on the session gate.
func (h *Handler) HandleChat(ctx context.Context, chatID, text string) agent.Result {
	sess := h.Registry.GetOrCreate(chatID)
	sess.Gate().SetSkipAll(true)

	res := h.RunTurn(ctx, chatID, text, h.callbacks())
	if errors.Is(res.Err, session.ErrTurnActive) {
		h.log().Warn("chat rejected", zap.String("chatId", chatID), zap.Error(res.Err))
		h.push(events.New(events.TypeChatError, chatID, errorPayload{Error: res.Err.Error()}))
	}
	return res
}

func (h *Handler) callbacks() agent.Callbacks {
	return agent.Callbacks{
		OnStarted: func(chatID string, turn int) {
			h.push(events.New(events.TypeChatStarted, chatID, startedPayload{Turn: turn}))
		},
		OnTextChunk: func(chatID, chunk string) {
			h.push(events.New(events.TypeChatChunk, chatID, chunkPayload{Text: chunk}))
		},
		OnToolStart: func(chatID string, step int, name, input string) {
			h.push(events.New(events.TypeToolStart, chatID, toolStartPayload{
				Step: step, Name: name, Input: json.RawMessage(input),
			}))
		},
		OnToolEnd: func(chatID string, step int, name string, res tools.Result) {
			h.push(events.New(events.TypeToolEnd, chatID, toolEndPayload{
				Step: step, Name: name, Result: res,
			}))
		},
		OnComplete: func(chatID string, res agent.Result) {
			h.push(events.New(events.TypeChatComplete, chatID, completePayload{
				Outcome: string(res.Outcome),
				Answer:  res.Answer,
				Steps:   res.Steps,
				Usage:   res.Usage,
			}))
		},
		OnError: func(chatID string, err error) {
			h.push(events.New(events.TypeChatError, chatID, errorPayload{Error: err.Error()}))
		},
	}
}

// writeTurnMemory records a turn digest in long-term memory. Fire and
// forget; a broken memory store must never surface to the chat.
func (h *Handler) writeTurnMemory(chatID, userText, answer string) {
	if h.Memory == nil {
		return
	}
	ctx, cancel := context.WithTimeout(h.base(), 5*time.Second)
	defer cancel()
	digest := fmt.Sprintf("User asked: %s\nOutcome: %s", clip(userText, 200), clip(answer, 300))
	if err := h.Memory.Store(ctx, digest, memory.KindTurnSummary, map[string]string{"chat": chatID}); err != nil {
		h.log().Debug("turn memory write failed", zap.String("chatId", chatID), zap.Error(err))
	}
}

// clip truncates to at most max bytes without splitting a rune.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

type startedPayload struct {
	Turn int `json:"turn"`
}

type chunkPayload struct {
	Text string `json:"text"`
}

type toolStartPayload struct {
	Step  int             `json:"step"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

type toolEndPayload struct {
	Step   int          `json:"step"`
	Name   string       `json:"name"`
	Result tools.Result `json:"result"`
}

type completePayload struct {
	Outcome string         `json:"outcome"`
	Answer  string         `json:"answer,omitempty"`
	Steps   int            `json:"steps"`
	Usage   provider.Usage `json:"usage"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// PromptInputs is everything BuildPrompt may consult. All fields except
// Identity are optional.
type PromptInputs struct {
	Memory   memory.Engine
	Budget   int
	Journal  *bugs.Journal
	Project  *project.Info
	Summary  string
	Identity prompt.Identity
	Query    string
	Logger   *zap.Logger
}

// BuildPrompt gathers context and assembles the system prompt. Every lookup
// failure degrades to an empty section; the prompt itself always comes back
// usable.
func BuildPrompt(ctx context.Context, in PromptInputs) string {
	log := in.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var mem memory.QueryResult
	if in.Memory != nil {
		res, err := in.Memory.Query(ctx, in.Query, in.Budget)
		if err != nil {
			log.Warn("memory query failed", zap.Error(err))
		} else {
			mem = res
		}
	}

	bugSummary := ""
	if in.Journal != nil {
		sum, err := in.Journal.Summary(ctx, 5)
		if err != nil {
			log.Warn("bug summary failed", zap.Error(err))
		} else {
			bugSummary = sum
		}
	}

	return prompt.Assemble(in.Project, mem, in.Summary, in.Identity, bugSummary)
}
