package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"helixmind/internal/bugs"
)

const autoGoalPreamble = "Work autonomously toward this goal. Inspect the workspace, " +
	"make the changes, and verify them with the available tools. Goal: "

const securityGoal = "Run a security review of this workspace. Look for injection risks, " +
	"unsafe file and process handling, secrets in the tree, and dependency problems. " +
	"Record anything you find with the report_bug tool using kind \"finding\"."

// ControlResult is the response frame for one control message. It marshals
// directly onto the wire for both the relay and the local server.
type ControlResult struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func newControlResult(typ, requestID string, payload any) ControlResult {
	res := ControlResult{Type: typ, RequestID: requestID}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			res.Data = raw
		}
	}
	return res
}

// Control dispatches control-channel messages. Unknown types report
// handled=false and the transport drops them without closing anything.
type Control struct {
	Handler *Handler
	Logger  *zap.Logger
}

func (c *Control) log() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

type startAutoPayload struct {
	Goal string `json:"goal"`
}

type abortPayload struct {
	SessionID string `json:"sessionId"`
}

type sendChatPayload struct {
	Text   string `json:"text"`
	ChatID string `json:"chatId"`
	Mode   string `json:"mode"`
}

// Handle runs one control message and returns the response frame.
func (c *Control) Handle(ctx context.Context, typ string, data json.RawMessage, requestID string) (ControlResult, bool) {
	switch typ {
	case "list_sessions":
		return newControlResult("sessions", requestID, map[string]any{
			"sessions": c.Handler.Registry.List(),
		}), true

	case "start_auto":
		var p startAutoPayload
		if err := json.Unmarshal(data, &p); err != nil || p.Goal == "" {
			return newControlResult("error", requestID, map[string]string{"error": "start_auto requires a goal"}), true
		}
		id := "auto-" + shortID()
		c.spawn(id, autoGoalPreamble+p.Goal)
		return newControlResult("auto_started", requestID, map[string]string{"sessionId": id}), true

	case "start_security":
		id := "sec-" + shortID()
		c.spawn(id, securityGoal)
		return newControlResult("security_started", requestID, map[string]string{"sessionId": id}), true

	case "abort_session":
		var p abortPayload
		_ = json.Unmarshal(data, &p)
		aborted := c.Handler.Registry.Abort(p.SessionID)
		return newControlResult("session_aborted", requestID, map[string]any{
			"sessionId": p.SessionID,
			"aborted":   aborted,
		}), true

	case "send_chat":
		var p sendChatPayload
		if err := json.Unmarshal(data, &p); err != nil || p.Text == "" {
			return newControlResult("error", requestID, map[string]string{"error": "send_chat requires text"}), true
		}
		id := c.Handler.ResolveChatID(p.ChatID)
		c.spawn(id, applyMode(p.Mode, p.Text))
		return newControlResult("chat_accepted", requestID, map[string]string{"chatId": id}), true

	case "get_findings":
		entries, err := c.listJournal(ctx, bugs.KindFinding)
		if err != nil {
			return newControlResult("error", requestID, map[string]string{"error": err.Error()}), true
		}
		return newControlResult("findings", requestID, map[string]any{"findings": entries}), true

	case "get_bugs":
		entries, err := c.listJournal(ctx, bugs.KindBug)
		if err != nil {
			return newControlResult("error", requestID, map[string]string{"error": err.Error()}), true
		}
		return newControlResult("bugs", requestID, map[string]any{"bugs": entries}), true

	default:
		return ControlResult{}, false
	}
}

func (c *Control) spawn(chatID, text string) {
	c.log().Info("control turn started", zap.String("chatId", chatID))
	go c.Handler.HandleChat(c.Handler.base(), chatID, text)
}

func (c *Control) listJournal(ctx context.Context, kind string) ([]bugs.Entry, error) {
	if c.Handler.Journal == nil {
		return []bugs.Entry{}, nil
	}
	entries, err := c.Handler.Journal.List(ctx, kind, 100)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	if entries == nil {
		entries = []bugs.Entry{}
	}
	return entries, nil
}

// AutoGoal renders the autonomous-mode instruction for a goal. The CLI's
// one-shot auto command and the start_auto control op share it.
func AutoGoal(goal string) string { return autoGoalPreamble + goal }

// SecurityReviewGoal returns the standing security-review instruction,
// narrowed to focus when one is given.
func SecurityReviewGoal(focus string) string {
	if focus == "" {
		return securityGoal
	}
	return securityGoal + "\n\nUser focus: " + focus
}

func applyMode(mode, text string) string {
	switch mode {
	case "", "chat":
		return text
	case "security":
		return SecurityReviewGoal(text)
	case "auto":
		return AutoGoal(text)
	default:
		return text
	}
}

func shortID() string {
	return uuid.NewString()[:8]
}
