// Package relay maintains the outbound WebSocket connection to the browser
// relay: authenticate, forward agent events, answer control messages, and
// reconnect with backoff when the link drops.
package relay

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Frame is the wire envelope for protocol and control traffic. Agent events
// are forwarded as their own JSON frames and never pass through this type.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Frame types the client sends.
const (
	TypeAuth = "cli_auth"
	TypeMeta = "instance_meta"
	TypePing = "ping"
	TypePong = "pong"
)

// Frame types the relay sends back.
const (
	TypeAuthOK   = "cli_auth_ok"
	TypeAuthFail = "cli_auth_fail"
)

// InstanceMeta describes this CLI instance to the relay after auth.
type InstanceMeta struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	WorkDir string `json:"workDir"`
	PID     int    `json:"pid"`
}

type State string

const (
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateConnected      State = "connected"
	StateClosed         State = "closed"
)

// Backoff returns the delay before reconnect attempt n (1-based): the floor
// doubled per attempt, capped at the ceiling. A successful dial resets the
// caller's attempt counter.
func Backoff(attempt int, floor, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if floor <= 0 {
		floor = time.Second
	}
	if ceiling < floor {
		ceiling = floor
	}
	shift := attempt - 1
	if shift > 20 {
		shift = 20
	}
	d := floor << uint(shift)
	if d > ceiling || d < floor {
		return ceiling
	}
	return d
}

// NormalizeURL turns a configured relay address into a dialable WebSocket
// URL: http(s) schemes map to ws(s) and a missing path defaults to /ws.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("relay url: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay url: missing host in %q", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}
