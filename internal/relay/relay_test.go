package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"helixmind/internal/agent"
	"helixmind/internal/chat"
	"helixmind/internal/events"
	"helixmind/internal/provider"
	"helixmind/internal/session"
	"helixmind/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBackoff(t *testing.T) {
	floor := time.Second
	ceiling := 30 * time.Second
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{7, 30 * time.Second},
		{50, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempt, floor, ceiling); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"http://relay.example.com", "ws://relay.example.com/ws", true},
		{"https://relay.example.com", "wss://relay.example.com/ws", true},
		{"https://relay.example.com/custom", "wss://relay.example.com/custom", true},
		{"ws://relay.example.com/", "ws://relay.example.com/ws", true},
		{"wss://relay.example.com/ws", "wss://relay.example.com/ws", true},
		{"ftp://relay.example.com", "", false},
		{"http://", "", false},
	}
	for _, tc := range cases {
		got, err := NormalizeURL(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("NormalizeURL(%q) = (%q, %v), want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("NormalizeURL(%q) succeeded, want error", tc.in)
		}
	}
}

type relayServer struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	dials atomic.Int64
}

func newRelayServer(t *testing.T) *relayServer {
	t.Helper()
	rs := &relayServer{conns: make(chan *websocket.Conn, 8)}
	upgrader := websocket.Upgrader{}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		rs.dials.Add(1)
		rs.conns <- conn
	}))
	t.Cleanup(func() {
		rs.srv.Close()
		for {
			select {
			case conn := <-rs.conns:
				conn.Close()
			default:
				return
			}
		}
	})
	return rs
}

func (rs *relayServer) url() string {
	return "ws" + strings.TrimPrefix(rs.srv.URL, "http")
}

func (rs *relayServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-rs.conns:
		return conn
	case <-time.After(3 * time.Second):
		t.Fatal("client never connected")
		return nil
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var m map[string]any
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("server read: %v", err)
	}
	return m
}

func awaitFrame(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for i := 0; i < 20; i++ {
		f := readFrame(t, conn)
		if f["type"] == typ {
			return f
		}
	}
	t.Fatalf("frame %q never arrived", typ)
	return nil
}

// acceptAuth completes the handshake from the server side and consumes the
// instance_meta frame.
func (rs *relayServer) acceptAuth(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := rs.accept(t)
	auth := readFrame(t, conn)
	if auth["type"] != TypeAuth {
		t.Fatalf("first frame = %v, want %s", auth["type"], TypeAuth)
	}
	data, _ := auth["data"].(map[string]any)
	if data["apiKey"] != "sk-relay" || data["timestamp"] == "" {
		t.Fatalf("auth payload = %v", data)
	}
	if err := conn.WriteJSON(Frame{Type: TypeAuthOK}); err != nil {
		t.Fatal(err)
	}
	meta := awaitFrame(t, conn, TypeMeta)
	metaData, _ := meta["data"].(map[string]any)
	if metaData["name"] != "helix-test" {
		t.Fatalf("meta = %v", metaData)
	}
	return conn
}

func newTestControl(t *testing.T) *chat.Control {
	t.Helper()
	h := &chat.Handler{
		Registry: session.NewRegistry(nil),
		Executor: agent.NewExecutor(provider.NewMock(), tools.NewRegistry(), nil, agent.Config{}, nil),
		WorkDir:  t.TempDir(),
	}
	return &chat.Control{Handler: h}
}

func startClient(t *testing.T, opts Options) (*Client, context.CancelFunc, chan error) {
	t.Helper()
	opts.APIKey = "sk-relay"
	opts.Meta = InstanceMeta{Name: "helix-test", Version: "test", PID: 1}
	c, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("client did not stop")
		}
	})
	return c, cancel, done
}

func TestAuthHandshakeAndHeartbeat(t *testing.T) {
	rs := newRelayServer(t)
	c, _, _ := startClient(t, Options{
		URL:       rs.url(),
		Heartbeat: 30 * time.Millisecond,
	})

	conn := rs.acceptAuth(t)

	ping := awaitFrame(t, conn, TypePing)
	id, _ := ping["requestId"].(string)
	if !strings.HasPrefix(id, "ping-") {
		t.Fatalf("ping requestId = %q", id)
	}

	if err := conn.WriteJSON(Frame{Type: TypePing, RequestID: "srv-7"}); err != nil {
		t.Fatal(err)
	}
	pong := awaitFrame(t, conn, TypePong)
	if pong["requestId"] != "srv-7" {
		t.Fatalf("pong = %v", pong)
	}

	if c.State() != StateConnected {
		t.Fatalf("state = %s", c.State())
	}
}

func TestAuthFailClosesPermanently(t *testing.T) {
	rs := newRelayServer(t)
	_, _, done := startClient(t, Options{
		URL:          rs.url(),
		BackoffFloor: 10 * time.Millisecond,
	})

	conn := rs.accept(t)
	readFrame(t, conn) // cli_auth
	if err := conn.WriteJSON(Frame{Type: TypeAuthFail}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrAuthRejected) {
			t.Fatalf("Run returned %v, want ErrAuthRejected", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after auth failure")
	}

	time.Sleep(150 * time.Millisecond)
	if n := rs.dials.Load(); n != 1 {
		t.Fatalf("client reconnected after auth failure: %d dials", n)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	rs := newRelayServer(t)
	startClient(t, Options{
		URL:            rs.url(),
		BackoffFloor:   10 * time.Millisecond,
		BackoffCeiling: 50 * time.Millisecond,
	})

	first := rs.acceptAuth(t)
	first.Close()

	second := rs.acceptAuth(t)
	if second == nil {
		t.Fatal("no reconnect")
	}
	if rs.dials.Load() < 2 {
		t.Fatalf("dials = %d, want >= 2", rs.dials.Load())
	}
}

func TestBackoffResetsAfterSuccessfulConnect(t *testing.T) {
	const floor = 50 * time.Millisecond

	var (
		mu    sync.Mutex
		dials []time.Time
	)
	conns := make(chan *websocket.Conn, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials = append(dials, time.Now())
		n := len(dials)
		mu.Unlock()
		// The first three dials fail so the delay escalates past the floor.
		if n <= 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	defer srv.Close()

	c, err := New(Options{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		APIKey:         "sk-relay",
		Meta:           InstanceMeta{Name: "helix-test", Version: "test", PID: 1},
		BackoffFloor:   floor,
		BackoffCeiling: 2 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	defer func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("client did not stop")
		}
	}()

	authOK := func(conn *websocket.Conn) {
		t.Helper()
		readFrame(t, conn) // cli_auth
		if err := conn.WriteJSON(Frame{Type: TypeAuthOK}); err != nil {
			t.Fatal(err)
		}
		awaitFrame(t, conn, TypeMeta)
	}
	acceptConn := func() *websocket.Conn {
		t.Helper()
		select {
		case conn := <-conns:
			return conn
		case <-time.After(3 * time.Second):
			t.Fatal("client never connected")
			return nil
		}
	}

	first := acceptConn()
	defer first.Close()
	authOK(first)

	mu.Lock()
	escalated := dials[2].Sub(dials[1])
	mu.Unlock()
	if escalated < 80*time.Millisecond {
		t.Fatalf("delay before third dial = %v, backoff never escalated", escalated)
	}

	droppedAt := time.Now()
	first.Close()

	second := acceptConn()
	defer second.Close()
	authOK(second)

	mu.Lock()
	gap := dials[4].Sub(droppedAt)
	mu.Unlock()
	// Reset means the redial waits ~floor (50ms); without it the fourth
	// consecutive delay (400ms) would apply.
	if gap > 250*time.Millisecond {
		t.Fatalf("redial after drop took %v, backoff did not reset to floor", gap)
	}
}

func TestControlRoundTrip(t *testing.T) {
	rs := newRelayServer(t)
	ctrl := newTestControl(t)
	ctrl.Handler.Registry.GetOrCreate("abc")

	startClient(t, Options{
		URL:     rs.url(),
		Control: ctrl,
	})
	conn := rs.acceptAuth(t)

	if err := conn.WriteJSON(Frame{Type: "list_sessions", RequestID: "r1"}); err != nil {
		t.Fatal(err)
	}
	res := awaitFrame(t, conn, "sessions")
	if res["requestId"] != "r1" {
		t.Fatalf("response = %v", res)
	}
	data, _ := res["data"].(map[string]any)
	sessions, _ := data["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("sessions = %v", data)
	}
}

func TestUnknownFramesIgnored(t *testing.T) {
	rs := newRelayServer(t)
	startClient(t, Options{URL: rs.url(), Control: newTestControl(t)})
	conn := rs.acceptAuth(t)

	if err := conn.WriteJSON(Frame{Type: "telepathy", RequestID: "r9"}); err != nil {
		t.Fatal(err)
	}
	// The connection must survive; a known control message still works.
	if err := conn.WriteJSON(Frame{Type: "list_sessions", RequestID: "r10"}); err != nil {
		t.Fatal(err)
	}
	res := awaitFrame(t, conn, "sessions")
	if res["requestId"] != "r10" {
		t.Fatalf("response = %v", res)
	}
}

func TestEventsForwardedVerbatim(t *testing.T) {
	rs := newRelayServer(t)
	bus := events.NewBus(nil)
	startClient(t, Options{URL: rs.url(), Bus: bus})
	conn := rs.acceptAuth(t)

	bus.Publish(events.New(events.TypeChatChunk, "c9", map[string]string{"text": "partial"}))

	ev := awaitFrame(t, conn, events.TypeChatChunk)
	if ev["chatId"] != "c9" {
		t.Fatalf("event = %v", ev)
	}
	data, _ := ev["data"].(map[string]any)
	if data["text"] != "partial" {
		t.Fatalf("payload = %v", data)
	}
	if ev["timestamp"] == "" {
		t.Fatal("event lost its timestamp")
	}
}

func TestFrameDataRawJSON(t *testing.T) {
	payload, _ := json.Marshal(map[string]int{"n": 1})
	raw, err := json.Marshal(Frame{Type: "x", Data: payload})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"data":{"n":1}`) {
		t.Fatalf("frame marshals data as %s", raw)
	}
}
