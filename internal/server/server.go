// Package server exposes the agent on localhost: a WebSocket event stream
// with replay, a chat ingress endpoint, and a health probe. The browser UI
// and anything else on the machine talk to this instead of the relay.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"helixmind/internal/chat"
	"helixmind/internal/events"
)

type Server struct {
	Addr    string
	Bus     *events.Bus
	Control *chat.Control
	Handler *chat.Handler
	Logger  *zap.Logger

	ring     *ring
	upgrader websocket.Upgrader

	mu      sync.Mutex
	addr    net.Addr
	clients map[*wsClient]struct{}
}

func New(addr string, bus *events.Bus, ctrl *chat.Control, handler *chat.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		Addr:    addr,
		Bus:     bus,
		Control: ctrl,
		Handler: handler,
		Logger:  log,
		ring:    newRing(256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*wsClient]struct{}),
	}
}

// URL reports the base address once the listener is up, "" before that.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return "http://" + s.addr.String()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.serveWS)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return corsMiddleware(mux)
}

// Run serves until ctx is cancelled. It records bus events into the replay
// ring for the whole lifetime of the server.
func (s *Server) Run(ctx context.Context) error {
	recCh, unsub := s.Bus.Subscribe(256)
	recDone := make(chan struct{})
	go func() {
		defer close(recDone)
		for ev := range recCh {
			s.ring.add(ev)
		}
	}()
	defer func() {
		unsub()
		<-recDone
	}()

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.Logger.Info("local server listening", zap.String("addr", ln.Addr().String()))

	srv := &http.Server{Handler: s.routes()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
		s.closeClients()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) addClient(c *wsClient) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) closeClients() {
	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()
}

type chatRequest struct {
	Text   string `json:"text"`
	ChatID string `json:"chatId"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}
	id := s.Handler.ResolveChatID(req.ChatID)
	go s.Handler.HandleChat(context.Background(), id, req.Text)
	writeJSON(w, http.StatusAccepted, map[string]string{"chatId": id})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	clients := len(s.clients)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": clients,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
