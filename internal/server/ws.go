package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"helixmind/internal/events"
	"helixmind/internal/relay"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) queue(log *zap.Logger, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
		log.Debug("dropping frame for slow websocket client")
	}
}

// serveWS upgrades the connection, replays the ring so the client catches up,
// then streams live events while answering control frames on the same socket.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, 256)}
	s.addClient(client)
	defer s.removeClient(client)

	evCh, unsub := s.Bus.Subscribe(256)
	defer unsub()

	for _, ev := range s.ring.snapshot() {
		client.queue(s.Logger, ev)
	}

	quit := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(client, quit)
	}()

	fwdDone := make(chan struct{})
	go func() {
		defer close(fwdDone)
		s.forward(client, evCh, quit)
	}()

	s.readPump(client)
	conn.Close()
	close(quit)
	<-writerDone
	<-fwdDone
}

func (s *Server) forward(c *wsClient, evCh <-chan events.Event, quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case ev, ok := <-evCh:
			if !ok {
				return
			}
			c.queue(s.Logger, ev)
		}
	}
}

func (s *Server) writePump(c *wsClient, quit <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-quit:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound frames until the connection drops. Control
// messages share the relay's frame shape; unknown types are ignored.
func (s *Server) readPump(c *wsClient) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f relay.Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Type == "" {
			continue
		}
		if s.Control == nil {
			continue
		}
		res, handled := s.Control.Handle(context.Background(), f.Type, f.Data, f.RequestID)
		if !handled {
			s.Logger.Debug("websocket frame ignored", zap.String("type", f.Type))
			continue
		}
		c.queue(s.Logger, relay.Frame{
			Type:      res.Type,
			RequestID: res.RequestID,
			Data:      res.Data,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}
