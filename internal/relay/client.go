package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"helixmind/internal/chat"
	"helixmind/internal/events"
)

// ErrAuthRejected means the relay refused our credentials. The client closes
// permanently; retrying with the same key would just burn the backoff.
var ErrAuthRejected = errors.New("relay: credentials rejected")

const authTimeout = 10 * time.Second

type Options struct {
	URL     string
	APIKey  string
	Meta    InstanceMeta
	Control *chat.Control
	Bus     *events.Bus

	Heartbeat      time.Duration
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration

	Logger *zap.Logger
	Dialer *websocket.Dialer
}

type Client struct {
	url     string
	apiKey  string
	meta    InstanceMeta
	control *chat.Control
	bus     *events.Bus

	heartbeat time.Duration
	floor     time.Duration
	ceiling   time.Duration

	log    *zap.Logger
	dialer *websocket.Dialer

	pingSeq atomic.Int64

	mu    sync.Mutex
	state State
}

func New(opts Options) (*Client, error) {
	u, err := NormalizeURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 30 * time.Second
	}
	if opts.BackoffFloor <= 0 {
		opts.BackoffFloor = time.Second
	}
	if opts.BackoffCeiling < opts.BackoffFloor {
		opts.BackoffCeiling = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		url:       u,
		apiKey:    opts.APIKey,
		meta:      opts.Meta,
		control:   opts.Control,
		bus:       opts.Bus,
		heartbeat: opts.Heartbeat,
		floor:     opts.BackoffFloor,
		ceiling:   opts.BackoffCeiling,
		log:       opts.Logger,
		dialer:    opts.Dialer,
		state:     StateClosed,
	}, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run dials and serves the relay connection until ctx ends or auth is
// rejected. Dropped connections redial with exponential backoff; a
// successful dial resets the backoff to the floor.
func (c *Client) Run(ctx context.Context) error {
	defer c.setState(StateClosed)

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			delay := Backoff(attempt, c.floor, c.ceiling)
			c.log.Warn("relay dial failed",
				zap.String("url", c.url), zap.Int("attempt", attempt),
				zap.Duration("retryIn", delay), zap.Error(err))
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}
		attempt = 0

		err = c.serve(ctx, conn)
		if errors.Is(err, ErrAuthRejected) {
			c.log.Error("relay rejected credentials, closing permanently")
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		delay := Backoff(attempt, c.floor, c.ceiling)
		c.log.Warn("relay connection lost",
			zap.Duration("retryIn", delay), zap.Error(err))
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}
	return conn, nil
}

// serve owns one live connection: authenticate synchronously, then run the
// read/write/forward pumps until something breaks.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	c.setState(StateAuthenticating)
	if err := conn.WriteJSON(c.authFrame()); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	if err := conn.SetReadDeadline(time.Now().Add(authTimeout)); err != nil {
		return err
	}
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("read auth reply: %w", err)
		}
		if f.Type == TypeAuthOK {
			break
		}
		if f.Type == TypeAuthFail {
			return ErrAuthRejected
		}
		// Anything else before the auth reply is ignored.
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	c.setState(StateConnected)
	c.log.Info("relay connected", zap.String("url", c.url))

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	send := make(chan any, 64)
	send <- c.metaFrame()

	var evCh <-chan events.Event
	if c.bus != nil {
		ch, unsub := c.bus.Subscribe(128)
		defer unsub()
		evCh = ch
	}

	errCh := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- c.writePump(sctx, conn, send)
		cancel()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- c.readPump(sctx, conn, send)
		cancel()
	}()

	if evCh != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.forwardEvents(sctx, evCh, send)
		}()
	}

	err := <-errCh
	cancel()
	conn.Close()
	wg.Wait()
	return err
}

// writePump is the only goroutine that writes to the socket. It also owns
// the heartbeat ticker.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn, send <-chan any) error {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-send:
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			ping := Frame{
				Type:      TypePing,
				RequestID: fmt.Sprintf("ping-%d", c.pingSeq.Add(1)),
				Timestamp: now(),
			}
			if err := conn.WriteJSON(ping); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

// readPump dispatches inbound frames: protocol frames are handled here,
// control messages go to the control handler, unknown types are dropped.
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn, send chan<- any) error {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		switch f.Type {
		case TypePong:
			c.log.Debug("relay pong", zap.String("requestId", f.RequestID))
		case TypePing:
			reply := Frame{Type: TypePong, RequestID: f.RequestID, Timestamp: now()}
			if err := push(ctx, send, reply); err != nil {
				return err
			}
		default:
			res, handled := c.handleControl(ctx, f)
			if !handled {
				c.log.Debug("relay frame ignored", zap.String("type", f.Type))
				continue
			}
			if err := push(ctx, send, res); err != nil {
				return err
			}
		}
	}
}

func (c *Client) handleControl(ctx context.Context, f Frame) (Frame, bool) {
	if c.control == nil {
		return Frame{}, false
	}
	res, handled := c.control.Handle(ctx, f.Type, f.Data, f.RequestID)
	if !handled {
		return Frame{}, false
	}
	return Frame{
		Type:      res.Type,
		RequestID: res.RequestID,
		Data:      res.Data,
		Timestamp: now(),
	}, true
}

// forwardEvents relays bus events verbatim. Best effort: if the connection
// is going down the event is dropped, never blocked on.
func (c *Client) forwardEvents(ctx context.Context, evCh <-chan events.Event, send chan<- any) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evCh:
			if !ok {
				return
			}
			if err := push(ctx, send, ev); err != nil {
				return
			}
		}
	}
}

func (c *Client) authFrame() Frame {
	payload, _ := json.Marshal(map[string]string{
		"apiKey":    c.apiKey,
		"timestamp": now(),
	})
	return Frame{Type: TypeAuth, Data: payload, Timestamp: now()}
}

func (c *Client) metaFrame() Frame {
	payload, _ := json.Marshal(c.meta)
	return Frame{Type: TypeMeta, Data: payload, Timestamp: now()}
}

func push(ctx context.Context, send chan<- any, msg any) error {
	select {
	case send <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
