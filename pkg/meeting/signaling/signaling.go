// Package signaling maintains the control connection of one meeting
// session: a websocket carrying the JSON message catalog of package
// protocol. The channel is transport only: joining, roster handling and
// negotiation policy belong to the session controller. A channel never
// reconnects by itself; when the socket drops it reports a ClosedEvent
// and the embedding application decides what happens next.
package signaling

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/core"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
)

const (
	defaultDialTimeout = 10 * time.Second
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	// Voice payloads ride the socket base64-encoded, so frames run large.
	maxMessageSize = 1 << 20
	eventBuffer    = 256
)

// Status describes the channel lifecycle.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusClosed       Status = "closed"
)

// Event is emitted by Channel.Events().
type Event interface {
	signalingEventType() string
}

// MessageEvent carries one decoded inbound message.
type MessageEvent struct {
	Msg protocol.Message
}

func (e MessageEvent) signalingEventType() string { return "message" }

// ClosedEvent reports that the socket is gone. Err is nil on a clean
// close, otherwise the transport error.
type ClosedEvent struct {
	Err error
}

func (e ClosedEvent) signalingEventType() string { return "closed" }

// Config describes how to reach the meeting endpoint.
type Config struct {
	// URL is the server base, e.g. "wss://host" or "http://host:8080".
	// http/https are rewritten to ws/wss.
	URL string

	// RoomID selects the meeting room.
	RoomID string

	// Token is the bearer credential, sent as a query parameter on the
	// upgrade request. Required; Dial rejects a blank token before any
	// network activity.
	Token string

	// DialTimeout bounds the websocket dial + upgrade. Default: 10s.
	DialTimeout time.Duration

	// Logger for frame-level diagnostics. Default: slog.Default().
	Logger *slog.Logger

	// Dialer overrides the websocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// Channel is one live signaling connection. Safe for concurrent use;
// one Channel serves exactly one session and is discarded after Close.
type Channel struct {
	cfg    Config
	logger *slog.Logger
	conn   *websocket.Conn

	events chan Event
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool

	errMu sync.Mutex
	err   error
}

// Dial connects and starts the read loop. The context bounds only the
// dial; pass a context without a deadline to get the default timeout.
func Dial(ctx context.Context, cfg Config) (*Channel, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if strings.TrimSpace(cfg.RoomID) == "" {
		return nil, core.NewConfigError("room id required", "room_id")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, core.NewConfigError("auth token required", "token")
	}
	wsURL, err := endpointURL(cfg.URL, cfg.RoomID, cfg.Token)
	if err != nil {
		return nil, err
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := cfg.DialTimeout
		if timeout <= 0 {
			timeout = defaultDialTimeout
		}
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, core.NewAuthError("signaling auth rejected")
			}
			return nil, core.NewNetworkError("signaling dial failed", err).WithCode(strconv.Itoa(resp.StatusCode))
		}
		return nil, core.NewNetworkError("signaling dial failed", err)
	}

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ch := &Channel{
		cfg:    cfg,
		logger: cfg.Logger.With("room_id", cfg.RoomID),
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go ch.readLoop()
	go ch.pingLoop()
	return ch, nil
}

// Events yields inbound messages and the terminal ClosedEvent. The
// channel is closed after the socket is gone.
func (c *Channel) Events() <-chan Event { return c.events }

// Done is closed when the read loop has exited.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Status reports the channel lifecycle state. A socket that died without a
// close handshake reports disconnected; deliberate closes report closed.
func (c *Channel) Status() Status {
	select {
	case <-c.done:
		c.errMu.Lock()
		err := c.err
		c.errMu.Unlock()
		if err != nil {
			return StatusDisconnected
		}
		return StatusClosed
	default:
	}
	if c.closed.Load() {
		return StatusClosed
	}
	return StatusConnected
}

// Err returns the terminal transport error, if any, once the channel
// has closed.
func (c *Channel) Err() error {
	<-c.done
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Send marshals and writes one message. Returns a network error once
// the channel is closed.
func (c *Channel) Send(msg protocol.Message) error {
	if c.closed.Load() {
		return core.NewNetworkError("signaling channel closed", nil)
	}
	data, err := protocol.Marshal(msg)
	if err != nil {
		return core.NewInternalError("marshal signaling message", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return core.NewNetworkError("write signaling message", err)
	}
	return nil
}

// Close shuts the socket down. Idempotent; blocks until the read loop
// has drained.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *Channel) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Channel) readLoop() {
	defer close(c.done)
	defer close(c.events)

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.emit(ClosedEvent{})
				return
			}
			c.setErr(err)
			c.emit(ClosedEvent{Err: err})
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed frames never kill the session.
			c.logger.Warn("dropping malformed signaling frame", "error", err)
			continue
		}
		if unknown, ok := msg.(protocol.Unknown); ok {
			c.logger.Debug("dropping unknown signaling message", "message_type", unknown.TypeName)
			continue
		}
		c.emit(MessageEvent{Msg: msg})
	}
}

func (c *Channel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			// WriteControl is safe alongside WriteMessage.
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *Channel) emit(e Event) {
	select {
	case c.events <- e:
	default:
		// Keep the read loop alive if the owner stops consuming.
		c.logger.Warn("signaling event dropped", "type", e.signalingEventType())
	}
}

// endpointURL builds the room websocket URL from the server base.
func endpointURL(base, roomID, token string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", core.NewConfigError("server url required", "url")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", core.NewConfigError("invalid server url", "url")
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", core.NewConfigError("server url must be ws, wss, http or https", "url")
	}
	u.Path = path.Join(u.Path, "v1", "meetings", roomID, "ws")
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
