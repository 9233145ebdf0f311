package rooms

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
)

// ClientConfig shapes one websocket member connection.
type ClientConfig struct {
	Conn   *websocket.Conn
	Logger *slog.Logger

	MaxMessageBytes int64
	PingInterval    time.Duration
	PongTimeout     time.Duration
	WriteTimeout    time.Duration
	SendBuffer      int

	// Inbound budget; zero rates disable limiting.
	MessageRate  int
	ByteRate     int64
	BurstSeconds int
}

// Client adapts one websocket connection into a room Outbound plus the
// read loop feeding frames back into the room. One reader and one
// writer goroutine per connection, per gorilla discipline.
type Client struct {
	conn   *websocket.Conn
	logger *slog.Logger

	maxMessageBytes int64
	pingInterval    time.Duration
	pongTimeout     time.Duration
	writeTimeout    time.Duration

	limiter *inboundLimiter

	mu        sync.Mutex
	send      chan []byte
	closed    bool
	closeCode string
	closeMsg  string

	room *Room
	id   string
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 1 << 20
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	return &Client{
		conn:            cfg.Conn,
		logger:          cfg.Logger,
		maxMessageBytes: cfg.MaxMessageBytes,
		pingInterval:    cfg.PingInterval,
		pongTimeout:     cfg.PongTimeout,
		writeTimeout:    cfg.WriteTimeout,
		limiter:         newInboundLimiter(cfg.MessageRate, cfg.ByteRate, cfg.BurstSeconds, nil),
		send:            make(chan []byte, cfg.SendBuffer),
	}
}

// Deliver queues one frame for the write pump. A full queue reports
// false so the room can drop the connection; frames for a connection
// already closing are swallowed.
func (c *Client) Deliver(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close ends the outbound side. Queued frames still flush, then a
// goodbye error frame (when code is set) and the websocket close.
func (c *Client) Close(code, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode, c.closeMsg = code, message
	close(c.send)
}

// Kill drops the socket immediately, bypassing the orderly goodbye.
// Used by the drain path when the grace period runs out.
func (c *Client) Kill() {
	_ = c.conn.Close()
}

// Notify queues an advisory error frame without closing anything.
func (c *Client) Notify(code, message string) error {
	data, err := protocol.Marshal(protocol.ErrorMessage{Type: protocol.TypeError, Code: code, Message: message})
	if err != nil {
		return err
	}
	if !c.Deliver(data) {
		return fmt.Errorf("outbound queue full")
	}
	return nil
}

// Run drives the connection until it drops: the write pump on its own
// goroutine, the read loop on the calling one. Blocks until the read
// side is done; the member has left the room by then.
func (c *Client) Run(room *Room, id string) {
	c.room = room
	c.id = id
	c.logger = c.logger.With("room_id", room.ID, "participant_id", id)
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.room.Leave(c.id)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("meeting socket read ended", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			c.logger.Warn("dropping non-text meeting frame")
			continue
		}
		if !c.limiter.Allow(len(data)) {
			c.logger.Warn("inbound budget exceeded, dropping frame", "bytes", len(data))
			continue
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed meeting frame", "error", err)
			continue
		}
		if unknown, ok := msg.(protocol.Unknown); ok {
			c.logger.Debug("dropping unknown meeting message", "message_type", unknown.TypeName)
			continue
		}
		c.room.HandleMessage(c.id, msg)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if !ok {
				c.writeGoodbye()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeGoodbye flushes the eviction reason, if any, then the close
// frame. Runs after the send channel closed, so closeCode is settled.
func (c *Client) writeGoodbye() {
	if c.closeCode != "" {
		if data, err := protocol.Marshal(protocol.ErrorMessage{Type: protocol.TypeError, Code: c.closeCode, Message: c.closeMsg}); err == nil {
			_ = c.conn.WriteMessage(websocket.TextMessage, data)
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
