package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"collab-service/internal/auth"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Text updates carry whole note
	// bodies, so this is far larger than a chat frame.
	maxMessageSize = 256 * 1024
)

var ErrClientDisconnected = errors.New("client disconnected")

// conn is the subset of *websocket.Conn the client uses, extracted so tests
// can run pumps against a fake transport.
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Client is one authenticated socket. It owns the connection session: the
// single room the socket currently belongs to and the color assigned on join.
// Session state is only mutated by the hub loop.
type Client struct {
	id   string
	hub  *Hub
	conn conn
	send chan []byte

	identity auth.Identity

	// Session state, owned by the hub loop.
	mu     sync.RWMutex
	roomID string
	color  string

	// cursorLimiter drops cursor events arriving faster than the throttle
	// window. Last sample within a window wins; nothing is queued.
	cursorLimiter *rate.Limiter

	ctx        context.Context
	cancel     context.CancelFunc
	closed     int32
	sendClosed int32

	wg sync.WaitGroup
}

func NewClient(hub *Hub, c conn, identity auth.Identity, throttle time.Duration) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		id:            uuid.New().String(),
		hub:           hub,
		conn:          c,
		send:          make(chan []byte, 256),
		identity:      identity,
		cursorLimiter: rate.NewLimiter(rate.Every(throttle), 1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) Identity() auth.Identity {
	return c.identity
}

// Room returns the note room this connection currently belongs to, or "".
func (c *Client) Room() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Client) Color() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.color
}

func (c *Client) setSession(roomID, color string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = roomID
	c.color = color
}

func (c *Client) clearSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID = ""
	c.color = ""
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

func (c *Client) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.cancel()
	}
}

func (c *Client) closeSendChannel() {
	if atomic.CompareAndSwapInt32(&c.sendClosed, 0, 1) {
		close(c.send)
	}
}

// readPump reads inbound messages and hands them to the hub. It owns closing
// the connection: when it returns the client is unregistered and cleaned up.
func (c *Client) readPump() {
	c.wg.Add(1)
	defer func() {
		c.wg.Done()
		c.close()

		select {
		case c.hub.unregister <- c:
		case <-time.After(5 * time.Second):
			slog.Warn("Timeout sending unregister request",
				"clientID", c.id, "userID", c.identity.UserID)
		}

		if err := c.conn.Close(); err != nil {
			slog.Debug("Error closing connection",
				"clientID", c.id, "userID", c.identity.UserID, "error", err)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		if c.isClosed() {
			return websocket.ErrCloseSent
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error",
					"clientID", c.id, "userID", c.identity.UserID, "error", err)
			} else {
				slog.Debug("WebSocket connection closed",
					"clientID", c.id, "userID", c.identity.UserID, "error", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			slog.Warn("Ignoring malformed message",
				"clientID", c.id, "userID", c.identity.UserID, "error", err)
			continue
		}
		if err := msg.Validate(); err != nil {
			slog.Warn("Ignoring message with invalid type",
				"clientID", c.id, "userID", c.identity.UserID, "error", err)
			continue
		}

		select {
		case c.hub.handleMessage <- &ClientMessage{Client: c, Message: &msg}:
		case <-time.After(5 * time.Second):
			slog.Warn("Timeout sending message to hub",
				"clientID", c.id, "userID", c.identity.UserID)
		case <-c.ctx.Done():
			return
		}
	}
}

// writePump serializes all writes to the connection and keeps the peer alive
// with pings.
func (c *Client) writePump() {
	c.wg.Add(1)
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		c.wg.Done()
		ticker.Stop()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("Error writing message",
					"clientID", c.id, "userID", c.identity.UserID, "error", err)
				return
			}

		case <-ticker.C:
			if c.isClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("Error sending ping",
					"clientID", c.id, "userID", c.identity.UserID, "error", err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues a message for delivery. A slow consumer whose buffer is full
// gets the message dropped rather than blocking the hub.
func (c *Client) Send(message *Message) error {
	if c.isClosed() {
		return ErrClientDisconnected
	}

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	default:
		slog.Warn("Client send buffer full, dropping message",
			"clientID", c.id, "userID", c.identity.UserID, "type", message.Type)
		return nil
	}
}

// SendError emits the non-fatal application error event.
func (c *Client) SendError(message string) {
	if err := c.Send(NewErrorMessage(message)); err != nil {
		slog.Debug("Failed to send error event",
			"clientID", c.id, "userID", c.identity.UserID, "error", err)
	}
}
