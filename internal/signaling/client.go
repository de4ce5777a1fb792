package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	maxFrameSize = 64 * 1024
)

var (
	ErrPeerClosed     = errors.New("peer connection closed")
	ErrSendBufferFull = errors.New("peer send buffer full")
)

// Client is one WebSocket participant connection. Its send buffer is drained
// FIFO by writePump, which keeps per-recipient ordering.
type Client struct {
	conn    *websocket.Conn
	session *Session
	logger  *zap.Logger

	mu     sync.Mutex
	send   chan Envelope
	closed bool
}

func newClient(conn *websocket.Conn, bufferSize int, logger *zap.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan Envelope, bufferSize),
		logger: logger,
	}
}

// Send enqueues env without blocking. A slow reader loses envelopes rather than stalling the room.
func (c *Client) Send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrPeerClosed
	}
	select {
	case c.send <- env:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.session.Close()
		c.closeSend()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))

		c.session.HandleRaw(data)
		if c.session.State() == StateClosed {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
