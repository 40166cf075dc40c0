package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/quizrelay/internal/config"
	"github.com/cory-johannsen/quizrelay/internal/game/protocol"
	"github.com/cory-johannsen/quizrelay/internal/game/relay"
)

var (
	// ErrClientClosed is returned by Send after the connection has closed.
	ErrClientClosed = errors.New("client closed")
	// ErrSendBufferFull is returned by Send when the client's outbound
	// buffer is full; the connection is dropped as a slow consumer.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is one websocket connection. It implements relay.Conn: a stable
// uuid identity plus a buffered, fire-and-forget Send. Frames are read in
// readLoop and written in writeLoop; gorilla/websocket requires each to run
// in a single goroutine.
type Client struct {
	id      string
	conn    *websocket.Conn
	cfg     config.WebsocketConfig
	handler relay.Handler
	logger  *zap.Logger

	send      chan protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, cfg config.WebsocketConfig, handler relay.Handler, logger *zap.Logger) *Client {
	return &Client{
		id:      uuid.NewString(),
		conn:    conn,
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		send:    make(chan protocol.Message, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// Send queues msg for delivery. There is no acknowledgment and no retry. A
// client whose buffer is full is treated as stalled and disconnected; it will
// be discovered by the relay via the usual disconnect path.
func (c *Client) Send(msg protocol.Message) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrClientClosed
	default:
		c.logger.Warn("send buffer full, dropping client",
			zap.String("conn_id", c.id),
		)
		c.close()
		return ErrSendBufferFull
	}
}

// close shuts the connection down exactly once, from whichever loop or caller
// notices a failure first.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readLoop reads frames until the connection dies, delivering each decoded
// message to the handler in order, one at a time. It runs in the connection's
// serving goroutine, so handling for a single connection is serialized.
func (c *Client) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(c.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.logger.Debug("read error",
					zap.String("conn_id", c.id),
					zap.Error(err),
				)
			}
			return
		}
		c.handler.HandleMessage(c, msg)
	}
}

// writeLoop pumps queued messages onto the wire and keeps the connection
// alive with periodic pings.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("write error",
					zap.String("conn_id", c.id),
					zap.Error(err),
				)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
