package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/breeze-rmm/notify-bridge/internal/logging"
	"github.com/breeze-rmm/notify-bridge/internal/metrics"
	"github.com/breeze-rmm/notify-bridge/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

var (
	// ErrConnectionClosed is returned by Send once the connection is gone.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned by Send when the writer is backed up.
	ErrSendQueueFull = errors.New("send queue full")
)

// MessageHandler processes one inbound message. It is called from the
// connection's read loop, in arrival order, and must not block for long.
type MessageHandler interface {
	HandleMessage(ctx context.Context, data []byte, conn *Conn)
}

// Conn owns one client connection: a read loop feeding the MessageHandler
// and a single writer draining sendChan.
type Conn struct {
	id       string
	ws       *websocket.Conn
	handler  MessageHandler
	sendChan chan []byte
	done     chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger

	closeOnce sync.Once
}

func newConn(parent context.Context, ws *websocket.Conn, handler MessageHandler, queueSize int) *Conn {
	if queueSize < 1 {
		queueSize = 1
	}
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(parent)
	return &Conn{
		id:       id,
		ws:       ws,
		handler:  handler,
		sendChan: make(chan []byte, queueSize),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logging.WithConn(log, id),
	}
}

// ID identifies the connection in logs.
func (c *Conn) ID() string {
	return c.id
}

// Context is cancelled when the connection ends.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Logger returns a logger tagged with the connection id.
func (c *Conn) Logger() *slog.Logger {
	return c.logger
}

// Send queues an action event for the writer. It never blocks and is safe
// to call from any goroutine, including after the connection has closed.
func (c *Conn) Send(ev protocol.OutboundActionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.sendChan <- data:
	default:
		return ErrSendQueueFull
	}

	// Close may have won the race with the enqueue; the writer is gone then.
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
		return nil
	}
}

// serve runs the pumps until the peer goes away or Close is called.
func (c *Conn) serve() {
	go c.writePump()
	c.readPump()
	c.Close()
}

// Close ends the connection. Safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		c.ws.Close()
	})
}

func (c *Conn) readPump() {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read error", logging.KeyError, err)
			}
			return
		}
		// Any inbound traffic proves the peer is alive.
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		metrics.MessagesReceived.Inc()
		c.handler.HandleMessage(c.ctx, message, c)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.sendChan:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("write error", logging.KeyError, err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}
