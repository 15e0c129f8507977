package gateway

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cheildo/arena-coordinator/internal/protocol"
)

var (
	ErrClosed       = errors.New("connection closed")
	ErrSlowConsumer = errors.New("connection outbox full")
)

// conn is one upgraded client. The coordinator only ever calls Send, which
// never blocks; frames are written by writePump.
type conn struct {
	id     string
	ws     *websocket.Conn
	out    chan []byte
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func newConn(id string, ws *websocket.Conn, outboxSize int, logger *slog.Logger) *conn {
	return &conn{
		id:     id,
		ws:     ws,
		out:    make(chan []byte, outboxSize),
		logger: logger.With("conn", id),
	}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.out <- data:
		return nil
	default:
		return fmt.Errorf("%w: %s dropped", ErrSlowConsumer, msg.Kind())
	}
}

// close stops further sends and lets writePump drain and exit.
func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

// writePump owns all writes to the socket, including keepalive pings.
func (c *conn) writePump(writeWait, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
