// Package gateway accepts game-server and admin WebSocket connections and
// forwards their frames into the coordinator's mailbox.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cheildo/arena-coordinator/internal/protocol"
	"github.com/cheildo/arena-coordinator/internal/tournament"
)

// Mailbox is the part of the coordinator the gateway needs.
type Mailbox interface {
	Submit(ctx context.Context, ev tournament.Event) error
}

// Config sizes buffers and keepalive timing.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
	OutboxSize      int
	PongWait        time.Duration
	WriteWait       time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = 1024
	}
	if c.WriteBufferSize <= 0 {
		c.WriteBufferSize = 1024
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = 32
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	return c
}

// WebsocketHandler upgrades each request and runs one reader and one writer
// per connection.
type WebsocketHandler struct {
	mailbox  Mailbox
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebsocketHandler fills zero Config fields with defaults and builds the
// upgrader from them.
func NewWebsocketHandler(mailbox Mailbox, cfg Config, logger *slog.Logger) *WebsocketHandler {
	cfg = cfg.withDefaults()
	return &WebsocketHandler{
		mailbox: mailbox,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			// Game servers connect from arbitrary hosts.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
		},
		logger: logger.With("component", "gateway"),
	}
}

// ServeHTTP upgrades the request, starts the writer and blocks in the reader
// until the connection closes.
func (h *WebsocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}

	c := newConn(uuid.NewString(), ws, h.cfg.OutboxSize, h.logger)
	h.logger.Info("WebSocket connection established", "conn", c.id, "remote", r.RemoteAddr)

	go c.writePump(h.cfg.WriteWait, h.cfg.PongWait*9/10)
	h.readPump(r.Context(), c)
}

// readPump runs for the lifetime of the connection. Every frame becomes one
// mailbox event; the coordinator hears about the disconnect exactly once.
func (h *WebsocketHandler) readPump(ctx context.Context, c *conn) {
	defer func() {
		h.logger.Info("Closing WebSocket connection", "conn", c.id)
		if err := h.mailbox.Submit(context.Background(), tournament.Disconnected{ConnID: c.id}); err != nil {
			h.logger.Debug("Coordinator gone before disconnect", "conn", c.id, "error", err)
		}
		c.close()
		c.ws.Close()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket connection closed unexpectedly", "conn", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var ev tournament.Event
		msg, err := protocol.Decode(data)
		if err != nil {
			ev = tournament.Malformed{From: c, Err: err}
		} else {
			ev = tournament.Received{From: c, Msg: msg}
		}

		if err := h.mailbox.Submit(ctx, ev); err != nil {
			h.logger.Warn("Coordinator not accepting messages", "conn", c.id, "error", err)
			return
		}
	}
}
