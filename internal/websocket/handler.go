package websocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"marketfeed/pkg/interfaces"
)

var upgrader = websocket.Upgrader{
	// clients connect from anywhere; there is no browser session to protect
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// HandlerOptions controls heartbeat and writer settings for accepted connections
type HandlerOptions struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	Connection   ConnectionOptions
}

// DefaultHandlerOptions pings every 30s and gives up after 60s of silence
func DefaultHandlerOptions() HandlerOptions {
	return HandlerOptions{
		PingInterval: 30 * time.Second,
		ReadTimeout:  60 * time.Second,
		Connection:   DefaultConnectionOptions(),
	}
}

// Handler accepts WebSocket upgrades, registers each connection and feeds its
// inbound frames to the dispatcher.
type Handler struct {
	registry   *Registry
	dispatcher interfaces.MessageDispatcher
	opts       HandlerOptions
	logger     *zap.Logger
}

// NewHandler creates a transport handler
func NewHandler(registry *Registry, dispatcher interfaces.MessageDispatcher, opts HandlerOptions, logger *zap.Logger) *Handler {
	if opts.PingInterval <= 0 || opts.ReadTimeout <= 0 {
		defaults := DefaultHandlerOptions()
		opts.PingInterval = defaults.PingInterval
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.Connection.BufferSize <= 0 || opts.Connection.WriteTimeout <= 0 {
		opts.Connection = DefaultConnectionOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger,
	}
}

// HandleWebSocket upgrades the request and serves the connection until it ends
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	wsConn := NewConnection(conn, h.opts.Connection, h.logger)

	if err := h.registry.Register(wsConn); err != nil {
		h.logger.Error("failed to register connection", zap.Error(err))
		_ = wsConn.Close()
		return
	}

	h.logger.Info("connection accepted",
		zap.String("conn_id", wsConn.ID()),
		zap.String("remote_addr", wsConn.RemoteAddr()))

	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump. It owns the connection's cleanup: the
// registry drop happens exactly once, when the pump exits.
func (h *Handler) handleConnection(conn *Connection) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.registry.DropConnection(conn.ID())
		_ = conn.Close()
		h.logger.Info("connection closed",
			zap.String("conn_id", conn.ID()),
			zap.Duration("lifetime", time.Since(conn.CreatedAt())))
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		h.logger.Warn("failed to set read deadline", zap.String("conn_id", conn.ID()), zap.Error(err))
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("conn_id", conn.ID()), zap.Error(err))
			}
			return
		}

		// a closing connection still drains its queued writes; ignore input meanwhile
		if conn.IsClosed() {
			continue
		}

		if messageType != websocket.TextMessage {
			continue
		}

		h.dispatcher.Dispatch(ctx, conn, data)
	}
}

// pingLoop sends heartbeats until the connection is torn down
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.opts.Connection.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
