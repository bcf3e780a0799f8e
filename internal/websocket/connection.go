package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Close codes used by the protocol
const (
	ClosePolicyViolation = websocket.ClosePolicyViolation
	CloseNormal          = websocket.CloseNormalClosure
	CloseGoingAway       = websocket.CloseGoingAway
)

// ConnectionOptions tunes the per-connection writer
type ConnectionOptions struct {
	BufferSize   int
	WriteTimeout time.Duration
}

// DefaultConnectionOptions matches the defaults in internal/config
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		BufferSize:   256,
		WriteTimeout: 10 * time.Second,
	}
}

// frame is one queued write; a non-zero closeCode makes it a close frame
type frame struct {
	data        []byte
	closeCode   int
	closeReason string
}

// Connection implements interfaces.Connection.
// All writes go through one writer goroutine; gorilla allows a single
// concurrent writer per connection.
type Connection struct {
	id           string
	conn         *websocket.Conn
	sendCh       chan frame
	writeTimeout time.Duration
	remoteAddr   string
	createdAt    time.Time
	logger       *zap.Logger

	authenticated atomic.Bool
	closed        atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps an upgraded socket, assigns it a fresh identity and
// starts its writer goroutine.
func NewConnection(conn *websocket.Conn, opts ConnectionOptions, logger *zap.Logger) *Connection {
	if opts.BufferSize <= 0 || opts.WriteTimeout <= 0 {
		opts = DefaultConnectionOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           id,
		conn:         conn,
		sendCh:       make(chan frame, opts.BufferSize),
		writeTimeout: opts.WriteTimeout,
		remoteAddr:   conn.RemoteAddr().String(),
		createdAt:    time.Now(),
		logger:       logger.With(zap.String("conn_id", id)),
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case f := <-c.sendCh:
			deadline := time.Now().Add(c.writeTimeout)

			if f.closeCode != 0 {
				msg := websocket.FormatCloseMessage(f.closeCode, f.closeReason)
				if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
					c.logger.Debug("close frame write failed", zap.Error(err))
				}
				_ = c.Close()
				return
			}

			if err := c.conn.SetWriteDeadline(deadline); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the connection's UUID
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the peer address captured at upgrade
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// CreatedAt returns when the connection was accepted
func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

// Send queues a pre-encoded text frame without blocking
func (c *Connection) Send(payload []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.sendCh <- frame{data: payload}:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// WriteJSON encodes v and queues it, waiting up to the write timeout for space
func (c *Connection) WriteJSON(v interface{}) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	return c.enqueue(frame{data: data})
}

func (c *Connection) enqueue(f frame) error {
	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()

	select {
	case c.sendCh <- f:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// CloseWithReason marks the connection closed, then queues a close frame behind
// any pending writes. The socket is torn down once the frame is written. If the
// frame cannot be queued in time the socket is closed immediately.
func (c *Connection) CloseWithReason(code int, reason string) error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrConnectionClosed
	}

	if err := c.enqueue(frame{closeCode: code, closeReason: reason}); err != nil {
		c.logger.Debug("close frame not queued", zap.Error(err))
		return c.Close()
	}
	return nil
}

// Close tears down the socket and stops the writer. Idempotent.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// IsClosed reports whether the connection has started closing
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Done is closed once the socket has been torn down
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Connection) IsAuthenticated() bool {
	return c.authenticated.Load()
}

func (c *Connection) SetAuthenticated() {
	c.authenticated.Store(true)
}
