package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"marketfeed/pkg/interfaces"
	"marketfeed/pkg/types"
)

// CloseReasonAuthFailed accompanies the 1008 close after bad credentials
const CloseReasonAuthFailed = "Authentication failed"

// Authenticator checks a presented credential pair
type Authenticator interface {
	Authenticate(clientID, clientSecret string) bool
}

// Options controls protocol policy
type Options struct {
	// RequireAuthentication rejects subscribe/unsubscribe from unauthenticated connections
	RequireAuthentication bool
	// RateLimit is the number of control messages allowed per connection per minute
	RateLimit int
}

// Handler interprets control envelopes and applies them to the registry
type Handler struct {
	registry interfaces.SubscriptionRegistry
	gate     Authenticator
	opts     Options
	limiter  *RateLimiter
	logger   *zap.Logger
}

// NewHandler creates a protocol handler
func NewHandler(registry interfaces.SubscriptionRegistry, gate Authenticator, opts Options, logger *zap.Logger) *Handler {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		gate:     gate,
		opts:     opts,
		limiter:  NewRateLimiter(opts.RateLimit, time.Minute),
		logger:   logger,
	}
}

// Dispatch handles one inbound text frame. Protocol errors are logged and the
// frame dropped; the connection stays open unless authentication failed.
func (h *Handler) Dispatch(_ context.Context, conn interfaces.Connection, data []byte) {
	if err := h.handle(conn, data); err != nil {
		h.logger.Warn("control message dropped",
			zap.String("conn_id", conn.ID()),
			zap.Error(err))
	}
}

func (h *Handler) handle(conn interfaces.Connection, data []byte) error {
	if conn.IsClosed() {
		return ErrConnectionClosed
	}

	if !h.limiter.Allow(conn.ID()) {
		return ErrRateLimitExceeded
	}

	msg, err := types.ParseControlMessage(data)
	if err != nil {
		return err
	}

	switch msg.Action {
	case types.ActionAuthenticate:
		return h.authenticate(conn, msg)
	case types.ActionSubscribe:
		return h.subscribe(conn, msg)
	case types.ActionUnsubscribe:
		return h.unsubscribe(conn, msg)
	default:
		// ParseControlMessage rejects anything else
		return fmt.Errorf("%w: %s", types.ErrUnknownAction, msg.Action)
	}
}

func (h *Handler) authenticate(conn interfaces.Connection, msg *types.ControlMessage) error {
	if h.gate.Authenticate(msg.ClientID, msg.ClientSecret) {
		conn.SetAuthenticated()
		h.logger.Info("connection authenticated", zap.String("conn_id", conn.ID()))
		if err := conn.WriteJSON(types.AuthenticatedResponse()); err != nil {
			return fmt.Errorf("failed to send auth response: %w", err)
		}
		return nil
	}

	// The close is queued behind the error so the client sees both, in order
	if err := conn.WriteJSON(types.ErrorResponse(types.ErrorInvalidCredentials)); err != nil {
		h.logger.Debug("failed to send auth error", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
	if err := conn.CloseWithReason(websocket.ClosePolicyViolation, CloseReasonAuthFailed); err != nil {
		h.logger.Debug("failed to close connection", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
	return fmt.Errorf("%w: client_id %q", ErrAuthenticationFailed, msg.ClientID)
}

func (h *Handler) requireAuth(conn interfaces.Connection) error {
	if !h.opts.RequireAuthentication || conn.IsAuthenticated() {
		return nil
	}
	if err := conn.WriteJSON(types.ErrorResponse(types.ErrorAuthenticationRequired)); err != nil {
		h.logger.Debug("failed to send auth required", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
	return ErrAuthenticationRequired
}

func (h *Handler) subscribe(conn interfaces.Connection, msg *types.ControlMessage) error {
	if err := h.requireAuth(conn); err != nil {
		return err
	}

	if err := h.registry.Subscribe(conn.ID(), msg.Symbol); err != nil {
		if errors.Is(err, interfaces.ErrSymbolNotFound) {
			if werr := conn.WriteJSON(types.ErrorResponse(types.ErrorUnknownSymbol)); werr != nil {
				h.logger.Debug("failed to send unknown symbol", zap.String("conn_id", conn.ID()), zap.Error(werr))
			}
			return fmt.Errorf("%w: %s", ErrUnknownSymbol, msg.Symbol)
		}
		return fmt.Errorf("subscribe %s: %w", msg.Symbol, err)
	}

	h.logger.Debug("subscribed",
		zap.String("conn_id", conn.ID()),
		zap.String("symbol", msg.Symbol))
	return nil
}

func (h *Handler) unsubscribe(conn interfaces.Connection, msg *types.ControlMessage) error {
	if err := h.requireAuth(conn); err != nil {
		return err
	}

	h.registry.Unsubscribe(conn.ID(), msg.Symbol)
	h.logger.Debug("unsubscribed",
		zap.String("conn_id", conn.ID()),
		zap.String("symbol", msg.Symbol))
	return nil
}

// RunCleanup prunes idle rate limiter entries every interval until ctx ends
func (h *Handler) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := h.limiter.Cleanup(); removed > 0 {
				h.logger.Debug("rate limiter pruned", zap.Int("removed", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}
