package websocket

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"marketfeed/pkg/interfaces"
)

// Registry tracks live connections and the subscriber set of every topic.
// Sets hold connection IDs; delivery resolves them through the live index, so
// a dropped connection can never be reached from a set.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection // connID -> live connection
	topics      map[string]map[string]struct{}   // topic -> connID set
	logger      *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		topics:      make(map[string]map[string]struct{}),
		logger:      logger,
	}
}

// Register adds a live connection to the index
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID()] = conn
	return nil
}

// CreateTopic registers an empty subscriber set for name. Existing topics keep
// their subscribers.
func (r *Registry) CreateTopic(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.topics[name]; !exists {
		r.topics[name] = make(map[string]struct{})
	}
}

// HasTopic reports whether name has been created
func (r *Registry) HasTopic(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.topics[name]
	return exists
}

// Subscribe adds connID to topic. Subscribing twice is a no-op.
func (r *Registry) Subscribe(connID, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscribers, exists := r.topics[topic]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topic)
	}
	if _, live := r.connections[connID]; !live {
		return fmt.Errorf("%w: %s", ErrConnectionNotRegistered, connID)
	}

	subscribers[connID] = struct{}{}
	return nil
}

// Unsubscribe removes connID from topic if present
func (r *Registry) Unsubscribe(connID, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if subscribers, exists := r.topics[topic]; exists {
		delete(subscribers, connID)
	}
}

// DropConnection removes connID from the live index and from every topic.
// Idempotent.
func (r *Registry) DropConnection(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.connections, connID)
	for _, subscribers := range r.topics {
		delete(subscribers, connID)
	}
}

// Broadcast queues payload for every current subscriber of topic and returns
// the number it was queued for. Failed sends are logged and skipped; the
// connection stays registered until its transport drops it.
func (r *Registry) Broadcast(topic string, payload []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for connID := range r.topics[topic] {
		conn, live := r.connections[connID]
		if !live {
			continue
		}
		if err := conn.Send(payload); err != nil {
			r.logger.Warn("broadcast delivery failed",
				zap.String("topic", topic),
				zap.String("conn_id", connID),
				zap.Error(err))
			continue
		}
		delivered++
	}

	return delivered
}

// Topics returns all topic names in lexical order
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.topics))
	for name := range r.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscribers returns the connection IDs subscribed to topic
func (r *Registry) Subscribers(topic string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.topics[topic]))
	for connID := range r.topics[topic] {
		ids = append(ids, connID)
	}
	sort.Strings(ids)
	return ids
}

// SubscriberCount returns the size of topic's subscriber set
func (r *Registry) SubscriberCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.topics[topic])
}

// IsSubscribed reports whether connID is in topic's subscriber set
func (r *Registry) IsSubscribed(connID, topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.topics[topic][connID]
	return ok
}

// GetConnection returns the live connection for connID
func (r *Registry) GetConnection(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[connID]
	return conn, exists
}

// GetStats returns registry counters for the health endpoint
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subscriptions := 0
	for _, subscribers := range r.topics {
		subscriptions += len(subscribers)
	}

	return map[string]int{
		"total_connections": len(r.connections),
		"topics":            len(r.topics),
		"subscriptions":     subscriptions,
	}
}

// CloseAll closes every live connection with code and reason. The transport
// removes each one from the registry as its read pump exits.
func (r *Registry) CloseAll(code int, reason string) int {
	r.mu.RLock()
	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.CloseWithReason(code, reason); err != nil {
			r.logger.Debug("close failed", zap.String("conn_id", conn.ID()), zap.Error(err))
		}
	}
	return len(conns)
}
