package interfaces

import "context"

// SubscriptionRegistry is the subset of registry operations the protocol
// handler mutates.
type SubscriptionRegistry interface {
	// Subscribe adds connID to topic's subscriber set
	Subscribe(connID, topic string) error

	// Unsubscribe removes connID from topic's subscriber set; absent members are a no-op
	Unsubscribe(connID, topic string)
}

// Broadcaster is what the publisher needs: the topic list and fan-out.
type Broadcaster interface {
	// Topics returns the currently registered topic names
	Topics() []string

	// Broadcast delivers payload to every current subscriber of topic and
	// returns how many subscribers it was queued for
	Broadcast(topic string, payload []byte) int
}

// MessageDispatcher receives every inbound text frame read by the transport.
type MessageDispatcher interface {
	Dispatch(ctx context.Context, conn Connection, data []byte)
}
