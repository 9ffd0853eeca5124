// ABOUTME: In-memory fan-out notifier for disconnect events
// ABOUTME: Publishes messageHandlerDisconnected to all subscribers with explicit lifetimes

package channel

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// EventMessageHandlerDisconnected names the disconnect notification.
	EventMessageHandlerDisconnected = "messageHandlerDisconnected"

	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// DisconnectEvent is emitted exactly once per transition into a
// disconnected state caused by a send failure.
type DisconnectEvent struct {
	Name   string
	Reason string
}

// Notifier provides in-memory pub/sub for disconnect events. Callers
// subscribe explicitly and hold a subscription ID; there is no global
// event bus.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[string]chan DisconnectEvent
	logger      *slog.Logger
}

// NewNotifier creates a notifier. Pass nil logger for default.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		subscribers: make(map[string]chan DisconnectEvent),
		logger:      logger.With("component", "notifier"),
	}
}

// Subscribe registers a listener for disconnect events. Returns the
// event channel and a subscription ID for later unsubscription.
func (n *Notifier) Subscribe() (<-chan DisconnectEvent, string) {
	subID := uuid.New().String()
	ch := make(chan DisconnectEvent, subscriberBufferSize)

	n.mu.Lock()
	n.subscribers[subID] = ch
	n.mu.Unlock()

	n.logger.Debug("subscriber added", "sub_id", subID)
	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// IDs are ignored.
func (n *Notifier) Unsubscribe(subID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch, ok := n.subscribers[subID]
	if !ok {
		return
	}
	delete(n.subscribers, subID)
	close(ch)

	n.logger.Debug("subscriber removed", "sub_id", subID)
}

// Publish delivers an event to all subscribers. Non-blocking: events
// are dropped for subscribers whose channels are full.
func (n *Notifier) Publish(reason string) {
	event := DisconnectEvent{
		Name:   EventMessageHandlerDisconnected,
		Reason: reason,
	}

	n.mu.RLock()
	targets := make([]chan DisconnectEvent, 0, len(n.subscribers))
	for _, ch := range n.subscribers {
		targets = append(targets, ch)
	}
	n.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			n.logger.Debug("dropped event for slow subscriber", "reason", reason)
		}
	}
}

// Close shuts down the notifier and closes all subscriber channels.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for subID, ch := range n.subscribers {
		close(ch)
		delete(n.subscribers, subID)
	}
}

// SubscriberCount reports how many listeners are registered. Used by
// resource-leak checks.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subscribers)
}
