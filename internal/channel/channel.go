// ABOUTME: Resilient message channel composing validator, queue, and current port.
// ABOUTME: Sends never fail from the caller's view; failures become queuing plus one event.

package channel

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/coven-relay/internal/port"
	"github.com/2389/coven-relay/internal/wire"
)

// Status is the externally visible connection state, derived on demand.
type Status struct {
	Connected      bool `json:"connected"`
	QueuedMessages int  `json:"queuedMessages"`
}

// Channel is the resilient message channel between an embedded client
// and its coordinator. Callers issue fire-and-forget sends; the channel
// either dispatches them through the current port or queues them until
// a replacement port arrives. Order is preserved for sends issued from
// a single logical sender, and a mid-drain failure leaves the failing
// message and everything behind it queued.
type Channel struct {
	mu        sync.Mutex
	port      port.Port
	runtime   port.Runtime
	queue     queue
	connected bool

	notifier *Notifier
	logger   *slog.Logger
}

// New creates a channel with no port installed. The supervisor installs
// the first port via UpdatePort once it has dialed one.
func New(rt port.Runtime, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "channel")
	return &Channel{
		runtime:  rt,
		notifier: NewNotifier(logger),
		logger:   logger,
	}
}

// Send dispatches a message through the current port if it is usable,
// and queues it otherwise. Send never returns an error: a failed
// transmission marks the channel disconnected, queues the message, and
// publishes a single disconnect event carrying the failure reason.
func (c *Channel) Send(t wire.Type, data any) {
	msg := wire.New(t, data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connectedLocked() {
		c.queue.push(msg)
		c.logger.Debug("queued message while disconnected",
			"type", t,
			"queued", c.queue.len(),
		)
		return
	}

	if err := c.sendLocked(msg); err != nil {
		c.queue.push(msg)
		c.markDisconnectedLocked(fmt.Sprintf("send failed: %v", err))
	}
}

// sendLocked pushes one message through the port, absorbing panics from
// a transport torn down mid-call. Must be called with mu held.
func (c *Channel) sendLocked(msg wire.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("port send panicked: %v", r)
		}
	}()
	return c.port.Send(msg)
}

// Connected reports whether the current port is usable right now. The
// probe is side-effect free and never propagates a failure.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedLocked()
}

// connectedLocked combines the sticky disconnected mark with the pure
// validator probe. Must be called with mu held.
func (c *Channel) connectedLocked() bool {
	return c.connected && Usable(c.port, c.runtime)
}

// UpdatePort installs a replacement port and drains the queue through
// it in FIFO order. If a mid-drain send fails, the failing message and
// all remaining entries stay queued in order, and the channel is marked
// disconnected so nothing further is pushed through the bad port.
func (c *Channel) UpdatePort(p port.Port) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.port = p
	c.connected = true

	queued := c.queue.len()
	if queued > 0 {
		c.logger.Info("draining queued messages", "count", queued, "port", p.Name())
	}

	for c.queue.len() > 0 {
		msg := c.queue.peek()
		if err := c.sendLocked(msg); err != nil {
			c.markDisconnectedLocked(fmt.Sprintf("drain failed: %v", err))
			return
		}
		c.queue.pop()
	}
}

// Status returns the derived connection status.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected:      c.connectedLocked(),
		QueuedMessages: c.queue.len(),
	}
}

// ClearQueue empties the queue immediately. Idempotent; intended for
// explicit operator and test resets, not normal operation.
func (c *Channel) ClearQueue() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue.clear()
}

// Subscribe registers a listener for disconnect events.
func (c *Channel) Subscribe() (<-chan DisconnectEvent, string) {
	return c.notifier.Subscribe()
}

// Unsubscribe removes a disconnect-event listener.
func (c *Channel) Unsubscribe(subID string) {
	c.notifier.Unsubscribe(subID)
}

// Close releases the notifier and drops the current port reference. The
// queue is left intact for inspection.
func (c *Channel) Close() {
	c.mu.Lock()
	c.connected = false
	c.port = nil
	c.mu.Unlock()
	c.notifier.Close()
}

// markDisconnectedLocked flips the channel to disconnected and emits
// the disconnect event. Emitted only on the connected-to-disconnected
// transition so observers see exactly one event per outage. Must be
// called with mu held.
func (c *Channel) markDisconnectedLocked(reason string) {
	if !c.connected {
		return
	}
	c.connected = false
	c.logger.Warn("channel disconnected", "reason", reason, "queued", c.queue.len())
	c.notifier.Publish(reason)
}
