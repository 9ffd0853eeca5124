// ABOUTME: Port abstraction over one instance of the client-coordinator transport.
// ABOUTME: Defines the handle contract plus the host-runtime identity probe.

package port

import (
	"context"
	"errors"

	"github.com/2389/coven-relay/internal/wire"
)

// ErrClosed indicates a send was attempted on a port that has closed.
var ErrClosed = errors.New("port closed")

// Port is a single instance of the underlying bidirectional transport.
// A port is created connected, may fail on any Send, and signals closure
// exactly once via CloseNotify. Ownership is exclusive: once a port is
// handed to the message channel, nothing else may send through it.
type Port interface {
	// Name returns the identity tag assigned when the port was created.
	// An empty name marks the handle as malformed and unusable.
	Name() string

	// Send transmits one message through the transport. It blocks until
	// the message is written or the transport rejects it.
	Send(msg wire.Message) error

	// Inbound returns the stream of messages arriving from the far side.
	// The channel is closed when the port closes.
	Inbound() <-chan wire.Message

	// CloseNotify returns a channel that is closed exactly once when the
	// port is torn down, whether locally or by the host runtime.
	CloseNotify() <-chan struct{}

	// Close tears the port down. Safe to call more than once.
	Close() error
}

// Factory creates fresh ports. The supervisor uses a Factory to build a
// replacement handle on every reconnect attempt.
type Factory interface {
	Dial(ctx context.Context) (Port, error)
}

// Runtime is the host-runtime identity probe. ID returns a stable
// non-empty string while the execution context is valid. When the host
// has invalidated the context, ID returns an error or panics; callers
// must treat both as "identity unavailable" rather than letting the
// failure propagate.
type Runtime interface {
	ID() (string, error)
}

// StaticRuntime is a Runtime with a fixed identity, used when the host
// environment provides one at process start.
type StaticRuntime string

// ID returns the fixed identity.
func (r StaticRuntime) ID() (string, error) {
	return string(r), nil
}
