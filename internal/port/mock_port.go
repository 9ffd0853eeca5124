// ABOUTME: Mock Port, Factory, and Runtime implementations for testing
// ABOUTME: Allows channel and supervisor tests to run without a real transport

package port

import (
	"context"
	"errors"
	"sync"

	"github.com/2389/coven-relay/internal/wire"
)

// MockPort is an in-memory Port implementation for testing. Sends are
// recorded; failure behavior is scriptable per call.
type MockPort struct {
	mu        sync.Mutex
	name      string
	sent      []wire.Message
	sendErr   error
	failAfter int // -1 = never fail by count
	inbound   chan wire.Message
	closed    chan struct{}
	closeOnce sync.Once
}

// NewMockPort creates a connected mock port with the given identity tag.
func NewMockPort(name string) *MockPort {
	return &MockPort{
		name:      name,
		failAfter: -1,
		inbound:   make(chan wire.Message, 64),
		closed:    make(chan struct{}),
	}
}

func (p *MockPort) Name() string {
	return p.name
}

// Send records the message, or fails according to the scripted behavior.
func (p *MockPort) Send(msg wire.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.closed:
		return ErrClosed
	default:
	}

	if p.sendErr != nil {
		return p.sendErr
	}
	if p.failAfter >= 0 && len(p.sent) >= p.failAfter {
		return errors.New("scripted send failure")
	}

	p.sent = append(p.sent, msg)
	return nil
}

func (p *MockPort) Inbound() <-chan wire.Message {
	return p.inbound
}

func (p *MockPort) CloseNotify() <-chan struct{} {
	return p.closed
}

// Close tears the port down and fires the close notification once.
func (p *MockPort) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		close(p.inbound)
	})
	return nil
}

// Deliver simulates a message arriving from the far side.
func (p *MockPort) Deliver(msg wire.Message) {
	p.inbound <- msg
}

// FailWith makes every subsequent Send return err. Pass nil to restore
// normal behavior.
func (p *MockPort) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErr = err
}

// FailAfter makes Send succeed for the first n calls and fail afterward.
func (p *MockPort) FailAfter(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAfter = n
}

// Sent returns a copy of all successfully sent messages.
func (p *MockPort) Sent() []wire.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]wire.Message, len(p.sent))
	copy(out, p.sent)
	return out
}

// MockFactory is a Factory that hands out scripted ports.
type MockFactory struct {
	mu      sync.Mutex
	ports   []*MockPort
	dialErr error
	dials   int
	gate    chan struct{}
	last    *MockPort
}

// NewMockFactory creates a factory. With no queued ports, each Dial
// returns a fresh MockPort.
func NewMockFactory() *MockFactory {
	return &MockFactory{}
}

// QueuePort makes the next Dial return p.
func (f *MockFactory) QueuePort(p *MockPort) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports = append(f.ports, p)
}

// FailWith makes Dial return err until cleared with nil.
func (f *MockFactory) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialErr = err
}

// Dials returns how many times Dial was called.
func (f *MockFactory) Dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

// Last returns the most recent port handed out by Dial, or nil.
func (f *MockFactory) Last() *MockPort {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

// Gate makes Dial block until ch is closed, used to test teardown with
// a dial in flight.
func (f *MockFactory) Gate(ch chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = ch
}

// Dial returns the next queued port, a fresh one if none are queued, or
// the scripted error.
func (f *MockFactory) Dial(ctx context.Context) (Port, error) {
	f.mu.Lock()
	f.dials++
	gate := f.gate
	dialErr := f.dialErr
	var queued *MockPort
	if len(f.ports) > 0 {
		queued = f.ports[0]
		f.ports = f.ports[1:]
	}
	f.mu.Unlock()

	// A gated dial ignores cancellation: it models an in-flight dial that
	// completes concurrently with teardown.
	if gate != nil {
		<-gate
	}

	if dialErr != nil {
		return nil, dialErr
	}

	// A scripted port is returned even when ctx was cancelled mid-dial.
	if queued != nil {
		f.setLast(queued)
		return queued, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := NewMockPort("mock-port")
	f.setLast(p)
	return p, nil
}

func (f *MockFactory) setLast(p *MockPort) {
	f.mu.Lock()
	f.last = p
	f.mu.Unlock()
}

// MockRuntime is a Runtime whose identity can be invalidated mid-test.
type MockRuntime struct {
	mu    sync.Mutex
	id    string
	err   error
	panic bool
}

// NewMockRuntime creates a runtime with the given identity.
func NewMockRuntime(id string) *MockRuntime {
	return &MockRuntime{id: id}
}

// ID returns the identity, the scripted error, or panics if scripted to.
func (r *MockRuntime) ID() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panic {
		panic("runtime identity invalidated")
	}
	if r.err != nil {
		return "", r.err
	}
	return r.id, nil
}

// Invalidate makes ID return err from now on.
func (r *MockRuntime) Invalidate(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// PanicOnAccess makes ID panic, simulating a torn-down execution context.
func (r *MockRuntime) PanicOnAccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panic = true
}
