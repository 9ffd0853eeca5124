// Package supervisor runs the reconnect state machine that keeps an
// embedded client's message channel alive across host-runtime
// teardowns.
//
// # State machine
//
//	Disconnected -> Connecting   close signal or send-failure event
//	Connecting   -> Connected    dialed port validated and installed
//	Connecting   -> Recovering   cause classified as identity invalidation
//	Recovering   -> Connected    successful reconnect
//	Recovering   -> Disconnected recovery timeout fired
//	any          -> Destroyed    explicit teardown, terminal
//
// The supervisor owns port creation. Each successful dial is validated
// and handed to the channel via UpdatePort, at which point the channel
// owns the port exclusively; the supervisor keeps only the close signal
// under watch and never sends through a handle it has replaced.
//
// # Cause classification
//
// An ordinary channel close means the far side went away and will
// likely come back. Identity invalidation means this client's own
// execution context is suspect. The classifier uses the identity probe
// directly, plus two circumstantial signals: a burst of closures inside
// the flap window, and a close arriving while a heartbeat ack was
// already overdue. Invalidation routes through Recovering, where
// inbound coordinator traffic is deliberately dropped until the window
// resolves or times out.
//
// # Bounded retry
//
// Attempts are counted and capped. Past the cap the supervisor reports
// an unrecoverable status and stops, rather than leaking timers forever
// across repeated host-page navigations. Attempts reset to zero on a
// confirmed reconnect.
//
// # Teardown
//
// Destroy cancels the backoff timer, the recovery timeout, the
// heartbeat loop, and any in-flight dial, closes the current port, and
// removes the disconnect listener. It is idempotent, and no callback
// fires after it returns: a port dialed before Destroy but resolved
// after is closed instead of installed.
package supervisor
