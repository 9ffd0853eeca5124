// ABOUTME: Pure connection validator for a port plus host-runtime identity.
// ABOUTME: Any probe failure, including a panic, degrades to "not usable".

package channel

import "github.com/2389/coven-relay/internal/port"

// Usable reports whether the given port can be trusted for a send right
// now. Three independent conditions must all hold: the port exists and
// has not closed, the port carries a non-empty identity tag, and the
// host-runtime identity is present and readable. The probe never mutates
// state and never lets an exception out: a panicking runtime reads as
// disconnected.
func Usable(p port.Port, rt port.Runtime) (usable bool) {
	defer func() {
		if recover() != nil {
			usable = false
		}
	}()

	if p == nil {
		return false
	}

	select {
	case <-p.CloseNotify():
		return false
	default:
	}

	if p.Name() == "" {
		return false
	}

	if rt == nil {
		return false
	}
	id, err := rt.ID()
	if err != nil || id == "" {
		return false
	}

	return true
}
