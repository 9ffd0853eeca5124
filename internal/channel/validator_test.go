// ABOUTME: Tests for the connection validator predicate.
// ABOUTME: Each failure condition must independently read as not usable.

package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-relay/internal/port"
	"github.com/2389/coven-relay/internal/wire"
)

func TestUsableHealthy(t *testing.T) {
	p := port.NewMockPort("port-1")
	rt := port.NewMockRuntime("runtime-1")

	// A fully healthy handle must validate on consecutive checks
	// interleaved with sends; the probe must not be consumed by use.
	for i := 0; i < 10; i++ {
		assert.True(t, Usable(p, rt), "check %d", i)
		assert.NoError(t, p.Send(wire.New(wire.TypeDebug, i)))
	}
}

func TestUsableFailureConditions(t *testing.T) {
	tests := []struct {
		name  string
		setup func() (port.Port, port.Runtime)
	}{
		{
			name: "nil port",
			setup: func() (port.Port, port.Runtime) {
				return nil, port.NewMockRuntime("rt")
			},
		},
		{
			name: "closed port",
			setup: func() (port.Port, port.Runtime) {
				p := port.NewMockPort("port-1")
				p.Close()
				return p, port.NewMockRuntime("rt")
			},
		},
		{
			name: "empty port identity",
			setup: func() (port.Port, port.Runtime) {
				return port.NewMockPort(""), port.NewMockRuntime("rt")
			},
		},
		{
			name: "nil runtime",
			setup: func() (port.Port, port.Runtime) {
				return port.NewMockPort("port-1"), nil
			},
		},
		{
			name: "runtime identity error",
			setup: func() (port.Port, port.Runtime) {
				rt := port.NewMockRuntime("rt")
				rt.Invalidate(errors.New("context invalidated"))
				return port.NewMockPort("port-1"), rt
			},
		},
		{
			name: "runtime identity panics",
			setup: func() (port.Port, port.Runtime) {
				rt := port.NewMockRuntime("rt")
				rt.PanicOnAccess()
				return port.NewMockPort("port-1"), rt
			},
		},
		{
			name: "empty runtime identity",
			setup: func() (port.Port, port.Runtime) {
				return port.NewMockPort("port-1"), port.NewMockRuntime("")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, rt := tt.setup()
			assert.False(t, Usable(p, rt))
		})
	}
}
