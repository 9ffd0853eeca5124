// ABOUTME: Tests for the heartbeat liveness monitor.
// ABOUTME: Staleness is reported to the owner, never acted on directly.

package supervisor

import (
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-relay/internal/channel"
	"github.com/2389/coven-relay/internal/port"
	"github.com/2389/coven-relay/internal/wire"
)

func newHeartbeatFixture(interval, timeout time.Duration, onStale func()) (*heartbeatMonitor, *port.MockPort) {
	rt := port.NewMockRuntime("runtime-1")
	ch := channel.New(rt, nil)
	p := port.NewMockPort("port-1")
	ch.UpdatePort(p)
	return newHeartbeatMonitor(ch, interval, timeout, onStale, slog.Default()), p
}

func TestProbeSendsHeartbeat(t *testing.T) {
	m, p := newHeartbeatFixture(time.Minute, time.Minute, nil)

	m.probe()

	sent := p.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, wire.TypeHeartbeat, sent[0].Type)
}

func TestProbeReportsOverdueAck(t *testing.T) {
	var stale atomic.Int32
	m, _ := newHeartbeatFixture(time.Minute, 10*time.Millisecond, func() { stale.Add(1) })

	m.lastAck = time.Now().Add(-time.Second)
	m.probe()
	assert.Equal(t, int32(1), stale.Load())

	// A fresh ack clears the overdue condition.
	m.observeAck()
	m.probe()
	assert.Equal(t, int32(1), stale.Load())
}

func TestStartStopLifecycle(t *testing.T) {
	m, p := newHeartbeatFixture(2*time.Millisecond, time.Minute, nil)

	m.start()
	m.start()

	require.Eventually(t, func() bool {
		return len(p.Sent()) >= 2
	}, time.Second, time.Millisecond, "running monitor should probe repeatedly")

	m.stop()
	m.stop()

	sent := len(p.Sent())
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, sent, len(p.Sent()), "stopped monitor must not probe")

	// Restart works after a stop.
	m.start()
	require.Eventually(t, func() bool {
		return len(p.Sent()) > sent
	}, time.Second, time.Millisecond, "restarted monitor should probe again")
	m.stop()
}

func TestZeroIntervalDisablesMonitor(t *testing.T) {
	m, p := newHeartbeatFixture(0, time.Minute, nil)

	m.start()
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, p.Sent())

	assert.NotPanics(t, m.stop)
}
