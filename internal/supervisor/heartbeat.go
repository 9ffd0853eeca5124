// ABOUTME: Heartbeat monitor probing channel liveness while connected.
// ABOUTME: A missed ack is classifier evidence, never a reconnect trigger by itself.

package supervisor

import (
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-relay/internal/channel"
	"github.com/2389/coven-relay/internal/wire"
)

// heartbeatMonitor periodically sends a liveness probe through the
// resilient channel and tracks how long ago the last ack arrived. When
// an ack is overdue the monitor reports staleness to its owner; it does
// not initiate reconnection. The port-closed signal remains the primary
// trigger, staleness only feeds the disconnect-cause classifier.
type heartbeatMonitor struct {
	ch       *channel.Channel
	interval time.Duration
	timeout  time.Duration
	onStale  func()
	logger   *slog.Logger

	mu      sync.Mutex
	lastAck time.Time
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

func newHeartbeatMonitor(ch *channel.Channel, interval, timeout time.Duration, onStale func(), logger *slog.Logger) *heartbeatMonitor {
	return &heartbeatMonitor{
		ch:       ch,
		interval: interval,
		timeout:  timeout,
		onStale:  onStale,
		logger:   logger.With("component", "heartbeat"),
	}
}

// start begins probing. No-op if already running or disabled by config.
func (m *heartbeatMonitor) start() {
	if m.interval <= 0 {
		return
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.lastAck = time.Now()
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	go m.run(stopCh, doneCh)
}

// stop halts probing and waits for the loop to exit. Safe to call when
// not running.
func (m *heartbeatMonitor) stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	doneCh := m.doneCh
	m.mu.Unlock()

	<-doneCh
}

// observeAck records a heartbeat reply from the coordinator.
func (m *heartbeatMonitor) observeAck() {
	m.mu.Lock()
	m.lastAck = time.Now()
	m.mu.Unlock()
}

func (m *heartbeatMonitor) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

// probe sends one liveness message and checks ack freshness. Send never
// fails from this side; a dead channel shows up as a missing ack.
func (m *heartbeatMonitor) probe() {
	m.ch.Send(wire.TypeHeartbeat, nil)

	m.mu.Lock()
	age := time.Since(m.lastAck)
	m.mu.Unlock()

	if m.timeout > 0 && age > m.timeout {
		m.logger.Debug("heartbeat ack overdue", "age", age)
		if m.onStale != nil {
			m.onStale()
		}
	}
}
