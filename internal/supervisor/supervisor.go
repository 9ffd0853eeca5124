// ABOUTME: Connection supervisor owning port creation, reconnect state machine, and recovery.
// ABOUTME: Classifies disconnect causes, bounds retries, and tears down deterministically.

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/2389/coven-relay/internal/channel"
	"github.com/2389/coven-relay/internal/port"
	"github.com/2389/coven-relay/internal/wire"
)

// State is the supervisor's position in its connection state machine.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRecovering
	StateDestroyed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRecovering:
		return "recovering"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// disconnectCause tags where a disconnect signal came from.
type disconnectCause int

const (
	causePortClosed disconnectCause = iota
	causeSendFailure
	causeIdentityInvalid
)

// Config holds supervisor timing and retry policy.
type Config struct {
	// MaxReconnectAttempts caps retries. Past the cap the supervisor
	// stops and reports an unrecoverable status instead of looping.
	MaxReconnectAttempts int

	// ReconnectBackoffBase is the first retry delay; subsequent delays
	// double up to ReconnectBackoffCap, with ±25% jitter.
	ReconnectBackoffBase time.Duration
	ReconnectBackoffCap  time.Duration

	// RecoveryTimeout bounds the Recovering state so a recovery that
	// never completes cannot leave the supervisor stuck.
	RecoveryTimeout time.Duration

	// FlapWindow and FlapThreshold tune rapid-closure detection.
	FlapWindow    time.Duration
	FlapThreshold int

	// HeartbeatInterval and HeartbeatTimeout tune the liveness probe.
	// Zero interval disables heartbeats.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// DefaultConfig returns the production timing policy.
func DefaultConfig() Config {
	return Config{
		MaxReconnectAttempts: 10,
		ReconnectBackoffBase: time.Second,
		ReconnectBackoffCap:  5 * time.Minute,
		RecoveryTimeout:      30 * time.Second,
		FlapWindow:           10 * time.Second,
		FlapThreshold:        3,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     90 * time.Second,
	}
}

// Params bundles the collaborators a Supervisor needs.
type Params struct {
	Channel *channel.Channel
	Factory port.Factory
	Runtime port.Runtime
	Config  Config
	Logger  *slog.Logger
}

// Snapshot is a point-in-time view of supervisor state for diagnostics
// and tests.
type Snapshot struct {
	State             State
	ReconnectAttempts int
	Reconnecting      bool
	InRecovery        bool
	Destroyed         bool
	Unrecoverable     bool
	ActiveTimers      int
}

// Supervisor owns port creation and replacement for one embedded-client
// instance. It reacts to close signals and send failures, classifies the
// cause, reconnects with bounded backoff, and exposes a recovery flag
// collaborators must consult before trusting delivered messages.
//
// During Recovering, inbound coordinator messages are dropped on
// purpose: the coordinator cannot be trusted to be consistent while its
// identity is in question. This is a deliberate, documented data-loss
// window for coordinator-originated traffic; caller-originated sends
// are still queued and drained normally.
type Supervisor struct {
	cfg     Config
	ch      *channel.Channel
	factory port.Factory
	runtime port.Runtime
	logger  *slog.Logger

	mu             sync.Mutex
	state          State
	attempts       int
	reconnecting   bool
	unrecoverable  bool
	heartbeatStale bool
	dialing        bool
	curPort        port.Port
	portGen        int
	handler        func(wire.Message)
	flap           *flapDetector
	reconnectTimer *time.Timer
	recoveryTimer  *time.Timer

	heartbeat     *heartbeatMonitor
	disconnectSub string
	done          chan struct{}
	dialCtx       context.Context
	dialCancel    context.CancelFunc
}

// New creates a supervisor. Call Start to dial the first port.
func New(p Params) *Supervisor {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "supervisor")

	cfg := p.Config
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultConfig().MaxReconnectAttempts
	}
	if cfg.ReconnectBackoffBase <= 0 {
		cfg.ReconnectBackoffBase = DefaultConfig().ReconnectBackoffBase
	}
	if cfg.ReconnectBackoffCap <= 0 {
		cfg.ReconnectBackoffCap = DefaultConfig().ReconnectBackoffCap
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if cfg.FlapWindow <= 0 {
		cfg.FlapWindow = DefaultConfig().FlapWindow
	}
	if cfg.FlapThreshold <= 0 {
		cfg.FlapThreshold = DefaultConfig().FlapThreshold
	}

	s := &Supervisor{
		cfg:     cfg,
		ch:      p.Channel,
		factory: p.Factory,
		runtime: p.Runtime,
		logger:  logger,
		flap:    newFlapDetector(cfg.FlapWindow, cfg.FlapThreshold),
		done:    make(chan struct{}),
	}
	s.heartbeat = newHeartbeatMonitor(p.Channel, cfg.HeartbeatInterval, cfg.HeartbeatTimeout, s.markHeartbeatStale, logger)

	events, subID := p.Channel.Subscribe()
	s.disconnectSub = subID
	go s.watchDisconnects(events)

	return s
}

// Start dials the first port. The context bounds all dials performed
// over the supervisor's lifetime; destroying the supervisor cancels it.
func (s *Supervisor) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.dialCtx, s.dialCancel = context.WithCancel(ctx)
	s.state = StateConnecting
	s.mu.Unlock()

	go s.attempt()
}

// OnMessage registers the handler for inbound coordinator messages.
// Messages with unrecognized types and messages arriving during
// Recovering are never delivered to the handler.
func (s *Supervisor) OnMessage(fn func(wire.Message)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// InRecovery reports whether the supervisor is inside the recovery
// window. Collaborators consult this before trusting delivered
// messages.
func (s *Supervisor) InRecovery() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRecovering
}

// Snapshot returns a consistent view of supervisor state.
func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	timers := 0
	if s.reconnectTimer != nil {
		timers++
	}
	if s.recoveryTimer != nil {
		timers++
	}

	return Snapshot{
		State:             s.state,
		ReconnectAttempts: s.attempts,
		Reconnecting:      s.reconnecting,
		InRecovery:        s.state == StateRecovering,
		Destroyed:         s.state == StateDestroyed,
		Unrecoverable:     s.unrecoverable,
		ActiveTimers:      timers,
	}
}

// Destroy tears the supervisor down: cancels every pending timer and
// dial, stops the heartbeat, closes the current port, and removes the
// disconnect listener. Terminal and idempotent; no reconnect will ever
// run afterward, even if a close signal arrives later.
func (s *Supervisor) Destroy() {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		return
	}
	s.state = StateDestroyed
	s.reconnecting = false
	s.stopTimerLocked(&s.reconnectTimer)
	s.stopTimerLocked(&s.recoveryTimer)
	p := s.curPort
	s.curPort = nil
	s.handler = nil
	cancel := s.dialCancel
	s.mu.Unlock()

	close(s.done)
	if cancel != nil {
		cancel()
	}
	s.heartbeat.stop()
	if p != nil {
		_ = p.Close()
	}
	s.ch.Unsubscribe(s.disconnectSub)
	s.logger.Info("supervisor destroyed")
}

// attempt dials a fresh port and installs it. Any failure, including a
// panic inside the dial path, counts as a failed attempt against the
// retry bound rather than escaping the timer callback.
func (s *Supervisor) attempt() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("reconnect attempt panicked", "panic", r)
			s.scheduleReconnect(fmt.Sprintf("attempt panicked: %v", r))
		}
	}()

	s.mu.Lock()
	if s.state == StateDestroyed || s.unrecoverable || s.dialing {
		s.mu.Unlock()
		return
	}
	s.dialing = true
	if s.state != StateRecovering {
		s.state = StateConnecting
	}
	ctx := s.dialCtx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.dialing = false
		s.mu.Unlock()
	}()

	p, err := s.factory.Dial(ctx)
	if err != nil {
		s.scheduleReconnect(fmt.Sprintf("dial failed: %v", err))
		return
	}
	if !channel.Usable(p, s.runtime) {
		_ = p.Close()
		s.scheduleReconnect("dialed port failed validation")
		return
	}

	s.install(p)
}

// install hands a validated port to the channel and moves to Connected.
// A port dialed before Destroy but arriving after is closed, never
// installed.
func (s *Supervisor) install(p port.Port) {
	s.mu.Lock()
	if s.state == StateDestroyed {
		s.mu.Unlock()
		_ = p.Close()
		return
	}
	s.stopTimerLocked(&s.recoveryTimer)
	s.stopTimerLocked(&s.reconnectTimer)
	if s.state == StateRecovering {
		// A completed recovery starts the closure history clean.
		s.flap.reset()
	}
	old := s.curPort
	s.curPort = p
	s.portGen++
	gen := s.portGen
	s.state = StateConnected
	s.attempts = 0
	s.reconnecting = false
	s.heartbeatStale = false
	s.mu.Unlock()

	// A send failure leaves the previous port open; exactly one handle
	// may be live, so the replaced one is closed here.
	if old != nil {
		_ = old.Close()
	}

	// Ownership of the port passes to the channel here. The supervisor
	// only watches its close signal from now on.
	s.ch.UpdatePort(p)
	s.ch.Send(wire.TypeContentReady, nil)
	s.heartbeat.start()
	go s.watchPort(p, gen)

	s.logger.Info("connected", "port", p.Name())
}

// watchPort follows one port's inbound stream and close signal. The
// generation check keeps a stale watcher from reacting to a port that
// has already been replaced.
func (s *Supervisor) watchPort(p port.Port, gen int) {
	inbound := p.Inbound()
	for {
		select {
		case <-s.done:
			return
		case <-p.CloseNotify():
			s.onPortClosed(gen)
			return
		case msg, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			s.dispatch(msg, gen)
		}
	}
}

// dispatch routes one inbound message. Messages from a replaced port
// are dropped. Heartbeat acks feed the monitor; everything else goes to
// the registered handler unless the supervisor is recovering or the
// type is unknown.
func (s *Supervisor) dispatch(msg wire.Message, gen int) {
	s.mu.Lock()
	if gen != s.portGen {
		s.mu.Unlock()
		s.logger.Debug("ignoring message from replaced port", "type", msg.Type)
		return
	}
	if msg.Type == wire.TypeHeartbeatAck {
		s.heartbeatStale = false
		s.mu.Unlock()
		s.heartbeat.observeAck()
		return
	}
	recovering := s.state == StateRecovering
	handler := s.handler
	s.mu.Unlock()

	if recovering {
		s.logger.Debug("ignoring inbound message during recovery", "type", msg.Type)
		return
	}
	if !msg.Type.Known() {
		s.logger.Debug("ignoring unknown message type", "type", msg.Type)
		return
	}
	if handler != nil {
		handler(msg)
	}
}

// onPortClosed reacts to the primary disconnect trigger.
func (s *Supervisor) onPortClosed(gen int) {
	s.mu.Lock()
	if s.state == StateDestroyed || gen != s.portGen {
		s.mu.Unlock()
		return
	}
	s.flap.record(time.Now())
	s.mu.Unlock()

	s.heartbeat.stop()
	s.handleDisconnect(causePortClosed, "port closed")
}

// watchDisconnects consumes the channel's disconnect events, which fire
// when a send or a drain fails against the current port.
func (s *Supervisor) watchDisconnects(events <-chan channel.DisconnectEvent) {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.heartbeat.stop()
			s.handleDisconnect(causeSendFailure, ev.Reason)
		}
	}
}

// handleDisconnect classifies the disconnect and schedules recovery or
// an ordinary reconnect. Duplicate triggers for the same outage (a send
// failure followed by the port's close signal) collapse into one
// scheduled attempt.
func (s *Supervisor) handleDisconnect(cause disconnectCause, reason string) {
	s.mu.Lock()
	if s.state == StateDestroyed || s.unrecoverable {
		s.mu.Unlock()
		return
	}

	if s.classifyLocked(cause) {
		if s.state != StateRecovering {
			s.enterRecoveringLocked(reason)
		}
	} else if s.state == StateConnected {
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	s.scheduleReconnect(reason)
}

// classifyLocked decides whether a disconnect points at host-identity
// invalidation rather than an ordinary channel close. Identity probe
// failure is conclusive; a closure burst or a close on the heels of a
// stale heartbeat is strong circumstantial evidence. Must be called
// with mu held.
func (s *Supervisor) classifyLocked(cause disconnectCause) bool {
	if cause == causeIdentityInvalid {
		return true
	}
	if !runtimeIdentityOK(s.runtime) {
		return true
	}
	if s.flap.flapping(time.Now()) {
		return true
	}
	if cause == causePortClosed && s.heartbeatStale {
		return true
	}
	return false
}

// runtimeIdentityOK probes the host identity, treating errors and
// panics alike as "identity unavailable".
func runtimeIdentityOK(rt port.Runtime) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	if rt == nil {
		return false
	}
	id, err := rt.ID()
	return err == nil && id != ""
}

// enterRecoveringLocked moves to Recovering and arms the timeout that
// forcibly clears the state if recovery never completes. Must be called
// with mu held.
func (s *Supervisor) enterRecoveringLocked(reason string) {
	s.state = StateRecovering
	s.logger.Warn("entering recovery", "reason", reason, "timeout", s.cfg.RecoveryTimeout)

	s.stopTimerLocked(&s.recoveryTimer)
	s.recoveryTimer = time.AfterFunc(s.cfg.RecoveryTimeout, s.recoveryTimedOut)
}

// recoveryTimedOut clears a recovery window that never resolved.
func (s *Supervisor) recoveryTimedOut() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recoveryTimer = nil
	if s.state != StateRecovering {
		return
	}
	s.state = StateDisconnected
	s.logger.Warn("recovery window timed out, clearing recovery state")
}

// scheduleReconnect counts an attempt against the bound and arms the
// backoff timer. Past the bound the supervisor goes terminal instead of
// silently looping forever: infinite retry would leak timers across
// repeated host-page teardowns.
func (s *Supervisor) scheduleReconnect(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateDestroyed || s.unrecoverable {
		return
	}
	if s.reconnectTimer != nil {
		return
	}

	s.attempts++
	s.reconnecting = true

	if s.attempts > s.cfg.MaxReconnectAttempts {
		s.unrecoverable = true
		s.reconnecting = false
		s.logger.Error("reconnect attempts exhausted, giving up",
			"attempts", s.attempts-1,
			"reason", reason,
		)
		return
	}

	delay := s.backoffLocked(s.attempts)
	s.logger.Info("scheduling reconnect",
		"attempt", s.attempts,
		"max_attempts", s.cfg.MaxReconnectAttempts,
		"delay", delay,
		"reason", reason,
	)

	s.reconnectTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.reconnectTimer = nil
		if s.state == StateDestroyed || s.unrecoverable {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.attempt()
	})
}

// backoffLocked computes the delay before the given attempt: base
// doubled per attempt, capped, with ±25% jitter so a fleet of clients
// does not reconnect in lockstep. Must be called with mu held.
func (s *Supervisor) backoffLocked(attempt int) time.Duration {
	d := s.cfg.ReconnectBackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.ReconnectBackoffCap {
			d = s.cfg.ReconnectBackoffCap
			break
		}
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * jitter)
}

// markHeartbeatStale records overdue-ack evidence for the classifier.
func (s *Supervisor) markHeartbeatStale() {
	s.mu.Lock()
	s.heartbeatStale = true
	s.mu.Unlock()
}

// stopTimerLocked cancels and clears an owned timer. Must be called
// with mu held.
func (s *Supervisor) stopTimerLocked(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
