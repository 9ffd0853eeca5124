// Package channel implements the resilient message channel between an
// embedded client and its coordinator.
//
// # Overview
//
// The host runtime may tear down the underlying transport at any moment:
// navigation, runtime restart, identity invalidation. The channel makes
// that invisible to callers. Sends are fire-and-forget; anything that
// cannot go out immediately is queued and drained, in order, through the
// next port the supervisor installs.
//
// # Send path
//
//	ch.Send(wire.TypeZipData, payload)
//
// If the current port validates as usable, the message goes out
// directly. If the send fails, the channel marks itself disconnected,
// queues the message, and publishes a single messageHandlerDisconnected
// event with the failure reason. If the channel is already
// disconnected, the message is queued without touching the port at all.
// Send never returns an error and never panics, regardless of payload.
//
// # Drain semantics
//
// UpdatePort installs a replacement port and flushes the queue in FIFO
// order. On the first mid-drain failure, the failing message and every
// message behind it stay queued, in order. Some prefix of the queue is
// flushed and the rest survives; that is a guarantee, not best effort.
//
// # Validation
//
// A port is usable only when it exists, has not closed, carries a
// non-empty identity tag, and the host-runtime identity probe succeeds.
// A probe that errors or panics reads as disconnected.
package channel
