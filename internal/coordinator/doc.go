// Package coordinator implements the privileged side of the relay: the
// websocket endpoint embedded clients connect to.
//
// The coordinator is intentionally passive about connectivity. Clients
// own reconnection; the server accepts whatever arrives, answers
// heartbeats, drops frames it cannot parse and types it does not know,
// and absorbs redeliveries from post-reconnect queue drains before
// handing messages to registered handlers.
package coordinator
