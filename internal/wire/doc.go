// Package wire defines the message envelope exchanged between an
// embedded client and its coordinator.
//
// A message is a type tag from a fixed enumerated set plus an opaque
// payload. There are no other envelope fields: no sequence numbers, no
// timestamps. Ordering is a property of the channel that carries the
// messages, not of the messages themselves.
//
// Receivers must tolerate types they do not know. A newer client talking
// to an older coordinator (or the reverse) skips unrecognized messages
// instead of failing the connection.
package wire
