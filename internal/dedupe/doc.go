// Package dedupe absorbs redelivered messages on the receiving side of
// an at-least-once channel.
package dedupe
