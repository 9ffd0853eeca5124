// ABOUTME: Unbounded FIFO buffer of messages awaiting a usable port.
// ABOUTME: Order is positional; entries carry no metadata beyond the message.

package channel

import "github.com/2389/coven-relay/internal/wire"

// queue is an unbounded FIFO of not-yet-sent messages. Not safe for
// concurrent use; the owning Channel serializes access under its mutex.
type queue struct {
	entries []wire.Message
	head    int
}

// push appends a message at the tail.
func (q *queue) push(msg wire.Message) {
	q.entries = append(q.entries, msg)
}

// peek returns the oldest message without removing it. Call only when
// len is non-zero.
func (q *queue) peek() wire.Message {
	return q.entries[q.head]
}

// pop removes the oldest message. The backing array is compacted once
// the dead prefix outgrows the live entries, so memory stays linear in
// the queued count rather than in total throughput.
func (q *queue) pop() {
	q.head++
	if q.head > len(q.entries)/2 && q.head > 32 {
		q.entries = append([]wire.Message(nil), q.entries[q.head:]...)
		q.head = 0
	}
	if q.head == len(q.entries) {
		q.entries = q.entries[:0]
		q.head = 0
	}
}

// clear drops every queued message.
func (q *queue) clear() {
	q.entries = q.entries[:0]
	q.head = 0
}

// len reports how many messages are queued.
func (q *queue) len() int {
	return len(q.entries) - q.head
}
