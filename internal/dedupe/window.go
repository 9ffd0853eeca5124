// ABOUTME: Thread-safe TTL window for absorbing redelivered messages.
// ABOUTME: The channel guarantees at-least-once; receivers use this to drop duplicates.

package dedupe

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// windowEntry stores the timestamp and list element for a seen key.
type windowEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Window is a thread-safe, TTL-based, size-limited record of recently
// seen message digests. A queue drain after reconnect can redeliver a
// message the receiver already processed before the outage; checking
// the digest against the window keeps side effects from running twice.
// Uses a doubly-linked list to maintain insertion order for O(1)
// eviction.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*windowEntry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe window with the specified TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Window {
	w := &Window{
		seen:    make(map[string]*windowEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go w.cleanup()
	return w
}

// Key derives the dedupe key for a message from the sender and the raw
// wire bytes.
func Key(senderID string, frame []byte) string {
	h := sha256.New()
	h.Write([]byte(senderID))
	h.Write([]byte{0})
	h.Write(frame)
	return hex.EncodeToString(h.Sum(nil))
}

// Seen atomically checks whether the key was recorded inside the TTL
// and records it if not. Returns true for a duplicate.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.seen[key]
	if ok && time.Since(entry.timestamp) < w.ttl {
		return true
	}

	w.markLocked(key)
	return false
}

// markLocked records a key, evicting the oldest entry at capacity.
// Must be called with mu held.
func (w *Window) markLocked(key string) {
	now := time.Now()

	if entry, exists := w.seen[key]; exists {
		entry.timestamp = now
		w.order.MoveToBack(entry.element)
		return
	}

	if len(w.seen) >= w.maxSize {
		front := w.order.Front()
		if front != nil {
			oldest, _ := front.Value.(string)
			w.order.Remove(front)
			delete(w.seen, oldest)
		}
	}

	elem := w.order.PushBack(key)
	w.seen[key] = &windowEntry{timestamp: now, element: elem}
}

// Len reports how many keys are currently recorded.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// cleanup runs in a background goroutine, periodically removing expired
// entries.
func (w *Window) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.expire()
		case <-w.done:
			return
		}
	}
}

// expire removes all entries older than the TTL.
func (w *Window) expire() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	for key, entry := range w.seen {
		if now.Sub(entry.timestamp) > w.ttl {
			w.order.Remove(entry.element)
			delete(w.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple
// times.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.closed {
		close(w.done)
		w.closed = true
	}
}
