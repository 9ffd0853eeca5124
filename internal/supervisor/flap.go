// ABOUTME: Rapid disconnect/connect detector over a sliding time window.
// ABOUTME: Several closures in quick succession read as identity invalidation.

package supervisor

import "time"

// flapDetector tracks recent port closures. A burst of closures below
// the window interval is a stronger signal of host-identity invalidation
// than a single isolated closure: it separates "page navigated away"
// from "coordinator process restarted".
type flapDetector struct {
	window    time.Duration
	threshold int
	closures  []time.Time
}

func newFlapDetector(window time.Duration, threshold int) *flapDetector {
	return &flapDetector{
		window:    window,
		threshold: threshold,
	}
}

// record notes a port closure at time t and prunes entries older than
// the window.
func (f *flapDetector) record(t time.Time) {
	cutoff := t.Add(-f.window)
	kept := f.closures[:0]
	for _, c := range f.closures {
		if c.After(cutoff) {
			kept = append(kept, c)
		}
	}
	f.closures = append(kept, t)
}

// flapping reports whether the closure rate within the window has
// reached the threshold.
func (f *flapDetector) flapping(now time.Time) bool {
	cutoff := now.Add(-f.window)
	count := 0
	for _, c := range f.closures {
		if c.After(cutoff) {
			count++
		}
	}
	return count >= f.threshold
}

// reset clears the closure history, used after a confirmed stable
// reconnect.
func (f *flapDetector) reset() {
	f.closures = f.closures[:0]
}
