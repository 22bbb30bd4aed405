package stream

import "time"

// Timer brackets one transcode loop.
type Timer struct {
	start time.Time
	stop  time.Time
}

// StartTimer starts a timer at the current instant.
func StartTimer() *Timer { return &Timer{start: time.Now()} }

// Stop freezes the timer and returns the elapsed time. Later calls return
// the same value.
func (t *Timer) Stop() time.Duration {
	if t.stop.IsZero() {
		t.stop = time.Now()
	}
	return t.stop.Sub(t.start)
}

// Elapsed returns the time since start, or the frozen duration once stopped.
func (t *Timer) Elapsed() time.Duration {
	if t.stop.IsZero() {
		return time.Since(t.start)
	}
	return t.stop.Sub(t.start)
}

// Started returns the start instant.
func (t *Timer) Started() time.Time { return t.start }
