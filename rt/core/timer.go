package core

import "time"

// Timer measures elapsed wall time and can be paused and resumed.
type Timer struct {
	now     func() time.Time
	start   time.Time
	running bool
	elapsed time.Duration
}

func NewTimer() *Timer {
	return &Timer{now: time.Now}
}

// NewTimerWithClock is used by tests to drive the timer deterministically.
func NewTimerWithClock(now func() time.Time) *Timer {
	return &Timer{now: now}
}

// Start begins timing, or resumes after Pause.
func (t *Timer) Start() {
	if t.running {
		return
	}
	t.start = t.now()
	t.running = true
}

// Pause freezes the accumulated time.
func (t *Timer) Pause() {
	if !t.running {
		return
	}
	t.elapsed += t.now().Sub(t.start)
	t.running = false
}

// Reset stops the timer and clears accumulated time.
func (t *Timer) Reset() {
	t.running = false
	t.elapsed = 0
}

// Elapsed returns the accumulated time including the current run.
func (t *Timer) Elapsed() time.Duration {
	if t.running {
		return t.elapsed + t.now().Sub(t.start)
	}
	return t.elapsed
}

// Lap returns Elapsed and restarts the timer from zero.
func (t *Timer) Lap() time.Duration {
	d := t.Elapsed()
	t.elapsed = 0
	t.start = t.now()
	t.running = true
	return d
}
