package shoyu

import (
	"time"
)

// Time is the frame clock handed to the update callback.
type Time struct {
	Time  time.Time
	Dt    time.Duration
	Frame uint64
}

// Tick advances the clock to now. The first tick reports a zero delta.
func (t *Time) Tick(now time.Time) {
	if !t.Time.IsZero() {
		t.Dt = now.Sub(t.Time)
	}
	t.Time = now
	t.Frame++
}

// Seconds is Dt in seconds, for scaling per-frame motion.
func (t Time) Seconds() float32 {
	return float32(t.Dt.Seconds())
}
