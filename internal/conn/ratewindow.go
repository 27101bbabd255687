package conn

import "time"

// RateWindow is a fixed-window request counter. A window boundary can admit
// a burst of up to twice the limit.
type RateWindow struct {
	WindowStart    time.Time
	Count          int
	Limit          int
	WindowDuration time.Duration
}

// TryAdmit resets the window when it has elapsed, counts the request, and
// admits iff the count stays within the limit. Rejected requests are not
// queued.
func (w *RateWindow) TryAdmit(now time.Time) bool {
	if now.Sub(w.WindowStart) >= w.WindowDuration {
		w.WindowStart = now
		w.Count = 0
	}
	w.Count++
	return w.Count <= w.Limit
}
