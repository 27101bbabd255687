package conn

import (
	"testing"
	"time"
)

func TestRateWindowAdmitsUpToLimit(t *testing.T) {
	w := RateWindow{Limit: 60, WindowDuration: time.Minute}
	now := time.Now()

	for i := 1; i <= 60; i++ {
		if !w.TryAdmit(now) {
			t.Fatalf("request %d rejected, want admitted", i)
		}
	}
	if w.TryAdmit(now) {
		t.Fatalf("request 61 admitted, want rejected")
	}
}

func TestRateWindowResetsAfterWindowElapses(t *testing.T) {
	w := RateWindow{Limit: 2, WindowDuration: time.Second}
	start := time.Now()

	if !w.TryAdmit(start) || !w.TryAdmit(start) {
		t.Fatalf("first two requests should be admitted")
	}
	if w.TryAdmit(start) {
		t.Fatalf("third request in window should be rejected")
	}

	later := start.Add(time.Second)
	if !w.TryAdmit(later) {
		t.Fatalf("request after window rollover should be admitted")
	}
	if w.Count != 1 {
		t.Fatalf("Count = %d after rollover, want 1", w.Count)
	}
}

func TestRateWindowCountNeverExceedsLimitOnAdmit(t *testing.T) {
	w := RateWindow{Limit: 5, WindowDuration: time.Minute}
	now := time.Now()

	for i := 0; i < 20; i++ {
		admitted := w.TryAdmit(now)
		if admitted && w.Count > w.Limit {
			t.Fatalf("admitted with Count = %d over Limit = %d", w.Count, w.Limit)
		}
	}
}
