package connection

import (
	"testing"
	"time"
)

func TestBackoff_ScheduleWithoutJitter(t *testing.T) {
	b := &Backoff{Base: time.Second, Max: 30 * time.Second, Factor: 2}

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i+1, got, w)
		}
	}
}

func TestBackoff_CumulativeAttemptTimes(t *testing.T) {
	b := &Backoff{Base: time.Second, Max: 30 * time.Second, Factor: 2}

	// Attempts land at t=1s, 3s, 7s, 15s after the first failure
	var elapsed time.Duration
	want := []time.Duration{1 * time.Second, 3 * time.Second, 7 * time.Second, 15 * time.Second}
	for i, w := range want {
		elapsed += b.Next()
		if elapsed != w {
			t.Errorf("attempt %d at %v, want %v", i+1, elapsed, w)
		}
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	tests := []struct {
		name string
		r    float64
		want time.Duration
	}{
		{"low", 0, 800 * time.Millisecond},
		{"mid", 0.5, time.Second},
		{"high", 0.999999, 1200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &Backoff{
				Base:   time.Second,
				Max:    30 * time.Second,
				Factor: 2,
				Jitter: 0.2,
				Rand:   func() float64 { return tt.r },
			}
			got := b.Next()
			diff := got - tt.want
			if diff < 0 {
				diff = -diff
			}
			if diff > time.Millisecond {
				t.Errorf("Next() = %v, want ~%v", got, tt.want)
			}
		})
	}
}

func TestBackoff_JitterNeverExceedsMax(t *testing.T) {
	b := &Backoff{
		Base:   time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: 0.2,
		Rand:   func() float64 { return 0.999999 },
	}

	for i := 0; i < 10; i++ {
		if got := b.Next(); got > 30*time.Second {
			t.Fatalf("Next() #%d = %v, exceeds cap", i+1, got)
		}
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := &Backoff{Base: time.Second, Max: 30 * time.Second, Factor: 2}
	b.Next()
	b.Next()
	b.Next()

	if b.Attempt() != 3 {
		t.Errorf("Attempt() = %d, want 3", b.Attempt())
	}

	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("Next() after Reset = %v, want 1s", got)
	}
}
