package connection

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: Base * Factor^n capped at Max, with a
// +/- Jitter fraction applied and the result clamped back to Max.
// Not safe for concurrent use; the Manager's run loop owns it.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	Jitter float64

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64

	attempt int
}

// NewBackoff builds a Backoff from the manager config.
func NewBackoff(cfg ManagerConfig) *Backoff {
	return &Backoff{
		Base:   cfg.ReconnectBaseDelay,
		Max:    cfg.ReconnectMaxDelay,
		Factor: cfg.ReconnectFactor,
		Jitter: cfg.Jitter,
	}
}

// Next returns the delay before the next attempt and advances the schedule.
func (b *Backoff) Next() time.Duration {
	factor := b.Factor
	if factor < 1 {
		factor = 2
	}

	d := float64(b.Base) * math.Pow(factor, float64(b.attempt))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	b.attempt++

	if b.Jitter > 0 {
		r := b.Rand
		if r == nil {
			r = rand.Float64
		}
		d += d * b.Jitter * (2*r() - 1)
	}

	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Reset restarts the schedule at Base.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns how many delays have been handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}
