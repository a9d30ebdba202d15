package forward

import (
	"math/rand"
	"time"
)

// BackoffPolicy implements the jittered exponential backoff spec §4.H
// requires for both edge-pull reconnects and forward-push retries:
// 100ms doubling up to a 30s ceiling, +/-30% jitter, with a bounded
// attempt count before the caller should give up.
type BackoffPolicy struct {
	Base       time.Duration
	Max        time.Duration
	Jitter     float64
	MaxRetries int
}

// DefaultBackoffPolicy matches spec §4.H's stated numbers.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:       100 * time.Millisecond,
		Max:        30 * time.Second,
		Jitter:     0.30,
		MaxRetries: 10,
	}
}

// Delay returns the backoff duration for the given attempt (0-based),
// jittered by +/-Jitter fraction of the unjittered value.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			d = p.Max
			break
		}
	}
	if d > p.Max {
		d = p.Max
	}
	if p.Jitter <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	delta := (rand.Float64()*2 - 1) * spread
	jittered := float64(d) + delta
	if jittered < 0 {
		jittered = 0
	}
	return time.Duration(jittered)
}

// Exhausted reports whether attempt (0-based, about to be made) exceeds
// the policy's retry budget.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return p.MaxRetries > 0 && attempt >= p.MaxRetries
}
