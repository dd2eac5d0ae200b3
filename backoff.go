package firelite

import (
	"context"
	"math/rand/v2"
	"time"
)

// backoff produces capped exponential delays with full jitter.
type backoff struct {
	initial    time.Duration
	max        time.Duration
	multiplier float64

	next time.Duration
}

func newBackoff() *backoff {
	return &backoff{
		initial:    250 * time.Millisecond,
		max:        30 * time.Second,
		multiplier: 2,
	}
}

// wait sleeps for the next delay in the sequence, or returns early with the
// context's error.
func (b *backoff) wait(ctx context.Context) error {
	if b.next == 0 {
		b.next = b.initial
	}
	d := time.Duration(rand.Float64() * float64(b.next))
	b.next = time.Duration(float64(b.next) * b.multiplier)
	if b.next > b.max {
		b.next = b.max
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
