package ratelimit

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// TokenBucket admits up to burst events at once and refills at rate events
// per second. It tracks a single theoretical arrival time instead of a token
// count, so it needs no background refill and never rounds.
//
// A rate <= 0 disables limiting.
type TokenBucket struct {
	mu sync.Mutex

	clock     Clock
	interval  time.Duration // time to earn one token
	tolerance time.Duration // how far ahead of now the arrival time may run

	tat time.Time
}

func NewTokenBucket(clock Clock, burst, rate int) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	b := &TokenBucket{clock: clock}
	if rate <= 0 {
		return b
	}
	if burst < 1 {
		burst = 1
	}
	b.interval = time.Second / time.Duration(rate)
	if b.interval <= 0 {
		b.interval = 1
	}
	b.tolerance = b.interval * time.Duration(burst-1)
	return b
}

// Allow consumes one token if one is available.
func (b *TokenBucket) Allow() bool {
	if b == nil || b.interval == 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	tat := b.tat
	if tat.Before(now) {
		tat = now
	}
	if tat.Sub(now) > b.tolerance {
		return false
	}
	b.tat = tat.Add(b.interval)
	return true
}
