package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	"mcphub/internal/domain"
)

// Policy computes capped exponential retry delays.
type Policy struct {
	base   time.Duration
	max    time.Duration
	factor float64
	jitter float64
	rand   func() float64
}

func NewPolicy(cfg domain.BackoffConfig) *Policy {
	base := time.Duration(cfg.BaseSeconds) * time.Second
	if base <= 0 {
		base = time.Second
	}
	maxDelay := time.Duration(cfg.MaxSeconds) * time.Second
	if maxDelay < base {
		maxDelay = base
	}
	factor := cfg.Factor
	if factor < 1 {
		factor = 1
	}
	jitter := math.Min(math.Max(cfg.Jitter, 0), 1)
	return &Policy{
		base:   base,
		max:    maxDelay,
		factor: factor,
		jitter: jitter,
		rand:   rand.Float64,
	}
}

// Delay returns the unjittered delay after the given number of consecutive
// failures. It never decreases as failures grow and never exceeds the cap.
func (p *Policy) Delay(failures int) time.Duration {
	if failures < 0 {
		failures = 0
	}
	delay := float64(p.base) * math.Pow(p.factor, float64(failures))
	if math.IsInf(delay, 0) || delay > float64(p.max) {
		return p.max
	}
	return time.Duration(delay)
}

// Jittered stretches delay by up to the jitter fraction, clamped to the cap.
// The result is never shorter than delay.
func (p *Policy) Jittered(delay time.Duration) time.Duration {
	if p.jitter == 0 || delay <= 0 {
		return delay
	}
	jittered := delay + time.Duration(p.rand()*p.jitter*float64(delay))
	if jittered > p.max {
		return max(delay, p.max)
	}
	return jittered
}

// Max returns the delay cap.
func (p *Policy) Max() time.Duration {
	return p.max
}
