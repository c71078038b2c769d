// Package reconnect implements the capped exponential backoff policy
// used between tunnel reconnect attempts (spec.md §4.3).
package reconnect

import (
	"time"

	"github.com/jpillora/backoff"
)

// Policy produces the delay before each reconnect attempt and tracks
// whether another attempt is still allowed.
type Policy struct {
	b           *backoff.Backoff
	maxAttempts uint32
	attempts    uint32
}

// Options configures a Policy. Zero values fall back to spec.md §4.3's
// defaults.
type Options struct {
	BaseDelay         time.Duration // default 1s
	MaxDelay          time.Duration // default 300s
	BackoffMultiplier float64       // default 2.0
	MaxAttempts       uint32        // 0 = unbounded
}

// New returns a Policy configured from opts.
func New(opts Options) *Policy {
	base := opts.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	max := opts.MaxDelay
	if max <= 0 {
		max = 300 * time.Second
	}
	mult := opts.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	return &Policy{
		b: &backoff.Backoff{
			Min:    base,
			Max:    max,
			Factor: mult,
			Jitter: false,
		},
		maxAttempts: opts.MaxAttempts,
	}
}

// ShouldAttempt reports whether another connection attempt is permitted.
func (p *Policy) ShouldAttempt() bool {
	return p.maxAttempts == 0 || p.attempts < p.maxAttempts
}

// NextDelay returns the delay before the next attempt and advances the
// attempt counter. It returns 0 once ShouldAttempt is false.
func (p *Policy) NextDelay() time.Duration {
	if !p.ShouldAttempt() {
		return 0
	}
	d := p.b.Duration()
	p.attempts++
	return d
}

// Reset is called immediately after a successful authentication; it
// zeroes the attempt counter so the next failure starts the backoff
// sequence over.
func (p *Policy) Reset() {
	p.b.Reset()
	p.attempts = 0
}

// Attempts returns the number of attempts made since the last Reset.
func (p *Policy) Attempts() uint32 {
	return p.attempts
}

// MaxAttempts returns the configured attempt cap (0 = unbounded).
func (p *Policy) MaxAttempts() uint32 {
	return p.maxAttempts
}
