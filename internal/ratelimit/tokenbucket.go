// Package ratelimit implements the relay's per-provider admission control.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// TokenBucket is a continuous-refill token bucket with fractional tokens.
// A bucket created with maxTPS == 0 always admits and never tracks time,
// matching the "unlimited" provider tier in the registry.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	tokens     float64
	refillRate float64
	last       time.Time
	unlimited  bool
}

// New creates a token bucket sized to maxTPS tokens/second, starting full.
func New(maxTPS uint32) *TokenBucket {
	if maxTPS == 0 {
		return &TokenBucket{unlimited: true}
	}
	cap := float64(maxTPS)
	return &TokenBucket{
		capacity:   cap,
		tokens:     cap,
		refillRate: cap,
		last:       time.Now(),
	}
}

// TryTake attempts to debit n tokens, refilling based on elapsed wall time
// since the last call. Returns true if the debit succeeded.
func (b *TokenBucket) TryTake(n float64) bool {
	if b.unlimited {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

func (b *TokenBucket) refillLocked() {
	now := time.Now()
	dt := now.Sub(b.last).Seconds()
	if dt > 0 {
		b.tokens = math.Min(b.tokens+dt*b.refillRate, b.capacity)
		b.last = now
	}
}

// Tokens refills the bucket and returns the current fractional token count;
// unlimited buckets report -1 (no ceiling).
func (b *TokenBucket) Tokens() float64 {
	if b.unlimited {
		return -1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

// Unlimited reports whether this bucket was created with maxTPS == 0.
func (b *TokenBucket) Unlimited() bool {
	return b.unlimited
}
