// Package breaker implements the relay's per-provider circuit breaker on
// top of github.com/sony/gobreaker: a consecutive-failure trip with a
// time-bounded ban, consulted only at selection time.
package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"
)

// Config holds the breaker's tunables, sourced from relay config and updated
// on every hot reload.
type Config struct {
	BanErrorThreshold uint32
	BanSeconds        uint64
}

var errRecordedFailure = errors.New("breaker: recorded failure")

// Breaker wraps a gobreaker.CircuitBreaker built lazily from the Config
// first passed to OnFailure, and rebuilt whenever that Config changes
// (a hot reload of ban_error_threshold/ban_seconds). Open maps to "banned";
// gobreaker's ConsecutiveFailures counter and half-open trial already give
// us the trip-then-time-bounded-probe behavior the relay needs, so no
// custom streak bookkeeping is required here.
type Breaker struct {
	mu               sync.Mutex
	cfg              Config
	cb               *gobreaker.CircuitBreaker
	bannedUntilEpoch atomic.Uint64
}

func (b *Breaker) ensure(cfg Config) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cb != nil && b.cfg == cfg {
		return b.cb
	}
	b.cfg = cfg
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		MaxRequests: 1,
		Timeout:     time.Duration(cfg.BanSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BanErrorThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				b.bannedUntilEpoch.Store(nowEpoch() + cfg.BanSeconds)
			}
		},
	})
	return b.cb
}

// OnFailure records a failed attempt against cfg's tunables. Once
// ConsecutiveFailures reaches BanErrorThreshold, gobreaker trips the
// breaker open for BanSeconds.
func (b *Breaker) OnFailure(cfg Config) {
	cb := b.ensure(cfg)
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errRecordedFailure })
}

// OnSuccess records a successful attempt, resetting the consecutive-failure
// streak. A no-op if no failure has ever been recorded (nothing to build or
// reset yet). While the breaker is open, gobreaker declines to run the
// trial at all, so a single success during an active ban never lifts it —
// only the half-open trial after BanSeconds elapses can do that.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()
	if cb == nil {
		return
	}
	_, _ = cb.Execute(func() (interface{}, error) { return nil, nil })
}

// IsBanned reports whether the breaker is currently tripped.
func (b *Breaker) IsBanned() bool {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()
	if cb == nil {
		return false
	}
	return cb.State() == gobreaker.StateOpen
}

// BannedUntil returns the epoch second at which the most recent ban ends
// (trip time plus BanSeconds; 0 if the breaker has never opened).
func (b *Breaker) BannedUntil() uint64 {
	return b.bannedUntilEpoch.Load()
}

func nowEpoch() uint64 {
	return uint64(time.Now().Unix())
}
