// Package admission gates new websocket connections with a token bucket.
package admission

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Limiter is a process-wide token bucket. Consume never blocks; a background
// refiller adds one token per tick up to capacity for the lifetime of the
// worker.
type Limiter struct {
	capacity int64
	interval time.Duration
	tokens   atomic.Int64
}

// New creates a full bucket that refills one token every refillEvery.
func New(capacity int, refillEvery time.Duration) *Limiter {
	l := &Limiter{
		capacity: int64(capacity),
		interval: refillEvery,
	}
	l.tokens.Store(l.capacity)
	return l
}

// Consume takes one token if any remain. A false return means "reject this
// connection"; it is an admission decision, not an error.
func (l *Limiter) Consume() bool {
	for {
		n := l.tokens.Load()
		if n <= 0 {
			return false
		}
		if l.tokens.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// Tokens returns the current token count.
func (l *Limiter) Tokens() int {
	return int(l.tokens.Load())
}

// Start launches the refiller goroutine. It runs until ctx is cancelled,
// which should only happen at worker shutdown.
func (l *Limiter) Start(ctx context.Context) {
	slog.Info("Admission limiter started", "capacity", l.capacity, "refillEvery", l.interval)
	go func() {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("Admission limiter stopping.")
				return
			case <-ticker.C:
				l.refill()
			}
		}
	}()
}

func (l *Limiter) refill() {
	for {
		n := l.tokens.Load()
		if n >= l.capacity {
			return
		}
		if l.tokens.CompareAndSwap(n, n+1) {
			return
		}
	}
}
