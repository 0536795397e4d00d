package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"order-reconciler/internal/clock"

	"golang.org/x/time/rate"
)

// Operation classes used by the cascade
const (
	ClassTicket = "ticket"
	ClassOrder  = "order"
	ClassItem   = "item"
)

// Intervals holds the minimum spacing per operation class
type Intervals map[string]time.Duration

// DefaultIntervals matches the downstream budget: 3s per ticket, 2s per order header, 1s per item
func DefaultIntervals() Intervals {
	return Intervals{
		ClassTicket: 3 * time.Second,
		ClassOrder:  2 * time.Second,
		ClassItem:   time.Second,
	}
}

type classState struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	last    time.Time
}

// Limiter enforces a minimum interval between calls of the same class with one
// single-token rate.Limiter per class, driven by an injectable clock.
type Limiter struct {
	clock clock.Clock

	mu      sync.Mutex
	classes map[string]*classState

	// OnWait observes how long a caller was held back
	OnWait func(class string, waited time.Duration)
}

// NewLimiter creates a limiter; a nil clock uses the system clock
func NewLimiter(c clock.Clock) *Limiter {
	if c == nil {
		c = clock.Real{}
	}
	return &Limiter{
		clock:   c,
		classes: make(map[string]*classState),
	}
}

func (l *Limiter) state(class string) *classState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.classes[class]
	if !ok {
		st = &classState{}
		l.classes[class] = st
	}
	return st
}

// Wait blocks until minInterval has elapsed since the last permitted call of class.
// Callers of the same class are serialized; the class lock is held across the wait.
func (l *Limiter) Wait(ctx context.Context, class string, minInterval time.Duration) error {
	st := l.state(class)

	st.mu.Lock()
	defer st.mu.Unlock()

	now := l.clock.Now()
	limit := rate.Every(minInterval)
	switch {
	case st.limiter == nil:
		st.limiter = rate.NewLimiter(limit, 1)
	case st.limiter.Limit() != limit:
		st.limiter.SetLimitAt(now, limit)
	}

	r := st.limiter.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("rate limit for %s cannot be satisfied", class)
	}
	waited := r.DelayFrom(now)
	if waited > 0 {
		if err := l.clock.Sleep(ctx, waited); err != nil {
			r.CancelAt(now)
			return err
		}
	}

	st.last = now.Add(waited)

	if l.OnWait != nil {
		l.OnWait(class, waited)
	}
	return nil
}

// Last returns the timestamp of the last permitted call of class
func (l *Limiter) Last(class string) time.Time {
	st := l.state(class)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.last
}
