// Package ratelimit keeps outbound calls under a per-window request budget.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is a sliding-window limiter: at most Max calls are admitted in any span of Size.
type Window struct {
	max  int
	size time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	admitted []time.Time
}

// Option adjusts a Window, mainly for tests.
type Option func(*Window)

func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Window) {
		if now != nil {
			w.now = now
		}
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

func New(max int, size time.Duration, opts ...Option) *Window {
	if max <= 0 {
		max = 1
	}
	if size <= 0 {
		size = time.Second
	}
	w := &Window{
		max:   max,
		size:  size,
		now:   time.Now,
		sleep: Sleep,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Wait blocks until a call may proceed and records it. It returns early only if ctx ends.
func (w *Window) Wait(ctx context.Context) error {
	for {
		d := w.reserve()
		if d <= 0 {
			return nil
		}
		if err := w.sleep(ctx, d); err != nil {
			return err
		}
	}
}

// reserve admits the call and returns 0, or returns how long to wait before retrying.
func (w *Window) reserve() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	keep := w.admitted[:0]
	for _, t := range w.admitted {
		if now.Sub(t) < w.size {
			keep = append(keep, t)
		}
	}
	w.admitted = keep

	if len(w.admitted) < w.max {
		w.admitted = append(w.admitted, now)
		return 0
	}
	wait := w.size - now.Sub(w.admitted[0])
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
