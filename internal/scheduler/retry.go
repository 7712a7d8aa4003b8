package scheduler

import (
	"context"
	"errors"
	"fmt"

	"zombidef.ai/internal/client"
)

// callRetry runs fn until it succeeds, waiting FetchRetryDelay between attempts. It gives up
// with ErrTimeoutExceeded once FetchRetryWindow has passed since the first attempt, and at once
// when the server says the player is not in the round.
func (s *Scheduler) callRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	start := s.now()
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, client.ErrNotParticipating) {
			return fmt.Errorf("%s: %w", op, err)
		}
		s.bump(func(st *Status) { st.FetchErrors++ })
		if elapsed := s.now().Sub(start); elapsed >= s.cfg.FetchRetryWindow {
			return fmt.Errorf("%s: %w after %d attempts in %s: %v", op, ErrTimeoutExceeded, attempt, elapsed, err)
		}
		s.log.Printf("%s failed (attempt %d), retry in %s: %v", op, attempt, s.cfg.FetchRetryDelay, err)
		if err := s.sleep(ctx, s.cfg.FetchRetryDelay); err != nil {
			return err
		}
	}
}
