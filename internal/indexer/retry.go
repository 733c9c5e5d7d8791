package indexer

import (
	"context"
	"errors"
	"time"
)

// withRetry runs call until it succeeds, the context ends or
// RPCMaxRetries additional attempts have failed.
func (s *Service) withRetry(ctx context.Context, op string, call func(ctx context.Context) error) error {
	backoff := s.cfg.RPCRetryBaseDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = call(ctx)
		if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt >= s.cfg.RPCMaxRetries {
			return err
		}

		s.logger.Warn("rpc call failed",
			"op", op,
			"attempt", attempt+1,
			"retry_in", backoff.String(),
			"err", err,
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = nextBackoff(backoff, s.cfg.RPCRetryBaseDelay, s.cfg.RPCRetryMaxDelay)
	}
}

func nextBackoff(current, floor, ceiling time.Duration) time.Duration {
	if floor <= 0 {
		floor = time.Second
	}
	if current < floor {
		current = floor
	}
	next := current * 2
	if ceiling > 0 && next > ceiling {
		return ceiling
	}
	return next
}
