package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/andresmejia3/tagvision/internal/config"
)

// AttemptFunc is one try at acquiring a resource.
type AttemptFunc func(ctx context.Context) error

// Retry calls fn until it succeeds, ctx is done, or cfg.MaxRetries retries
// have failed (0 retries forever). Waits between attempts grow as
// InitialDelay * 2^(n-1), capped at MaxDelay.
func Retry(ctx context.Context, what string, cfg config.RetryConfig, fn AttemptFunc) error {
	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if retries > 0 {
				slog.Info("acquired after retries", "what", what, "retries", retries)
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		retries++
		if cfg.MaxRetries > 0 && retries > cfg.MaxRetries {
			return fmt.Errorf("%s: max retries exceeded (%d attempts): %w", what, cfg.MaxRetries, err)
		}

		delay := Backoff(retries, cfg)
		slog.Warn("retrying",
			"what", what,
			"attempt", retries,
			"max_retries", cfg.MaxRetries,
			"delay", delay,
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Backoff returns the wait before retry number attempt (1-based).
func Backoff(attempt int, cfg config.RetryConfig) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	delay := cfg.InitialDelay * time.Duration(1<<uint(shift))
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}
	return delay
}
