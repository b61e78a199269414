package lenserr

import (
	"context"
	"time"
)

// RetryConfig bounds the exponential backoff applied to transient storage
// errors at the write path.
type RetryConfig struct {
	Attempts int
	BaseWait time.Duration
	MaxWait  time.Duration
}

// DefaultRetry is the write-path retry policy.
var DefaultRetry = RetryConfig{Attempts: 5, BaseWait: 100 * time.Millisecond, MaxWait: 3 * time.Second}

// Retry runs fn with bounded exponential backoff. Only STORE_UNAVAILABLE
// errors are retried; any other failure, or context cancellation, returns
// immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultRetry.Attempts
	}
	if cfg.BaseWait <= 0 {
		cfg.BaseWait = DefaultRetry.BaseWait
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultRetry.MaxWait
	}

	wait := cfg.BaseWait
	var err error
	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !Is(err, CodeStoreUnavailable) {
			return err
		}
		if attempt == cfg.Attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}
	return err
}
