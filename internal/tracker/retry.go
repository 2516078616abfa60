package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/crewd/internal/logging"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
)

// RetryConfig configures retry behavior for GitHub API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Default: 3
	MaxRetries int

	// InitialBackoff is the initial backoff duration.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 30 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration for GitHub API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// withRetry retries a GitHub API operation with exponential backoff.
// Rate limit responses wait for the advertised reset, capped at MaxBackoff.
func withRetry(ctx context.Context, cfg RetryConfig, log *logging.Logger, op string, operation func() (*github.Response, error)) (*github.Response, error) {
	cfg.ApplyDefaults()
	if log == nil {
		log = logging.Nop()
	}

	var lastErr error
	var lastResp *github.Response
	backoff := cfg.InitialBackoff
	startTime := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := operation()
		if err == nil {
			if attempt > 0 {
				log.Info(ctx, "github operation recovered after retries",
					zap.String("operation", op),
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(startTime)),
				)
			}
			return resp, nil
		}

		lastErr = err
		lastResp = resp

		if !isRetryable(err, resp) {
			log.Debug(ctx, "github error is not retryable",
				zap.String("operation", op),
				zap.Error(err),
				zap.Int("status_code", statusCode(resp)),
			)
			return resp, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		if isRateLimit(err, resp) {
			backoff = rateLimitBackoff(resp, cfg.MaxBackoff)
			log.Info(ctx, "github rate limit hit, adjusting backoff",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", cfg.MaxRetries+1),
				zap.Duration("backoff", backoff),
			)
		} else {
			log.Info(ctx, "retrying github operation after transient error",
				zap.String("operation", op),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", cfg.MaxRetries+1),
				zap.Error(err),
				zap.Int("status_code", statusCode(resp)),
				zap.Duration("backoff", backoff),
			)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-timer.C:
			next := time.Duration(float64(backoff) * cfg.BackoffMultiplier)
			if next > cfg.MaxBackoff {
				next = cfg.MaxBackoff
			}
			backoff = next
		}
	}

	log.Warn(ctx, "github operation failed after all retries",
		zap.String("operation", op),
		zap.Int("total_attempts", cfg.MaxRetries+1),
		zap.Duration("total_time", time.Since(startTime)),
		zap.Error(lastErr),
		zap.Int("status_code", statusCode(lastResp)),
	)
	return lastResp, fmt.Errorf("%s failed after %d retries: %w", op, cfg.MaxRetries, lastErr)
}

// isRetryable: 429, 5xx, rate-limited 403 and transport errors retry; other 4xx do not.
func isRetryable(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var rle *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &abuse) {
		return true
	}

	if resp != nil && resp.Response != nil {
		code := resp.Response.StatusCode
		switch {
		case code == http.StatusTooManyRequests:
			return true
		case code == http.StatusForbidden:
			// secondary rate limits come back as 403 with rate info
			return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
		case code >= 500 && code < 600:
			return true
		default:
			return false
		}
	}

	// no response: network error, timeout
	return true
}

func isRateLimit(err error, resp *github.Response) bool {
	var rle *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rle) || errors.As(err, &abuse) {
		return true
	}
	if resp == nil || resp.Response == nil {
		return false
	}
	if resp.Response.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.Response.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0
}

// rateLimitBackoff waits until the advertised reset plus one second.
func rateLimitBackoff(resp *github.Response, maxBackoff time.Duration) time.Duration {
	if resp == nil || (resp.Rate.Limit == 0 && resp.Rate.Remaining == 0) {
		return min(time.Minute, maxBackoff)
	}

	backoff := time.Until(resp.Rate.Reset.Time) + time.Second
	if backoff < time.Second {
		backoff = time.Second
	}
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}

func statusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.Response.StatusCode
	}
	return 0
}
