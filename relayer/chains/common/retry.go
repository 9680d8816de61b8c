package common

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig tunes RetryManager. MaxRetries counts retries, so fn runs at most MaxRetries+1 times.
type RetryConfig struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	RetryableError func(error) bool
	// OnRetry is called with the one-based number of the failed attempt before sleeping.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig retries everything five times, 1s doubling up to 30s.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     5,
		InitialDelay:   time.Second,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2.0,
		RetryableError: alwaysRetry,
	}
}

func alwaysRetry(error) bool { return true }

// RetryManager runs an operation with exponential backoff between attempts.
type RetryManager struct {
	config *RetryConfig
	logger zerolog.Logger
}

// NewRetryManager creates a retry manager. A nil config means DefaultRetryConfig.
func NewRetryManager(config *RetryConfig, logger zerolog.Logger) *RetryManager {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.RetryableError == nil {
		config.RetryableError = alwaysRetry
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &RetryManager{
		config: config,
		logger: logger.With().Str("component", "retry_manager").Logger(),
	}
}

// ExecuteWithRetry calls fn with the zero-based attempt number until it returns nil,
// returns an error RetryableError rejects, or the attempts run out.
func (r *RetryManager) ExecuteWithRetry(ctx context.Context, operation string, fn func(attempt int) error) error {
	maxAttempts := r.config.MaxRetries + 1
	log := r.logger.With().Str("operation", operation).Logger()

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err = fn(attempt); err == nil {
			if attempt > 0 {
				log.Info().Int("attempts", attempt+1).Msg("succeeded after retrying")
			}
			return nil
		}
		if !r.config.RetryableError(err) {
			log.Debug().Err(err).Msg("error is not retryable")
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}

		delay := r.CalculateBackoff(attempt)
		log.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", maxAttempts).Dur("retry_in", delay).Msg("retrying")
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt+1, err)
		}
		if sleepErr := Sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}

	log.Error().Err(err).Int("attempts", maxAttempts).Msg("giving up")
	return fmt.Errorf("operation %s failed after %d attempts: %w", operation, maxAttempts, err)
}

// CalculateBackoff returns InitialDelay*BackoffFactor^attempt capped at MaxDelay.
func (r *RetryManager) CalculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt))
	if math.IsInf(delay, 0) || delay > float64(r.config.MaxDelay) {
		return r.config.MaxDelay
	}
	return time.Duration(delay)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
