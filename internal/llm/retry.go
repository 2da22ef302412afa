package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gax "github.com/googleapis/gax-go/v2"
	"github.com/googleapis/gax-go/v2/apierror"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

// RetryConfig bounds retries of a single generation call.
type RetryConfig struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// DefaultRetryConfig returns 3 attempts with exponential backoff between 2s and 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		Initial:  2 * time.Second,
		Max:      30 * time.Second,
	}
}

// PermanentError marks a failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the retrying client gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Retryable reports whether a failed call should be attempted again.
// Everything is retryable except cancellation, explicit permanent errors
// and client-side HTTP errors other than 429.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return retryableHTTPCode(gerr.Code)
	}
	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if code := aerr.HTTPCode(); code > 0 {
			return retryableHTTPCode(code)
		}
	}
	return true
}

func retryableHTTPCode(code int) bool {
	if code == http.StatusTooManyRequests {
		return true
	}
	return code < 400 || code >= 500
}

// CallObserver receives one notification per logical generation call.
type CallObserver interface {
	ObserveLLMCall(ctx context.Context, tier string, attempts int, err error)
}

// RetryingClient wraps a Client with bounded exponential-backoff retries.
type RetryingClient struct {
	inner    Client
	cfg      RetryConfig
	logger   *zap.Logger
	observer CallObserver
}

// NewRetryingClient wraps inner. logger and observer may be nil.
func NewRetryingClient(inner Client, cfg RetryConfig, logger *zap.Logger, observer CallObserver) *RetryingClient {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryingClient{inner: inner, cfg: cfg, logger: logger, observer: observer}
}

// GenerateContent calls the wrapped client until it succeeds, the error is not
// retryable, or the attempt limit is reached.
func (c *RetryingClient) GenerateContent(ctx context.Context, req Request) (*Response, error) {
	bo := gax.Backoff{
		Initial:    c.cfg.Initial,
		Max:        c.cfg.Max,
		Multiplier: 2,
	}

	var lastErr error
	attempt := 0
	for attempt < c.cfg.Attempts {
		attempt++
		resp, err := c.inner.GenerateContent(ctx, req)
		if err == nil {
			c.observe(ctx, req.Tier, attempt, nil)
			return resp, nil
		}
		lastErr = err
		if !Retryable(err) || attempt == c.cfg.Attempts {
			break
		}

		pause := bo.Pause()
		c.logger.Warn("generation call failed, retrying",
			zap.String("tier", string(req.Tier)),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", pause),
			zap.Error(err))
		if sleepErr := gax.Sleep(ctx, pause); sleepErr != nil {
			lastErr = fmt.Errorf("%w (last error: %v)", sleepErr, err)
			break
		}
	}

	c.observe(ctx, req.Tier, attempt, lastErr)
	return nil, fmt.Errorf("generation failed after %d attempt(s): %w", attempt, lastErr)
}

func (c *RetryingClient) observe(ctx context.Context, tier ModelTier, attempts int, err error) {
	if c.observer != nil {
		c.observer.ObserveLLMCall(ctx, string(tier), attempts, err)
	}
}

// GetModel returns the wrapped client's model for a tier
func (c *RetryingClient) GetModel(tier ModelTier) string {
	return c.inner.GetModel(tier)
}

// Close closes the wrapped client
func (c *RetryingClient) Close() error {
	return c.inner.Close()
}
