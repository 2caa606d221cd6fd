package agent

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// RetryConfig bounds the attempts and backoff of a RetryProvider.
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryConfig allows four attempts with backoff from 1s to 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// RetryProvider wraps a provider with automatic retry on transient errors.
// A call is only retried while nothing has been forwarded yet, so streamed
// text is never duplicated.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// WrapWithRetry wraps a provider with retry logic.
func WrapWithRetry(p Provider, config RetryConfig) Provider {
	return &RetryProvider{inner: p, config: config}
}

func (r *RetryProvider) Name() string {
	return r.inner.Name()
}

func (r *RetryProvider) Stream(ctx context.Context, req CallRequest) (Stream, error) {
	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		var lastErr error

		for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
			forwarded := false
			stream, err := r.inner.Stream(ctx, req)
			if err == nil {
				err = r.forwardEvents(ctx, stream, events, &forwarded)
				if err == nil {
					return nil
				}
			}
			if forwarded || !isRetryable(err) {
				return err
			}
			lastErr = err

			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt >= r.config.MaxAttempts {
				break
			}

			wait := r.calculateBackoff(attempt, lastErr)
			if err := send(ctx, events, Event{
				Type:          EventRetry,
				RetryAttempt:  attempt,
				RetryWaitSecs: wait.Seconds(),
			}); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		return lastErr
	}), nil
}

// forwardEvents copies events from stream until EOF.
func (r *RetryProvider) forwardEvents(ctx context.Context, stream Stream, events chan<- Event, forwarded *bool) error {
	defer stream.Close()

	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if event.Type != EventUsage && event.Type != EventDone {
			*forwarded = true
		}
		if err := send(ctx, events, event); err != nil {
			return err
		}
	}
}

// transientMarkers are substrings of error messages from providers and the
// network stack that indicate a retry may succeed.
var transientMarkers = []string{
	"429", "rate limit", "too many requests",
	"502", "bad gateway", "503", "service unavailable", "overloaded",
	"connection refused", "connection reset", "temporary failure", "no such host",
}

// isRetryable reports whether err is transient. SDK errors are judged by
// status code; anything else by its message.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code, ok := statusCode(err); ok {
		return code == http.StatusTooManyRequests || code == 529 || code >= 500
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func statusCode(err error) (int, bool) {
	var aerr *anthropic.Error
	if errors.As(err, &aerr) {
		return aerr.StatusCode, true
	}
	var oerr *openai.Error
	if errors.As(err, &oerr) {
		return oerr.StatusCode, true
	}
	return 0, false
}

// retryAfterRegex matches Retry-After values in error messages.
var retryAfterRegex = regexp.MustCompile(`(?i)retry[- ]?after[:\s]+(\d+)`)

// calculateBackoff computes the wait duration for a retry attempt.
func (r *RetryProvider) calculateBackoff(attempt int, err error) time.Duration {
	if err != nil {
		if matches := retryAfterRegex.FindStringSubmatch(err.Error()); len(matches) > 1 {
			if secs, parseErr := strconv.Atoi(matches[1]); parseErr == nil && secs > 0 {
				return min(time.Duration(secs)*time.Second, r.config.MaxBackoff)
			}
		}
	}

	// base * 2^(attempt-1), +/- 25% jitter
	backoff := float64(r.config.BaseBackoff) * math.Pow(2, float64(attempt-1))
	backoff += (rand.Float64() - 0.5) * 0.5 * backoff
	if backoff > float64(r.config.MaxBackoff) {
		backoff = float64(r.config.MaxBackoff)
	}
	return time.Duration(backoff)
}
