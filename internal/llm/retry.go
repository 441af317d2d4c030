package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"rejoin/internal/observability"
	"rejoin/internal/reliability"
)

// RetryingClient wraps a Client with deterministic capped backoff on
// retryable failures. A request is never retried once a delta has been
// delivered: a partially rendered stream must not replay, the user already
// saw part of it.
type RetryingClient struct {
	inner    Client
	attempts int
	base     time.Duration
	cap      time.Duration
	metrics  *observability.Metrics
	window   *observability.StageWindow
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryingClient(
	inner Client,
	attempts int,
	base, cap time.Duration,
	metrics *observability.Metrics,
	window *observability.StageWindow,
	logger *slog.Logger,
) *RetryingClient {
	if attempts <= 0 {
		attempts = 3
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if cap <= 0 {
		cap = 8 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingClient{
		inner:    inner,
		attempts: attempts,
		base:     base,
		cap:      cap,
		metrics:  metrics,
		window:   window,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

func (c *RetryingClient) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	start := time.Now()
	firstDeltaSeen := false

	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		delivered := false
		resp, err := c.inner.StreamResponse(ctx, req, func(delta string) error {
			if !delivered {
				delivered = true
				if !firstDeltaSeen {
					firstDeltaSeen = true
					c.window.ObserveSince(observability.StageFirstDelta, start)
				}
			}
			if onDelta == nil {
				return nil
			}
			return onDelta(delta)
		})
		if err == nil {
			c.metrics.ObserveRequestLatency(time.Since(start))
			c.window.ObserveSince(observability.StageRequestTotal, start)
			return resp, nil
		}

		lastErr = err
		if delivered || ctx.Err() != nil || !retryable(err) || attempt == c.attempts-1 {
			break
		}

		wait := reliability.ExponentialBackoff(attempt, c.base, c.cap)
		c.logger.Warn("model request failed, retrying",
			"attempt", attempt+1,
			"backoff", wait,
			"error", err,
		)
		c.metrics.RequestRetries.Inc()
		c.window.ObserveIndicator("stream_retry")
		if err := c.sleep(ctx, wait); err != nil {
			return Response{}, err
		}
	}
	return Response{}, lastErr
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return reliability.IsRetryableHTTPStatus(se.StatusCode)
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return reliability.IsRetryableGatewayCode(ge.Code)
	}
	return reliability.IsRetryableTransport(err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
