package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// RetryOptions configures the retrying wrapper.
type RetryOptions struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type retryProvider struct {
	inner Provider
	opts  RetryOptions
}

// WithRetry wraps a provider with exponential-backoff retries. Every error is
// retried here; the engine's own error classification still governs what
// happens when the budget is exhausted.
func WithRetry(inner Provider, opts RetryOptions) Provider {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 10 * time.Second
	}
	return &retryProvider{inner: inner, opts: opts}
}

func (p *retryProvider) Name() string {
	return p.inner.Name()
}

func (p *retryProvider) Invoke(ctx context.Context, request *Request) (*Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.opts.InitialInterval
	bo.MaxInterval = p.opts.MaxInterval

	var response *Response
	operation := func() error {
		var err error
		response, err = p.inner.Invoke(ctx, request)
		return err
	}
	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, p.opts.MaxRetries), ctx))
	if err != nil {
		return nil, err
	}
	return response, nil
}

type rateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps a provider with a client-side request rate limit, so a
// burst of concurrent workers does not trip the backend's own limiter.
func WithRateLimit(inner Provider, requestsPerSecond float64, burst int) Provider {
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

func (p *rateLimitedProvider) Name() string {
	return p.inner.Name()
}

func (p *rateLimitedProvider) Invoke(ctx context.Context, request *Request) (*Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.Invoke(ctx, request)
}
