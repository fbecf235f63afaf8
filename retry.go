package ember

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// retryProvider wraps a Provider and retries transient failures: network
// errors, HTTP 429, and HTTP 500/502/503/504. Auth errors (401), missing
// routes (404), and parse errors pass through untouched.
//
// Backoff doubles on every attempt: the first wait is baseDelay, then
// 2×baseDelay, 4×baseDelay, … up to maxRetries re-attempts.
type retryProvider struct {
	inner      Provider
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

// RetryOption configures WithRetry.
type RetryOption func(*retryProvider)

// RetryMaxRetries sets the number of re-attempts after the first call
// (default 3).
func RetryMaxRetries(n int) RetryOption {
	return func(r *retryProvider) { r.maxRetries = n }
}

// RetryBaseDelay sets the wait before the first retry (default 500ms).
// Each subsequent wait doubles.
func RetryBaseDelay(d time.Duration) RetryOption {
	return func(r *retryProvider) { r.baseDelay = d }
}

// RetryLogger sets a structured logger for retry events.
func RetryLogger(l *slog.Logger) RetryOption {
	return func(r *retryProvider) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRetry wraps p with automatic retry on transient failures. Compose
// with any Provider:
//
//	llm := ember.WithRetry(openaicompat.NewProvider(key, model, base))
func WithRetry(p Provider, opts ...RetryOption) Provider {
	r := &retryProvider{
		inner:      p,
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		logger:     nopLogger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *retryProvider) Name() string { return r.inner.Name() }

func (r *retryProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	var last error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, attempt); err != nil {
				return ChatResponse{}, err
			}
		}
		resp, err := r.inner.Chat(ctx, req)
		if err == nil || !IsTransientLLMError(err) {
			return resp, err
		}
		last = err
		r.logger.Warn("transient LLM error, retrying",
			"provider", r.inner.Name(), "attempt", attempt+1, "of", r.maxRetries+1, "error", err)
	}
	return ChatResponse{}, last
}

// ChatStream retries only while no event has been forwarded yet: once the
// consumer has seen tokens, a retry would duplicate content, so errors pass
// through. ch is closed exactly once before returning.
func (r *retryProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- AgentEvent) (ChatResponse, error) {
	closeCh := onceClose(ch)
	defer closeCh()

	var last error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, attempt); err != nil {
				return ChatResponse{}, err
			}
		}

		mid := make(chan AgentEvent, 64)
		var resp ChatResponse
		var streamErr error
		done := make(chan struct{})
		go func() {
			defer close(done)
			resp, streamErr = r.inner.ChatStream(ctx, req, mid)
		}()

		var eventsSent bool
		for ev := range mid {
			eventsSent = true
			select {
			case ch <- ev:
			case <-ctx.Done():
			}
		}
		<-done

		if streamErr == nil || !IsTransientLLMError(streamErr) || eventsSent {
			return resp, streamErr
		}
		last = streamErr
		r.logger.Warn("transient LLM error, retrying stream",
			"provider", r.inner.Name(), "attempt", attempt+1, "of", r.maxRetries+1, "error", streamErr)
	}
	return ChatResponse{}, last
}

// sleep waits out the doubling backoff before re-attempt n (1-based).
func (r *retryProvider) sleep(ctx context.Context, attempt int) error {
	delay := r.baseDelay << (attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTransientLLMError reports whether err is worth retrying: a transport
// failure or a rate-limit / server-side HTTP status.
func IsTransientLLMError(err error) bool {
	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) {
		switch httpErr.Status {
		case 429, 500, 502, 503, 504:
			return true
		}
		return false
	}
	var llmErr *ErrLLM
	if errors.As(err, &llmErr) {
		return llmErr.Network
	}
	return false
}

var _ Provider = (*retryProvider)(nil)
