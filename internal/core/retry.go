package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"gridprompt/internal/metrics"
	"gridprompt/internal/provider"
)

// maxResponseBody caps how much of an upstream reply is read.
const maxResponseBody = 8 * 1024 * 1024

// callWithRetry drives one provider call through up to budget+1 attempts.
// Rate limiting and transient upstream failures (429, 5xx) and network
// timeouts are retried with full-jitter exponential backoff; everything
// else is terminal and returned as-is. A per-attempt timeout bounds each
// try independently of the retry budget. Returns the parsed result and the
// number of retries actually performed.
func (c *Core) callWithRetry(
	ctx context.Context,
	ad provider.Adapter,
	req *provider.Request,
	budget int,
	attemptTimeout time.Duration,
) (*provider.Result, int, error) {
	body, err := ad.BuildBody(req)
	if err != nil {
		return nil, 0, provider.NewError(provider.ErrInvalidRequest, "build request body").
			WithCause(err).
			WithProvider(string(ad.Name()))
	}

	var lastErr error
	maxAttempts := budget + 1

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt, timeoutOrCancel(err, ad.Name())
		}

		start := time.Now()
		res, attemptErr := c.callOnce(ctx, ad, req.Model, body, attemptTimeout)
		duration := time.Since(start)

		c.logger.Debug("provider attempt",
			zap.String("provider", string(ad.Name())),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("duration", duration),
			zap.Error(attemptErr),
		)

		if attemptErr == nil {
			return res, attempt, nil
		}

		// Parent context gone: stop now, regardless of classification.
		if ctx.Err() != nil {
			return nil, attempt, timeoutOrCancel(ctx.Err(), ad.Name())
		}

		if !provider.IsRetryable(attemptErr) {
			return nil, attempt, attemptErr
		}
		lastErr = attemptErr

		if attempt == maxAttempts-1 {
			break
		}

		wait := computeBackoff(c.cfg.BaseBackoff, attempt)
		var perr *provider.Error
		if errors.As(attemptErr, &perr) && perr.RetryAfter > 0 {
			wait = perr.RetryAfter
			c.logger.Info("honoring Retry-After header",
				zap.Duration("wait", wait),
				zap.Int("status", perr.HTTPStatus),
			)
		}

		select {
		case <-ctx.Done():
			return nil, attempt, timeoutOrCancel(ctx.Err(), ad.Name())
		case <-time.After(wait):
		}
	}

	c.logger.Warn("provider call exhausted all retries",
		zap.String("provider", string(ad.Name())),
		zap.Int("attempts", maxAttempts),
		zap.Error(lastErr),
	)
	return nil, maxAttempts - 1, lastErr
}

// callOnce performs a single HTTP attempt under its own timeout and maps
// the reply through the adapter.
func (c *Core) callOnce(
	parentCtx context.Context,
	ad provider.Adapter,
	model string,
	body []byte,
	attemptTimeout time.Duration,
) (*provider.Result, error) {
	pcfg := c.cfg.Providers[ad.Name()]

	ctx := parentCtx
	if attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parentCtx, attemptTimeout)
		defer cancel()
	}

	url := ad.Endpoint(pcfg.BaseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, provider.NewError(provider.ErrInvalidRequest, "build HTTP request").
			WithCause(err).
			WithProvider(string(ad.Name()))
	}
	ad.SetHeaders(httpReq.Header, pcfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.ProviderAttemptsTotal.WithLabelValues(string(ad.Name()), "0").Inc()
		// An expired attempt context is a timeout failure only when the
		// parent is still live; a dead parent is the caller cancelling.
		if ctx.Err() != nil && parentCtx.Err() == nil {
			return nil, provider.NewError(provider.ErrTimeout, "attempt timed out").
				WithCause(err).
				WithRetryable(true).
				WithProvider(string(ad.Name()))
		}
		if parentCtx.Err() != nil {
			return nil, timeoutOrCancel(parentCtx.Err(), ad.Name())
		}
		return nil, provider.NewError(provider.ErrUpstream, "network error").
			WithCause(err).
			WithRetryable(isTransientNetError(err)).
			WithProvider(string(ad.Name()))
	}
	defer resp.Body.Close()

	metrics.ProviderAttemptsTotal.
		WithLabelValues(string(ad.Name()), strconv.Itoa(resp.StatusCode)).Inc()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, provider.NewError(provider.ErrUpstream, "read upstream response").
			WithCause(err).
			WithRetryable(true).
			WithProvider(string(ad.Name()))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		perr := ad.ParseError(resp.StatusCode, respBody)
		perr.RetryAfter = parseRetryAfter(resp)
		return nil, perr
	}

	return ad.ParseResponse(respBody)
}

// timeoutOrCancel maps a context error to the typed taxonomy.
func timeoutOrCancel(err error, vendor provider.Name) error {
	code := provider.ErrTimeout
	msg := "request timed out"
	if errors.Is(err, context.Canceled) {
		msg = "request cancelled"
	}
	return provider.NewError(code, msg).
		WithCause(err).
		WithProvider(string(vendor))
}

// isTransientNetError determines whether a network error is worth retrying.
func isTransientNetError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTimeout || dnsErr.IsTemporary
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" || opErr.Op == "read" || opErr.Op == "write" {
			return true
		}
	}

	// Wrapped errors sometimes hide the concrete type.
	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"temporary failure",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// parseRetryAfter extracts the retry delay from a Retry-After header.
// Returns 0 if the header is missing or invalid. Accepts both the
// seconds-count and HTTP-date forms, capped at 5 minutes.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}

	const maxRetryAfter = 5 * time.Minute

	if seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil {
		if seconds <= 0 {
			return 0
		}
		d := time.Duration(seconds) * time.Second
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		d := time.Until(t)
		if d <= 0 {
			return 0
		}
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d
	}

	return 0
}

// computeBackoff calculates exponential backoff with full jitter: a random
// wait between 0 and base * 2^attempt, capped so retries never stall for
// more than a minute.
func computeBackoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	const maxExponent = 10
	if attempt > maxExponent {
		attempt = maxExponent
	}

	maxBackoff := time.Duration(float64(base) * math.Pow(2, float64(attempt)))

	const maxAllowed = 60 * time.Second
	if maxBackoff > maxAllowed {
		maxBackoff = maxAllowed
	}

	return time.Duration(rand.Float64() * float64(maxBackoff))
}
