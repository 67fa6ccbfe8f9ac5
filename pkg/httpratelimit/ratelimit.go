/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package httpratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Rate limit header names. GitHub sends the X-Ratelimit-* family on every
// response, Cloudflare only sends Retry-After with a 429.
// NOTE: Use the Go canonical form (capitals) for these headers, even though they are lowercase in the docs.
const (
	// HeaderRetryAfter indicates how many seconds to wait before retrying
	HeaderRetryAfter = "Retry-After"
	// HeaderXRateLimitReset is the time at which the current rate limit window resets, in UTC epoch seconds
	HeaderXRateLimitReset = "X-Ratelimit-Reset"
	// HeaderXRateLimitRemaining is the number of requests remaining in the current rate limit window
	HeaderXRateLimitRemaining = "X-Ratelimit-Remaining"
)

const defaultMaxRetries = 3

// Transport wraps an http.RoundTripper, pausing all requests after a rate
// limited response and retrying the limited request once the pause is over.
type Transport struct {
	base              http.RoundTripper
	limiter           *limiter
	clock             clockwork.Clock
	defaultRetryAfter time.Duration
	maxRetries        int
}

// Option configures a Transport.
type Option func(*Transport)

// WithClock replaces the clock used for pauses.
func WithClock(c clockwork.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

// WithDefaultRetryAfter sets the pause used when a limited response carries
// no usable headers.
func WithDefaultRetryAfter(d time.Duration) Option {
	return func(t *Transport) { t.defaultRetryAfter = d }
}

// WithMaxRetries bounds how often a single request is retried.
func WithMaxRetries(n int) Option {
	return func(t *Transport) { t.maxRetries = n }
}

// NewTransport creates a new rate limiting transport wrapper.
func NewTransport(base http.RoundTripper, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{
		base:              base,
		limiter:           &limiter{base: rate.NewLimiter(rate.Inf, 100)},
		clock:             clockwork.NewRealClock(),
		defaultRetryAfter: time.Minute,
		maxRetries:        defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.limiter.clock = t.clock
	return t
}

// RoundTrip implements http.RoundTripper and adds rate limiting logic.
func (rt *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; ; attempt++ {
		if err := rt.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := rt.base.RoundTrip(req)
		if err != nil {
			return resp, err
		}

		pause, limited := rt.pauseFor(ctx, req, resp)
		if !limited || attempt >= rt.maxRetries {
			return resp, nil
		}
		next, err := rewind(req)
		if err != nil {
			clog.FromContext(ctx).Warnf("Not retrying rate limited request: %v", err)
			return resp, nil
		}
		// The limited response is dropped in favor of the retry.
		if resp.Body != nil {
			resp.Body.Close()
		}
		rt.limiter.PauseFor(pause)
		req = next
	}
}

func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, fmt.Errorf("request body of %s %s cannot be replayed", req.Method, req.URL)
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("replaying request body: %w", err)
	}
	next := req.Clone(req.Context())
	next.Body = body
	return next, nil
}

// pauseFor checks if the response indicates rate limiting and how long
// requests should be held back.
//
// GitHub rate limit documentation:
// https://docs.github.com/en/rest/using-the-rest-api/rate-limits-for-the-rest-api#exceeding-the-rate-limit
// Cloudflare: https://developers.cloudflare.com/fundamentals/api/reference/limits/
func (rt *Transport) pauseFor(ctx context.Context, req *http.Request, resp *http.Response) (time.Duration, bool) {
	log := clog.FromContext(ctx).With("host", req.URL.Host)

	var (
		retryAfter    time.Duration
		reset         time.Time
		remaining     = -1
		hasRetryAfter bool
	)

	if v := resp.Header.Get(HeaderRetryAfter); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			log.Warnf("Failed to parse retry-after header: %v", err)
		} else {
			retryAfter = time.Duration(seconds) * time.Second
			hasRetryAfter = true
		}
	}

	if v := resp.Header.Get(HeaderXRateLimitRemaining); v != "" {
		r, err := strconv.Atoi(v)
		if err != nil {
			log.Warnf("Failed to parse x-ratelimit-remaining header: %v", err)
		} else {
			remaining = r
		}
	}

	if v := resp.Header.Get(HeaderXRateLimitReset); v != "" {
		seconds, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			log.Warnf("Failed to parse x-ratelimit-reset header: %v", err)
		} else {
			reset = time.Unix(seconds, 0)
		}
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
	case http.StatusForbidden:
		// A 403 is only a rate limit when the headers say so, otherwise it's
		// a permission problem that retrying won't fix.
		if !hasRetryAfter && remaining != 0 {
			return 0, false
		}
	default:
		return 0, false
	}

	if retryAfter > 0 {
		log.With("retry_after", retryAfter).Warn("Rate limit hit, pausing requests")
		return retryAfter, true
	}

	if remaining == 0 && !reset.IsZero() {
		if d := reset.Sub(rt.clock.Now()); d > 0 {
			log.With("reset_at", reset, "retry_after", d).Warn("Rate limit exhausted, pausing until reset")
			return d, true
		}
	}

	log.With("retry_after", rt.defaultRetryAfter).Warn("Rate limit hit (no headers), using default pause")
	return rt.defaultRetryAfter, true
}

// limiter provides a pausable rate limiter that can temporarily block all requests.
type limiter struct {
	base  *rate.Limiter
	clock clockwork.Clock

	mu         sync.Mutex
	pauseUntil time.Time
}

// Wait blocks until the limiter allows a request to proceed.
// It respects both the underlying rate limiter and any active pause.
func (l *limiter) Wait(ctx context.Context) error {
	for {
		l.mu.Lock()
		d := l.pauseUntil.Sub(l.clock.Now())
		l.mu.Unlock()
		if d <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(d):
		}
	}
	return l.base.Wait(ctx)
}

// PauseFor pauses all requests for the specified duration.
// If already paused, extends the pause only if the new duration is longer.
func (l *limiter) PauseFor(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := l.clock.Now().Add(d); until.After(l.pauseUntil) {
		l.pauseUntil = until
	}
}
