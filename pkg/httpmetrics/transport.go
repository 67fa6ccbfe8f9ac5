package httpmetrics

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var (
	mReqCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_request_count",
			Help: "The total number of HTTP requests",
		},
		[]string{"code", "method", "host", "path"},
	)
	mReqInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_client_request_in_flight",
			Help: "The number of outgoing HTTP requests currently inflight",
		},
		[]string{"method", "host", "path"},
	)
	mReqDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_client_request_duration_seconds",
			Help:    "The duration of HTTP requests",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"code", "method", "host", "path"},
	)
)

// hosts maps the API hosts we call to stable label values.
var hosts = map[string]string{
	"api.cloudflare.com": "cloudflare",
	"api.github.com":     "github",
	"hooks.slack.com":    "slack",
}

// Transport is an http.RoundTripper that records metrics for each request.
var Transport = WrapTransport(http.DefaultTransport)

// WrapTransport wraps an http.RoundTripper with instrumentation.
func WrapTransport(t http.RoundTripper) http.RoundTripper {
	return instrumentRoundTripperCounter(
		instrumentRoundTripperInFlight(
			instrumentRoundTripperDuration(
				instrumentGitHubRateLimits(
					otelhttp.NewTransport(t)))))
}

func bucketize(host string) string {
	if b, ok := hosts[host]; ok {
		return b
	}
	return "other"
}

func mapErrorToLabel(err error) string {
	switch {
	case strings.Contains(err.Error(), "no route to host"):
		return "no-route-to-host"
	case strings.Contains(err.Error(), "i/o timeout"):
		return "io-timeout"
	case strings.Contains(err.Error(), "connection refused"):
		return "connection-refused"
	case strings.Contains(err.Error(), "TLS handshake timeout"):
		return "tls-handshake-timeout"
	case strings.Contains(err.Error(), "unexpected EOF"):
		return "unexpected-eof"
	case strings.Contains(err.Error(), "context deadline exceeded"):
		return "deadline-exceeded"
	}
	return "unknown-error"
}

// These instrument methods based on promhttp, with bucketized host and path labels added:
// https://pkg.go.dev/github.com/prometheus/client_golang/prometheus/promhttp

func instrumentRoundTripperCounter(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		host := bucketize(r.URL.Host)
		ctx, span := otel.Tracer("httpmetrics").Start(r.Context(), fmt.Sprintf("http-%s-%s", r.Method, host))
		// Ensure that outgoing requests are nested under this span.
		r = r.WithContext(ctx)
		defer span.End()

		resp, err := next.RoundTrip(r)
		code := ""
		if err == nil {
			code = strconv.Itoa(resp.StatusCode)
		} else {
			code = mapErrorToLabel(err)
		}
		mReqCount.With(prometheus.Labels{
			"code":   code,
			"method": r.Method,
			"host":   host,
			"path":   bucketizePath(r.URL.Path),
		}).Inc()
		return resp, err
	}
}

func instrumentRoundTripperInFlight(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		g := mReqInFlight.With(prometheus.Labels{
			"method": r.Method,
			"host":   bucketize(r.URL.Host),
			"path":   bucketizePath(r.URL.Path),
		})
		g.Inc()
		defer g.Dec()
		return next.RoundTrip(r)
	}
}

func instrumentRoundTripperDuration(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(r)
		if err == nil {
			mReqDuration.With(prometheus.Labels{
				"code":   strconv.Itoa(resp.StatusCode),
				"method": r.Method,
				"host":   bucketize(r.URL.Host),
				"path":   bucketizePath(r.URL.Path),
			}).Observe(time.Since(start).Seconds())
		}
		return resp, err
	}
}

var (
	mGitHubRateLimitRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit_remaining",
			Help: "The number of requests remaining in the current rate limit window",
		},
		[]string{"resource"},
	)
	mGitHubRateLimit = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit",
			Help: "The number of requests allowed during the rate limit window",
		},
		[]string{"resource"},
	)
	mGitHubRateLimitReset = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit_reset",
			Help: "The timestamp at which the current rate limit window resets",
		},
		[]string{"resource"},
	)
)

// instrumentGitHubRateLimits records the X-RateLimit-* headers GitHub sends
// with every response. Cloudflare does not send them, so other hosts are
// left alone.
// See https://docs.github.com/en/rest/using-the-rest-api/rate-limits-for-the-rest-api?apiVersion=2022-11-28
func instrumentGitHubRateLimits(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		resp, err := next.RoundTrip(r)
		if err != nil {
			return resp, err
		}
		if resp.Header.Get("X-RateLimit-Limit") == "" {
			return resp, nil
		}
		resource := resp.Header.Get("X-RateLimit-Resource")
		if resource == "" {
			resource = "unknown"
		}
		val := func(key string) float64 {
			i, err := strconv.Atoi(resp.Header.Get(key))
			if err != nil {
				return 0
			}
			return float64(i)
		}
		labels := prometheus.Labels{"resource": resource}
		mGitHubRateLimitRemaining.With(labels).Set(val("X-RateLimit-Remaining"))
		mGitHubRateLimit.With(labels).Set(val("X-RateLimit-Limit"))
		mGitHubRateLimitReset.With(labels).Set(val("X-RateLimit-Reset"))
		return resp, nil
	}
}
