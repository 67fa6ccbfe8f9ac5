package httpmetrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"
)

const deploymentsPath = "/client/v4/accounts/acct/pages/projects/site/deployments"

func TestTransport(t *testing.T) {
	var mux sync.Mutex
	requestSeen := make(chan struct{})
	s := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		close(requestSeen)
		mux.Lock()
		defer mux.Unlock()
		t.Log("got request")
	}))
	defer s.Close()

	// Cause the request to "hang" for a bit to ensure we can observe in-flight metrics.
	mux.Lock()

	grp := errgroup.Group{}
	grp.Go(func() error {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, s.URL+deploymentsPath, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		resp, err := (&http.Client{Transport: Transport}).Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("want OK, got %s", resp.Status)
		}
		return nil
	})

	<-requestSeen
	bucket := "/accounts/{account}/pages/projects/{project}/deployments"
	if got := testutil.ToFloat64(mReqInFlight.With(prometheus.Labels{
		"method": http.MethodGet,
		"host":   "other",
		"path":   bucket,
	})); got != 1 {
		t.Errorf("want metric in-flight = 1, got %f", got)
	}

	mux.Unlock()
	if err := grp.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(mReqInFlight.With(prometheus.Labels{
		"method": http.MethodGet,
		"host":   "other",
		"path":   bucket,
	})); got != 0 {
		t.Errorf("want metric in-flight = 0, got %f", got)
	}
	if got := testutil.ToFloat64(mReqCount.With(prometheus.Labels{
		"code":   "200",
		"method": http.MethodGet,
		"host":   "other",
		"path":   bucket,
	})); got != 1 {
		t.Errorf("want metric count = 1, got %f", got)
	}
	if got := testutil.CollectAndCount(mReqDuration); got < 1 {
		t.Errorf("want at least one duration series, got %d", got)
	}
}

func TestTransport_ConnectionRefused(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	url := s.URL + "/services/T000/B000/XXXX"
	s.Close()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := (&http.Client{Transport: Transport}).Do(req); err == nil {
		t.Fatal("expected an error from a closed server")
	}
	if got := testutil.ToFloat64(mReqCount.With(prometheus.Labels{
		"code":   "connection-refused",
		"method": http.MethodPost,
		"host":   "other",
		"path":   "/services/{webhook}",
	})); got != 1 {
		t.Errorf("want metric count = 1, got %f", got)
	}
}

func TestTransport_GitHubRateLimits(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4321")
		w.Header().Set("X-RateLimit-Reset", "1700000000")
		w.Header().Set("X-RateLimit-Resource", "core")
		w.WriteHeader(http.StatusCreated)
	}))
	defer s.Close()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, s.URL+"/repos/o/r/deployments", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := (&http.Client{Transport: Transport}).Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	labels := prometheus.Labels{"resource": "core"}
	for name, tc := range map[string]struct {
		g    *prometheus.GaugeVec
		want float64
	}{
		"remaining": {mGitHubRateLimitRemaining, 4321},
		"limit":     {mGitHubRateLimit, 5000},
		"reset":     {mGitHubRateLimitReset, 1700000000},
	} {
		if got := testutil.ToFloat64(tc.g.With(labels)); got != tc.want {
			t.Errorf("%s = %f, want %f", name, got, tc.want)
		}
	}
}

func TestBucketizePath(t *testing.T) {
	for _, tc := range []struct {
		path string
		want string
	}{
		{"/client/v4/accounts/abc/pages/projects/site/deployments", "/accounts/{account}/pages/projects/{project}/deployments"},
		{"/accounts/abc/pages/projects/site/deployments/", "/accounts/{account}/pages/projects/{project}/deployments"},
		{"/client/v4/accounts/abc/pages/projects/site/deployments/d-1/history/logs", "/accounts/{account}/pages/projects/{project}/deployments/{id}/history/logs"},
		{"/repos/chainguard-dev/site/deployments", "/repos/{org}/{repo}/deployments"},
		{"/api/v3/repos/chainguard-dev/site/deployments/42/statuses", "/repos/{org}/{repo}/deployments/{id}/statuses"},
		{"/app/installations/123/access_tokens", "/app/installations/{id}/access_tokens"},
		{"/services/T000/B000/XXXX", "/services/{webhook}"},
		{"/repos/chainguard-dev/site/pulls", "other"},
		{"", "other"},
	} {
		t.Run(tc.path, func(t *testing.T) {
			if got := bucketizePath(tc.path); got != tc.want {
				t.Errorf("bucketizePath(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}

func TestBucketizeHost(t *testing.T) {
	for host, want := range map[string]string{
		"api.cloudflare.com": "cloudflare",
		"api.github.com":     "github",
		"hooks.slack.com":    "slack",
		"127.0.0.1:8080":     "other",
	} {
		if got := bucketize(host); got != want {
			t.Errorf("bucketize(%q) = %q, want %q", host, got, want)
		}
	}
}
