package httpmetrics

import (
	"context"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Job is the Pushgateway job name metrics are grouped under.
const Job = "pages_await"

// Push sends the default registry to a Prometheus Pushgateway. A one-shot
// CLI has no scrape window, so this is how its client metrics get out.
// An empty url disables it. Failures are logged, never returned.
func Push(ctx context.Context, url string, grouping map[string]string) {
	if url == "" {
		return
	}
	p := push.New(url, Job).Gatherer(prometheus.DefaultGatherer)
	for k, v := range grouping {
		if v != "" {
			p = p.Grouping(k, v)
		}
	}
	if err := p.PushContext(ctx); err != nil {
		clog.WarnContextf(ctx, "Failed to push metrics to %s: %v", url, err)
		return
	}
	clog.DebugContextf(ctx, "Pushed metrics to %s", url)
}
