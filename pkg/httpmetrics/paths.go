// Copyright 2025 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpmetrics

import (
	"regexp"
	"strings"
)

type pathPattern struct {
	pattern *regexp.Regexp
	bucket  string
}

// Endpoints this tool talks to. Anything else is reported as "other" so the
// path label stays low-cardinality.
var apiPatterns = []pathPattern{{
	// https://developers.cloudflare.com/api/resources/pages/subresources/projects/subresources/deployments/methods/list/
	pattern: regexp.MustCompile(`^(/client/v4)?/accounts/[^/]+/pages/projects/[^/]+/deployments$`),
	bucket:  "/accounts/{account}/pages/projects/{project}/deployments",
}, {
	// https://developers.cloudflare.com/api/resources/pages/subresources/projects/subresources/deployments/subresources/history/subresources/logs/methods/get/
	pattern: regexp.MustCompile(`^(/client/v4)?/accounts/[^/]+/pages/projects/[^/]+/deployments/[^/]+/history/logs$`),
	bucket:  "/accounts/{account}/pages/projects/{project}/deployments/{id}/history/logs",
}, {
	// https://docs.github.com/en/rest/deployments/deployments#create-a-deployment
	pattern: regexp.MustCompile(`^(/api/v3)?/repos/[^/]+/[^/]+/deployments$`),
	bucket:  "/repos/{org}/{repo}/deployments",
}, {
	// https://docs.github.com/en/rest/deployments/statuses#create-a-deployment-status
	pattern: regexp.MustCompile(`^(/api/v3)?/repos/[^/]+/[^/]+/deployments/\d+/statuses$`),
	bucket:  "/repos/{org}/{repo}/deployments/{id}/statuses",
}, {
	// https://docs.github.com/en/rest/apps/apps#create-an-installation-access-token-for-an-app
	pattern: regexp.MustCompile(`^(/api/v3)?/app/installations/\d+/access_tokens$`),
	bucket:  "/app/installations/{id}/access_tokens",
}, {
	// https://api.slack.com/messaging/webhooks
	pattern: regexp.MustCompile(`^/services/[^/]+/[^/]+/[^/]+$`),
	bucket:  "/services/{webhook}",
}}

func bucketizePath(path string) string {
	path = strings.TrimSuffix(path, "/")
	for _, p := range apiPatterns {
		if p.pattern.MatchString(path) {
			return p.bucket
		}
	}
	return "other"
}
