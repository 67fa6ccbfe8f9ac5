/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/chainguard-dev/clog"
)

// DefaultBaseURL is the Cloudflare v4 API root.
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

// Credentials authenticate against the Cloudflare API. Either APIToken, or
// both AccountEmail and APIKey, must be set.
type Credentials struct {
	APIToken     string
	AccountEmail string
	APIKey       string
}

var (
	ErrNoCredentials          = errors.New("either apiToken or accountEmail and apiKey must be provided")
	ErrConflictingCredentials = errors.New("apiToken cannot be combined with accountEmail or apiKey")
)

// Validate checks that exactly one form of credentials is present.
func (c Credentials) Validate() error {
	hasKey := c.AccountEmail != "" || c.APIKey != ""
	switch {
	case c.APIToken != "" && hasKey:
		return ErrConflictingCredentials
	case c.APIToken != "":
		return nil
	case c.AccountEmail != "" && c.APIKey != "":
		return nil
	case hasKey:
		return fmt.Errorf("accountEmail and apiKey must be provided together: %w", ErrNoCredentials)
	default:
		return ErrNoCredentials
	}
}

func (c Credentials) apply(h http.Header) {
	if c.APIToken != "" {
		h.Set("Authorization", "Bearer "+c.APIToken)
		return
	}
	h.Set("X-Auth-Email", c.AccountEmail)
	h.Set("X-Auth-Key", c.APIKey)
}

// Client reads deployments of a single Pages project.
type Client struct {
	baseURL   string
	accountID string
	project   string
	creds     Credentials
	client    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API root, mostly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a Client for the given account and project.
func NewClient(accountID, project string, creds Credentials, opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		accountID: accountID,
		project:   project,
		creds:     creds,
		client:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) projectURL() string {
	return fmt.Sprintf("%s/accounts/%s/pages/projects/%s", c.baseURL, url.PathEscape(c.accountID), url.PathEscape(c.project))
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.creds.apply(req.Header)
	req.Header.Set("Accept", "application/json")
	return c.client.Do(req)
}

// LatestDeployment returns the newest deployment of the project. When
// commitHash is set, it returns the newest deployment built from that commit
// instead. A nil deployment with a nil error means nothing matched yet.
func (c *Client) LatestDeployment(ctx context.Context, commitHash string) (*Deployment, error) {
	q := url.Values{}
	q.Set("sort_by", "created_on")
	q.Set("sort_order", "desc")
	u := c.projectURL() + "/deployments?" + q.Encode()

	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	defer resp.Body.Close()

	var env envelope[[]Deployment]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding deployments response (status %d): %w", resp.StatusCode, err)
	}
	if !env.Success {
		if len(env.Errors) > 0 {
			return nil, env.Errors[0]
		}
		return nil, fmt.Errorf("listing deployments: unsuccessful response with status %d", resp.StatusCode)
	}

	for i := range env.Result {
		d := &env.Result[i]
		if commitHash == "" || d.DeploymentTrigger.Metadata.CommitHash == commitHash {
			return d, nil
		}
	}
	return nil, nil
}

// DeploymentLogs returns the build log of a deployment, one line per entry.
// Any failure yields an empty string.
func (c *Client) DeploymentLogs(ctx context.Context, deploymentID string) string {
	log := clog.FromContext(ctx).With("deployment", deploymentID)

	resp, err := c.get(ctx, c.projectURL()+"/deployments/"+url.PathEscape(deploymentID)+"/history/logs")
	if err != nil {
		log.Warnf("Failed to fetch deployment logs: %v", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Warnf("Fetching deployment logs returned status %d: %s", resp.StatusCode, string(body))
		return ""
	}

	var env envelope[logsResult]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		log.Warnf("Failed to decode deployment logs: %v", err)
		return ""
	}

	lines := make([]string, 0, len(env.Result.Data))
	for _, l := range env.Result.Data {
		lines = append(lines, l.Line)
	}
	return strings.Join(lines, "\n")
}
