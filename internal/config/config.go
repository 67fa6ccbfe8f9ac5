/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package config reads the action inputs and GitHub Actions environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chainguard-dev/pages-await/pkg/ghdeploy"
	"github.com/chainguard-dev/pages-await/pkg/pages"
	"github.com/sethvargo/go-envconfig"
)

// Config holds the action configuration. Action inputs arrive as INPUT_*
// variables, the rest is set by the GitHub Actions runner or the operator.
type Config struct {
	// Cloudflare credentials. Either APIToken, or AccountEmail and APIKey.
	AccountEmail string `env:"INPUT_ACCOUNTEMAIL"`
	APIKey       string `env:"INPUT_APIKEY"`
	APIToken     string `env:"INPUT_APITOKEN"`

	AccountID    string `env:"INPUT_ACCOUNTID,required"`
	Project      string `env:"INPUT_PROJECT,required"`
	GitHubToken  string `env:"INPUT_GITHUBTOKEN"`
	CommitHash   string `env:"INPUT_COMMITHASH"`
	SlackWebhook string `env:"INPUT_SLACKWEBHOOK"`
	SlackChannel string `env:"SLACK_CHANNEL"`

	// Set by the runner.
	Repository string `env:"GITHUB_REPOSITORY"`
	SHA        string `env:"GITHUB_SHA"`
	Actor      string `env:"GITHUB_ACTOR"`
	ServerURL  string `env:"GITHUB_SERVER_URL,default=https://github.com"`
	APIURL     string `env:"GITHUB_API_URL,default=https://api.github.com"`

	// GitHub App credentials, used instead of a token when set.
	GitHubAppID             int64  `env:"GITHUB_APP_ID"`
	GitHubAppInstallationID int64  `env:"GITHUB_APP_INSTALLATION_ID"`
	GitHubAppPrivateKey     string `env:"GITHUB_APP_PRIVATE_KEY"`
	GitHubAppPrivateKeyPath string `env:"GITHUB_APP_PRIVATE_KEY_PATH"`

	PollInterval     time.Duration `env:"POLL_INTERVAL,default=5s"`
	Timeout          time.Duration `env:"TIMEOUT"`
	CloudflareAPIURL string        `env:"CLOUDFLARE_API_URL,default=https://api.cloudflare.com/client/v4"`
	LogLevel         string        `env:"LOG_LEVEL,default=info"`
	PushgatewayURL   string        `env:"PUSHGATEWAY_URL"`

	// Spans are exported over OTLP/HTTP when set.
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads the configuration from the process environment and validates it.
func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith is Load with an explicit source of variables.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("processing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if err := c.PagesCredentials().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be positive, got %v", c.PollInterval))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("TIMEOUT must not be negative, got %v", c.Timeout))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	app := c.GitHubAppID != 0 || c.GitHubAppInstallationID != 0 || c.GitHubAppPrivateKey != "" || c.GitHubAppPrivateKeyPath != ""
	if app {
		if c.GitHubToken != "" {
			errs = append(errs, errors.New("githubToken cannot be combined with GitHub App credentials"))
		}
		if c.GitHubAppID == 0 || c.GitHubAppInstallationID == 0 {
			errs = append(errs, errors.New("GITHUB_APP_ID and GITHUB_APP_INSTALLATION_ID must both be set"))
		}
		switch {
		case c.GitHubAppPrivateKey == "" && c.GitHubAppPrivateKeyPath == "":
			errs = append(errs, errors.New("one of GITHUB_APP_PRIVATE_KEY or GITHUB_APP_PRIVATE_KEY_PATH must be set"))
		case c.GitHubAppPrivateKey != "" && c.GitHubAppPrivateKeyPath != "":
			errs = append(errs, errors.New("GITHUB_APP_PRIVATE_KEY and GITHUB_APP_PRIVATE_KEY_PATH are mutually exclusive"))
		}
	}
	if c.GitHubToken != "" || app {
		if _, _, err := c.RepositoryParts(); err != nil {
			errs = append(errs, err)
		}
		if c.SHA == "" {
			errs = append(errs, errors.New("GITHUB_SHA is required to report GitHub deployments"))
		}
	}
	return errors.Join(errs...)
}

// PagesCredentials returns the Cloudflare credentials.
func (c *Config) PagesCredentials() pages.Credentials {
	return pages.Credentials{
		APIToken:     c.APIToken,
		AccountEmail: c.AccountEmail,
		APIKey:       c.APIKey,
	}
}

// GitHubCredentials returns the GitHub credentials. They are empty when
// GitHub deployments should not be reported.
func (c *Config) GitHubCredentials() ghdeploy.Credentials {
	key := c.GitHubAppPrivateKey
	if c.GitHubAppPrivateKeyPath != "" {
		key = "file://" + c.GitHubAppPrivateKeyPath
	}
	return ghdeploy.Credentials{
		Token:          c.GitHubToken,
		AppID:          c.GitHubAppID,
		InstallationID: c.GitHubAppInstallationID,
		PrivateKey:     key,
	}
}

// RepositoryParts splits GITHUB_REPOSITORY into owner and name.
func (c *Config) RepositoryParts() (string, string, error) {
	owner, repo, ok := strings.Cut(c.Repository, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("GITHUB_REPOSITORY must be owner/repo, got %q", c.Repository)
	}
	return owner, repo, nil
}

// Level parses LOG_LEVEL.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return l, nil
}

// HeadSHA returns the head commit of the pull request in a workflow event
// payload. GITHUB_SHA is a merge commit for pull_request events, so
// deployments are reported against the head instead. Other events fall
// back to fallback.
func HeadSHA(event map[string]any, fallback string) string {
	pr, ok := event["pull_request"].(map[string]any)
	if !ok {
		return fallback
	}
	head, ok := pr["head"].(map[string]any)
	if !ok {
		return fallback
	}
	if sha, ok := head["sha"].(string); ok && sha != "" {
		return sha
	}
	return fallback
}
