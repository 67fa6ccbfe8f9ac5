/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-githubactions"

	"github.com/chainguard-dev/pages-await/internal/config"
	"github.com/chainguard-dev/pages-await/internal/watch"
	"github.com/chainguard-dev/pages-await/pkg/ghdeploy"
	"github.com/chainguard-dev/pages-await/pkg/httpmetrics"
	"github.com/chainguard-dev/pages-await/pkg/httpratelimit"
	"github.com/chainguard-dev/pages-await/pkg/pages"
	"github.com/chainguard-dev/pages-await/pkg/slack"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	action := githubactions.New()

	err := run(ctx, action)
	cancel()
	if err != nil {
		var dfe *watch.DeploymentFailedError
		if !errors.As(err, &dfe) {
			err = fmt.Errorf("awaiting deployment: %w", err)
		}
		action.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, action *githubactions.Action) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	level, _ := cfg.Level()
	slog.SetLogLoggerLevel(level)
	log := clog.New(slog.Default().Handler()).With("project", cfg.Project)
	ctx = clog.WithLogger(ctx, log)

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	if cfg.OTLPEndpoint != "" {
		shutdown, err := httpmetrics.SetupTracer(ctx)
		if err != nil {
			log.Warnf("Not exporting traces: %v", err)
		} else {
			defer shutdown()
		}
	}

	// GitHub and Slack calls wait out rate limits. Cloudflare polls do not,
	// see newPagesClient.
	transport := httpratelimit.NewTransport(httpmetrics.Transport)
	hc := &http.Client{Transport: transport}

	opts := []watch.Option{
		watch.WithInterval(cfg.PollInterval),
		watch.WithCommitHash(cfg.CommitHash),
		watch.WithOutputs(action),
		watch.WithInfo(watch.Info{
			Project:    cfg.Project,
			AccountID:  cfg.AccountID,
			Repository: cfg.Repository,
			ServerURL:  cfg.ServerURL,
			Actor:      cfg.Actor,
			SHA:        cfg.SHA,
		}),
	}

	gh, err := ghdeploy.NewClient(ctx, cfg.GitHubCredentials(), cfg.APIURL, transport)
	if err != nil {
		return fmt.Errorf("creating GitHub client: %w", err)
	}
	if gh != nil {
		owner, repo, err := cfg.RepositoryParts()
		if err != nil {
			return err
		}
		ref := cfg.SHA
		if ghctx, err := action.Context(); err != nil {
			log.Warnf("Failed to read the workflow context, using GITHUB_SHA: %v", err)
		} else {
			ref = config.HeadSHA(ghctx.Event, cfg.SHA)
		}
		log.Infof("Reporting GitHub deployments on %s/%s@%s", owner, repo, ref)
		opts = append(opts, watch.WithReflector(ghdeploy.NewReflector(gh, owner, repo, ref, cfg.AccountID)))
	} else {
		log.Info("No GitHub credentials, not reporting GitHub deployments")
	}

	if cfg.SlackWebhook != "" {
		opts = append(opts, watch.WithNotifier(slack.NewNotifier(cfg.SlackWebhook,
			slack.WithHTTPClient(hc),
			slack.WithChannel(cfg.SlackChannel))))
	}

	w := watch.New(newPagesClient(cfg), opts...)
	res, err := w.Run(ctx)
	// Notifications may still be in flight.
	w.Wait()
	httpmetrics.Push(context.WithoutCancel(ctx), cfg.PushgatewayURL, map[string]string{"project": cfg.Project})
	if err != nil {
		return err
	}

	if res.Skipped {
		log.Info("Deployment was skipped")
		return nil
	}
	log.With("id", res.Deployment.ID, "url", res.Deployment.URL, "alias", res.Alias).Infof("Deployment finished, success=%t", res.Success)
	return nil
}

// newPagesClient builds the Cloudflare client on the metrics transport only.
// A failed poll, including a rate-limited one, ends the run with the API's
// error instead of being retried.
func newPagesClient(cfg *config.Config) *pages.Client {
	return pages.NewClient(cfg.AccountID, cfg.Project, cfg.PagesCredentials(),
		pages.WithBaseURL(cfg.CloudflareAPIURL),
		pages.WithHTTPClient(&http.Client{Transport: httpmetrics.Transport}))
}
