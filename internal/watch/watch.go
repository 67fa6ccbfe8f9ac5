/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package watch follows a Cloudflare Pages deployment until it reaches a
// terminal stage, reflecting its progress into GitHub and Slack on the way.
package watch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/chainguard-dev/pages-await/pkg/ghdeploy"
	"github.com/chainguard-dev/pages-await/pkg/pages"
	"github.com/chainguard-dev/pages-await/pkg/slack/slacktemplate"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// DefaultInterval is how long the watcher sleeps before each poll.
const DefaultInterval = 5 * time.Second

// Output names published by the watcher.
const (
	OutputMessage     = "message"
	OutputID          = "id"
	OutputEnvironment = "environment"
	OutputURL         = "url"
	OutputAlias       = "alias"
	OutputSuccess     = "success"
)

// Poller reads deployments from the Pages API.
type Poller interface {
	LatestDeployment(ctx context.Context, commitHash string) (*pages.Deployment, error)
	DeploymentLogs(ctx context.Context, deploymentID string) string
}

// Reflector mirrors deployment progress somewhere else, e.g. GitHub.
type Reflector interface {
	Update(ctx context.Context, d *pages.Deployment, state ghdeploy.State) error
}

// Notifier sends a pre-formatted chat message.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// Outputs receives the step outputs of a run.
type Outputs interface {
	SetOutput(key, value string)
}

// Info describes where the deployment came from, for notifications.
type Info struct {
	Project    string
	AccountID  string
	Repository string
	ServerURL  string
	Actor      string
	SHA        string
}

// Watcher polls a single Pages deployment and tracks its stages.
type Watcher struct {
	poller     Poller
	reflector  Reflector
	notifier   Notifier
	outputs    Outputs
	clock      clockwork.Clock
	interval   time.Duration
	commitHash string
	info       Info

	state RunState
	tasks errgroup.Group
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) { w.interval = d }
}

// WithCommitHash restricts the watch to deployments of a single commit.
func WithCommitHash(sha string) Option {
	return func(w *Watcher) { w.commitHash = sha }
}

// WithClock replaces the clock used between polls.
func WithClock(c clockwork.Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// WithReflector reports stage changes through r.
func WithReflector(r Reflector) Option {
	return func(w *Watcher) { w.reflector = r }
}

// WithNotifier sends success and failure messages through n.
func WithNotifier(n Notifier) Option {
	return func(w *Watcher) { w.notifier = n }
}

// WithOutputs publishes the run's outputs to o.
func WithOutputs(o Outputs) Option {
	return func(w *Watcher) { w.outputs = o }
}

// WithInfo sets the context used to build notification messages.
func WithInfo(i Info) Option {
	return func(w *Watcher) { w.info = i }
}

// New creates a Watcher polling p.
func New(p Poller, opts ...Option) *Watcher {
	w := &Watcher{
		poller:   p,
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// State returns a copy of the current run state.
func (w *Watcher) State() RunState {
	return w.state
}

// Run polls until the deployment is skipped, fails, or finishes its deploy
// stage. There is no bound on the number of polls; cancel ctx to give up.
// A failed stage is reported as a *DeploymentFailedError.
func (w *Watcher) Run(ctx context.Context) (*Result, error) {
	log := clog.FromContext(ctx).With("project", w.info.Project)
	if w.commitHash != "" {
		log = log.With("commit", w.commitHash)
	}
	ctx = clog.WithLogger(ctx, log)

	w.state = RunState{Waiting: true}
	for w.state.Waiting {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-w.clock.After(w.interval):
		}

		d, err := w.poller.LatestDeployment(ctx, w.commitHash)
		if err != nil {
			return nil, fmt.Errorf("polling deployments: %w", err)
		}
		res, err := w.observe(ctx, d)
		if err != nil || !w.state.Waiting {
			return res, err
		}
	}
	return nil, nil
}

// Wait blocks until every notification started by Run has been sent or
// has failed.
func (w *Watcher) Wait() {
	_ = w.tasks.Wait()
}

// observe applies one poll result to the run state. The order of the checks
// matters: a "deploy" stage with status "failed" must take the failure path.
func (w *Watcher) observe(ctx context.Context, d *pages.Deployment) (*Result, error) {
	log := clog.FromContext(ctx)
	if d == nil {
		log.Info("Waiting for the deployment to start")
		return nil, nil
	}
	log = log.With("deployment", d.ID, "stage", d.LatestStage.Name, "status", d.LatestStage.Status)

	if d.IsSkipped {
		w.state.Waiting = false
		log.Info("Deployment was skipped")
		w.setOutput(OutputMessage, "Deployment skipped.")
		return &Result{Skipped: true, Deployment: d}, nil
	}

	if d.LatestStage.Name != w.state.LastStage {
		log.Infof("Stage changed from %q", w.state.LastStage)
		w.state.LastStage = d.LatestStage.Name
		if !w.state.MarkedInProgress {
			w.state.MarkedInProgress = true
			if err := w.reflect(ctx, d, ghdeploy.StateInProgress); err != nil {
				return nil, err
			}
		}
	}

	if d.LatestStage.Failed() {
		w.state.Waiting = false
		log.Warn("Deployment failed")
		if err := w.reflect(ctx, d, ghdeploy.StateFailure); err != nil {
			return nil, err
		}
		w.notifyFailure(ctx, d)
		return nil, &DeploymentFailedError{Stage: d.LatestStage.Name}
	}

	if d.LatestStage.DeployFinished() {
		w.state.Waiting = false
		res := &Result{
			Deployment: d,
			Alias:      d.AliasURL(),
			Success:    d.LatestStage.Status == pages.StatusSuccess,
		}
		log.With("alias", res.Alias, "success", res.Success).Info("Deploy stage finished")

		w.setOutput(OutputID, d.ID)
		w.setOutput(OutputEnvironment, d.Environment)
		w.setOutput(OutputURL, d.URL)
		w.setOutput(OutputAlias, res.Alias)
		w.setOutput(OutputSuccess, strconv.FormatBool(res.Success))

		state := ghdeploy.StateFailure
		if res.Success {
			w.notifySuccess(ctx, d, res.Alias)
			state = ghdeploy.StateSuccess
		}
		if err := w.reflect(ctx, d, state); err != nil {
			return nil, err
		}
		return res, nil
	}

	log.Debug("Deployment in progress")
	return nil, nil
}

func (w *Watcher) reflect(ctx context.Context, d *pages.Deployment, state ghdeploy.State) error {
	if w.reflector == nil {
		return nil
	}
	if err := w.reflector.Update(ctx, d, state); err != nil {
		return fmt.Errorf("reflecting %s: %w", state, err)
	}
	return nil
}

func (w *Watcher) setOutput(key, value string) {
	if w.outputs != nil {
		w.outputs.SetOutput(key, value)
	}
}

func (w *Watcher) notifySuccess(ctx context.Context, d *pages.Deployment, alias string) {
	w.notify(ctx, "success", func(ctx context.Context) (string, error) {
		m := w.message(d)
		m.URL = d.URL
		m.Alias = alias
		return slacktemplate.Success(ctx, m)
	})
}

func (w *Watcher) notifyFailure(ctx context.Context, d *pages.Deployment) {
	w.notify(ctx, "failure", func(ctx context.Context) (string, error) {
		m := w.message(d)
		m.Stage = d.LatestStage.Name
		m.Logs = w.poller.DeploymentLogs(ctx, d.ID)
		return slacktemplate.Failure(ctx, m)
	})
}

// notify renders and sends a message in the background. Delivery problems
// are logged and never fail the run.
func (w *Watcher) notify(ctx context.Context, kind string, render func(context.Context) (string, error)) {
	if w.notifier == nil {
		return
	}
	// The run may return before the message is out.
	ctx = context.WithoutCancel(ctx)
	w.tasks.Go(func() error {
		log := clog.FromContext(ctx)
		text, err := render(ctx)
		if err != nil {
			log.Warnf("Failed to render %s notification: %v", kind, err)
			return nil
		}
		if err := w.notifier.Send(ctx, text); err != nil {
			log.Warnf("Failed to send %s notification: %v", kind, err)
			return nil
		}
		log.Infof("Sent %s notification", kind)
		return nil
	})
}

func (w *Watcher) message(d *pages.Deployment) slacktemplate.Message {
	project := w.info.Project
	if project == "" {
		project = d.ProjectName
	}
	commit := d.DeploymentTrigger.Metadata.CommitHash
	if commit == "" {
		commit = w.info.SHA
	}
	m := slacktemplate.Message{
		Project:      project,
		Commit:       commit,
		Actor:        w.info.Actor,
		DeploymentID: d.ID,
		Environment:  d.Environment,
		DashboardURL: d.LogURL(w.info.AccountID),
	}
	if w.info.Repository != "" && commit != "" {
		m.CommitURL = fmt.Sprintf("%s/%s/commit/%s", strings.TrimSuffix(w.info.ServerURL, "/"), w.info.Repository, commit)
	}
	return m
}
