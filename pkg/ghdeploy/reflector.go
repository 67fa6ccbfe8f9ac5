/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package ghdeploy

import (
	"context"
	"fmt"
	"sync"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"

	"github.com/chainguard-dev/pages-await/pkg/pages"
)

// State is a GitHub deployment status state.
type State string

const (
	StateInProgress State = "in_progress"
	StateSuccess    State = "success"
	StateFailure    State = "failure"
)

const description = "Cloudflare Pages"

// Reflector mirrors a Pages deployment into a GitHub deployment. A single
// GitHub deployment is created per Reflector, on first use, and every later
// status is attached to it.
type Reflector struct {
	client    *github.Client
	owner     string
	repo      string
	ref       string
	accountID string

	mu           sync.Mutex
	deploymentID *int64
}

// NewReflector creates a Reflector for owner/repo at the given git ref. A nil
// client yields a Reflector whose Update does nothing.
func NewReflector(client *github.Client, owner, repo, ref, accountID string) *Reflector {
	return &Reflector{
		client:    client,
		owner:     owner,
		repo:      repo,
		ref:       ref,
		accountID: accountID,
	}
}

// Enabled reports whether updates reach GitHub.
func (r *Reflector) Enabled() bool {
	return r != nil && r.client != nil
}

// EnvironmentName is the GitHub environment a Pages deployment is reported under.
func EnvironmentName(d *pages.Deployment) string {
	if d.IsProduction() {
		return "Production"
	}
	return fmt.Sprintf("Preview (%s)", d.DeploymentTrigger.Metadata.Branch)
}

// DeploymentID returns the id of the GitHub deployment, once created.
func (r *Reflector) DeploymentID() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deploymentID == nil {
		return 0, false
	}
	return *r.deploymentID, true
}

// Update makes sure the GitHub deployment exists and, once the Pages deploy
// stage has resolved, records state on it.
func (r *Reflector) Update(ctx context.Context, d *pages.Deployment, state State) error {
	if !r.Enabled() {
		return nil
	}
	log := clog.FromContext(ctx).With("owner", r.owner, "repo", r.repo, "state", state)
	env := EnvironmentName(d)

	id, err := r.ensureDeployment(ctx, d, env)
	if err != nil {
		return err
	}

	if !d.LatestStage.DeployFinished() {
		log.Debugf("Stage %q has not finished deploying, not reporting a status yet", d.LatestStage.Name)
		return nil
	}

	log.Infof("Setting GitHub deployment %d to %s", id, state)
	if _, _, err := r.client.Repositories.CreateDeploymentStatus(ctx, r.owner, r.repo, id, &github.DeploymentStatusRequest{
		State:          github.Ptr(string(state)),
		Environment:    github.Ptr(env),
		EnvironmentURL: github.Ptr(d.URL),
		LogURL:         github.Ptr(d.LogURL(r.accountID)),
		Description:    github.Ptr(description),
	}); err != nil {
		return fmt.Errorf("creating deployment status: %w", err)
	}
	return nil
}

func (r *Reflector) ensureDeployment(ctx context.Context, d *pages.Deployment, env string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deploymentID != nil {
		return *r.deploymentID, nil
	}

	dep, _, err := r.client.Repositories.CreateDeployment(ctx, r.owner, r.repo, &github.DeploymentRequest{
		Ref:                   github.Ptr(r.ref),
		Environment:           github.Ptr(env),
		ProductionEnvironment: github.Ptr(d.IsProduction()),
		Description:           github.Ptr(description),
		AutoMerge:             github.Ptr(false),
		RequiredContexts:      &[]string{},
	})
	if err != nil {
		return 0, fmt.Errorf("creating deployment: %w", err)
	}
	id := dep.GetID()
	r.deploymentID = &id

	clog.FromContext(ctx).With("owner", r.owner, "repo", r.repo).
		Infof("Created GitHub deployment %d for environment %q", id, env)
	return id, nil
}
