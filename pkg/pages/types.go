/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pages

import (
	"fmt"
	"time"
)

// Stage names and statuses reported by the Pages API.
const (
	StageDeploy = "deploy"

	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusFailure    = "failure"
	StatusActive     = "active"
	StatusIdle       = "idle"
	StatusInProgress = "in_progress"

	EnvironmentProduction = "production"
)

// Deployment is a single Pages deployment as returned by the deployments API.
type Deployment struct {
	ID                string            `json:"id"`
	ShortID           string            `json:"short_id,omitempty"`
	ProjectName       string            `json:"project_name"`
	Environment       string            `json:"environment"`
	URL               string            `json:"url"`
	Aliases           []string          `json:"aliases"`
	CreatedOn         time.Time         `json:"created_on"`
	IsSkipped         bool              `json:"is_skipped"`
	DeploymentTrigger DeploymentTrigger `json:"deployment_trigger"`
	LatestStage       Stage             `json:"latest_stage"`
}

// DeploymentTrigger describes what kicked off a deployment.
type DeploymentTrigger struct {
	Type     string          `json:"type"`
	Metadata TriggerMetadata `json:"metadata"`
}

// TriggerMetadata carries the source revision of a deployment.
type TriggerMetadata struct {
	Branch        string `json:"branch"`
	CommitHash    string `json:"commit_hash"`
	CommitMessage string `json:"commit_message,omitempty"`
}

// Stage is one phase of the Pages build pipeline.
type Stage struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Failed reports whether the stage ended in failure.
func (s Stage) Failed() bool {
	return s.Status == StatusFailed || s.Status == StatusFailure
}

// DeployFinished reports whether this is the deploy stage and it resolved,
// either way.
func (s Stage) DeployFinished() bool {
	return s.Name == StageDeploy && (s.Status == StatusSuccess || s.Status == StatusFailed)
}

// AliasURL returns the first alias of the deployment, or its canonical URL
// when it has none.
func (d *Deployment) AliasURL() string {
	if len(d.Aliases) > 0 {
		return d.Aliases[0]
	}
	return d.URL
}

// IsProduction reports whether the deployment targets the production
// environment.
func (d *Deployment) IsProduction() bool {
	return d.Environment == EnvironmentProduction
}

// DashboardURL links to the deployment in the Cloudflare dashboard.
func DashboardURL(accountID, project, deploymentID string) string {
	return fmt.Sprintf("https://dash.cloudflare.com/%s/pages/view/%s/%s", accountID, project, deploymentID)
}

// LogURL is the dashboard page of the deployment, where its build log lives.
// GitHub deployment statuses and Slack messages both link here.
func (d *Deployment) LogURL(accountID string) string {
	return DashboardURL(accountID, d.ProjectName, d.ID)
}

// APIError is an entry of the "errors" array of a Cloudflare API envelope.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("cloudflare api error %d: %s", e.Code, e.Message)
}

type envelope[T any] struct {
	Success bool       `json:"success"`
	Errors  []APIError `json:"errors"`
	Result  T          `json:"result"`
}

type logsResult struct {
	Data []struct {
		Line string `json:"line"`
	} `json:"data"`
}
