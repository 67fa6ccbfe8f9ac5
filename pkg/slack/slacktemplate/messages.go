/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package slacktemplate

import (
	"context"
	"strconv"
)

// MaxLogLines bounds the build log excerpt in failure messages.
const MaxLogLines = 20

// Message is the data handed to the deployment templates.
type Message struct {
	Project      string
	Commit       string
	CommitURL    string
	Actor        string
	DeploymentID string
	Environment  string

	// Success only.
	URL          string
	Alias        string
	DashboardURL string

	// Failure only.
	Stage string
	Logs  string
}

const fence = "```"

var (
	successTemplate = Must(`:white_check_mark: *{{.Project}}* deployed to {{default "preview" .Environment}}
Commit: {{if .CommitURL}}<{{.CommitURL}}|{{short .Commit}}>{{else}}{{short .Commit}}{{end}} by {{default "unknown" .Actor}}
Deployment: ` + "`{{.DeploymentID}}`" + `
Alias: {{.Alias}}
URL: {{.URL}}
Logs: <{{.DashboardURL}}|dashboard>`)

	failureTemplate = Must(`:x: *{{.Project}}* deployment failed on step ` + "`{{.Stage}}`" + `
Commit: {{if .CommitURL}}<{{.CommitURL}}|{{short .Commit}}>{{else}}{{short .Commit}}{{end}} by {{default "unknown" .Actor}}
Deployment: ` + "`{{.DeploymentID}}`" + `{{with tail ` + strconv.Itoa(MaxLogLines) + ` .Logs}}
` + fence + `
{{.}}
` + fence + `{{end}}`)
)

// Success renders the message sent when the deploy stage succeeds.
func Success(ctx context.Context, m Message) (string, error) {
	return successTemplate.ExecuteWithTimeout(ctx, m, defaultTimeout)
}

// Failure renders the message sent when a stage fails. Only the last
// MaxLogLines lines of m.Logs are kept.
func Failure(ctx context.Context, m Message) (string, error) {
	return failureTemplate.ExecuteWithTimeout(ctx, m, defaultTimeout)
}
