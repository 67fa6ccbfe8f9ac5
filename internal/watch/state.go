/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package watch

import (
	"fmt"

	"github.com/chainguard-dev/pages-await/pkg/pages"
)

// RunState is the per-run state of the stage tracker. It lives for one
// invocation and is never persisted.
type RunState struct {
	// Waiting is true until a terminal outcome has been observed.
	Waiting bool
	// LastStage is the last stage name seen.
	LastStage string
	// MarkedInProgress guards the one-time in_progress reflection.
	MarkedInProgress bool
}

// Result is the terminal outcome of a successful run.
type Result struct {
	// Skipped is set when the deployment was skipped by the platform.
	Skipped bool
	// Deployment is the last observed deployment, nil when skipped before
	// any stage was seen.
	Deployment *pages.Deployment
	// Alias is the first alias URL, or the deployment URL without aliases.
	Alias string
	// Success reports whether the deploy stage succeeded.
	Success bool
}

// DeploymentFailedError is returned when a stage of the deployment fails.
type DeploymentFailedError struct {
	Stage string
}

func (e *DeploymentFailedError) Error() string {
	return fmt.Sprintf("deployment failed on step: %s", e.Stage)
}
