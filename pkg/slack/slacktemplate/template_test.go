/*
Copyright 2024 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package slacktemplate

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		template    string
		wantErr     bool
		errContains string
	}{
		{
			name:     "valid simple template",
			template: "Hello {{.name}}",
			wantErr:  false,
		},
		{
			name:     "valid template with helper functions",
			template: "{{short .sha}} {{tail 3 .logs}} {{default \"n/a\" .actor}}",
			wantErr:  false,
		},
		{
			name:        "invalid template syntax",
			template:    "Hello {{.name",
			wantErr:     true,
			errContains: "failed to parse template",
		},
		{
			name:        "template with unknown function",
			template:    "Hello {{unknown .name}}",
			wantErr:     true,
			errContains: "failed to parse template",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor, err := New(tt.template)
			if tt.wantErr {
				if err == nil {
					t.Errorf("New() expected error but got none")
					return
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("New() error = %v, want error containing %v", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Errorf("New() unexpected error: %v", err)
				return
			}
			if executor == nil {
				t.Errorf("New() returned nil executor")
			}
		})
	}
}

func TestExecutor_ExecuteWithTimeout(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     interface{}
		want     string
		wantErr  bool
	}{
		{
			name:     "simple field substitution",
			template: "Hello {{.name}}",
			data:     map[string]interface{}{"name": "World"},
			want:     "Hello World",
		},
		{
			name:     "short sha",
			template: "{{short .sha}}",
			data:     map[string]interface{}{"sha": "0123456789abcdef"},
			want:     "0123456",
		},
		{
			name:     "short sha already short",
			template: "{{short .sha}}",
			data:     map[string]interface{}{"sha": "abc"},
			want:     "abc",
		},
		{
			name:     "tail keeps the last lines",
			template: "{{tail 2 .logs}}",
			data:     map[string]interface{}{"logs": "one\ntwo\nthree\n"},
			want:     "two\nthree",
		},
		{
			name:     "default fills empty values",
			template: "{{default \"unknown\" .actor}}",
			data:     map[string]interface{}{"actor": ""},
			want:     "unknown",
		},
		{
			name:     "missing field in struct",
			template: "{{.Missing}}",
			data:     Message{},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor, err := New(tt.template)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			got, err := executor.ExecuteWithTimeout(context.Background(), tt.data, defaultTimeout)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExecuteWithTimeout() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExecuteWithTimeout() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecutor_ExecuteWithTimeout_Cancelled(t *testing.T) {
	executor := Must("{{.}}")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Either outcome is fine as long as the call returns promptly.
	done := make(chan struct{})
	go func() {
		_, _ = executor.ExecuteWithTimeout(ctx, "x", time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ExecuteWithTimeout() did not return")
	}
}

func TestSuccess(t *testing.T) {
	got, err := Success(context.Background(), Message{
		Project:      "site",
		Commit:       "0123456789abcdef",
		CommitURL:    "https://github.com/octo/site/commit/0123456789abcdef",
		Actor:        "octocat",
		DeploymentID: "dep-1",
		Environment:  "production",
		URL:          "https://prod.example",
		Alias:        "https://abc.preview.example",
		DashboardURL: "https://dash.cloudflare.com/acct/pages/view/site/dep-1",
	})
	if err != nil {
		t.Fatalf("Success() = %v", err)
	}
	for _, want := range []string{
		"*site*",
		"<https://github.com/octo/site/commit/0123456789abcdef|0123456>",
		"octocat",
		"`dep-1`",
		"https://prod.example",
		"https://abc.preview.example",
		"https://dash.cloudflare.com/acct/pages/view/site/dep-1",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Success() = %q, missing %q", got, want)
		}
	}
}

func TestFailure(t *testing.T) {
	var logs []string
	for i := 1; i <= 30; i++ {
		logs = append(logs, fmt.Sprintf("line %d", i))
	}

	got, err := Failure(context.Background(), Message{
		Project:      "site",
		Commit:       "0123456789abcdef",
		CommitURL:    "https://github.com/octo/site/commit/0123456789abcdef",
		Actor:        "octocat",
		DeploymentID: "dep-1",
		Stage:        "build",
		Logs:         strings.Join(logs, "\n"),
	})
	if err != nil {
		t.Fatalf("Failure() = %v", err)
	}
	if !strings.Contains(got, "failed on step `build`") {
		t.Errorf("Failure() = %q, missing the stage", got)
	}
	if !strings.Contains(got, "```\nline 11\n") || !strings.Contains(got, "line 30\n```") {
		t.Errorf("Failure() = %q, wanted lines 11-30 fenced", got)
	}
	if strings.Contains(got, "line 10\n") {
		t.Errorf("Failure() = %q, kept more than %d lines", got, MaxLogLines)
	}
}

func TestFailure_NoLogs(t *testing.T) {
	got, err := Failure(context.Background(), Message{
		Project:      "site",
		DeploymentID: "dep-1",
		Stage:        "deploy",
	})
	if err != nil {
		t.Fatalf("Failure() = %v", err)
	}
	if strings.Contains(got, "```") {
		t.Errorf("Failure() = %q, wanted no log block", got)
	}
	if !strings.Contains(got, "by unknown") {
		t.Errorf("Failure() = %q, wanted the default actor", got)
	}
}

func TestCommitLink(t *testing.T) {
	for _, tt := range []struct {
		name      string
		commitURL string
		want      string
	}{{
		name:      "with repository",
		commitURL: "https://github.com/octo/site/commit/0123456789abcdef",
		want:      "Commit: <https://github.com/octo/site/commit/0123456789abcdef|0123456> by octocat",
	}, {
		name: "without repository",
		want: "Commit: 0123456 by octocat",
	}} {
		t.Run(tt.name, func(t *testing.T) {
			m := Message{
				Project:      "site",
				Commit:       "0123456789abcdef",
				CommitURL:    tt.commitURL,
				Actor:        "octocat",
				DeploymentID: "dep-1",
				Stage:        "build",
			}
			for name, render := range map[string]func(context.Context, Message) (string, error){
				"Success": Success,
				"Failure": Failure,
			} {
				got, err := render(context.Background(), m)
				if err != nil {
					t.Fatalf("%s() = %v", name, err)
				}
				if !strings.Contains(got, tt.want) {
					t.Errorf("%s() = %q, wanted it to contain %q", name, got, tt.want)
				}
				if strings.Contains(got, "<|") {
					t.Errorf("%s() = %q, has an empty link", name, got)
				}
			}
		})
	}
}
