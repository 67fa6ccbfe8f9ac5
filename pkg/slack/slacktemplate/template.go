/*
Copyright 2024 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package slacktemplate

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"
)

const defaultTimeout = 5 * time.Second

// Executor handles template parsing and execution with basic helper functions
type Executor struct {
	tmpl *template.Template
}

// New creates a new template executor with helper functions
func New(templateText string) (*Executor, error) {
	funcMap := template.FuncMap{
		"tail":    tail,
		"short":   short,
		"trim":    strings.TrimSpace,
		"printf":  fmt.Sprintf,
		"default": defaultString,
	}

	tmpl, err := template.New("slack").Funcs(funcMap).Parse(templateText)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &Executor{tmpl: tmpl}, nil
}

// Must is like New but panics on a parse error. It is meant for the
// package's built-in templates.
func Must(templateText string) *Executor {
	e, err := New(templateText)
	if err != nil {
		panic(err)
	}
	return e
}

// ExecuteWithTimeout executes the template with a timeout to prevent hanging
func (e *Executor) ExecuteWithTimeout(ctx context.Context, data interface{}, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var buf bytes.Buffer
	done := make(chan error, 1)

	go func() {
		done <- e.tmpl.Execute(&buf, data)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("template execution failed: %w", err)
		}
		return buf.String(), nil
	case <-ctx.Done():
		return "", fmt.Errorf("template execution timed out after %v", timeout)
	}
}

// tail keeps the last n lines of s.
func tail(n int, s string) string {
	s = strings.TrimRight(s, "\n")
	if s == "" || n <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// short abbreviates a commit hash.
func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func defaultString(def, s string) string {
	if s == "" {
		return def
	}
	return s
}
