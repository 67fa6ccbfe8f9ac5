/*
Copyright 2024 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/chainguard-dev/clog"
)

// Notifier posts messages to a Slack incoming webhook.
type Notifier struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient sets the HTTP client used to reach the webhook.
func WithHTTPClient(hc *http.Client) Option {
	return func(n *Notifier) { n.client = hc }
}

// WithChannel overrides the webhook's default channel, where the webhook
// allows it.
func WithChannel(channel string) Option {
	return func(n *Notifier) { n.channel = channel }
}

// NewNotifier creates a Notifier for the given webhook URL.
func NewNotifier(webhookURL string, opts ...Option) *Notifier {
	n := &Notifier{
		webhookURL: webhookURL,
		client:     http.DefaultClient,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type payload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// Send posts text to the webhook.
func (n *Notifier) Send(ctx context.Context, text string) error {
	jsonData, err := json.Marshal(payload{Channel: n.channel, Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create Slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to Slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack webhook returned status %d: %s", resp.StatusCode, string(body))
	}

	clog.FromContext(ctx).Debug("Sent Slack notification")
	return nil
}
