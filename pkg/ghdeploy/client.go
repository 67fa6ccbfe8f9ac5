/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package ghdeploy

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"

	"github.com/chainguard-dev/pages-await/pkg/ghdeploy/appauth"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// Credentials select how the GitHub client authenticates. A token wins over
// GitHub App credentials; with neither, no client is built.
type Credentials struct {
	Token string

	AppID          int64
	InstallationID int64
	// PrivateKey is a PEM encoded key, or a file:// reference to one.
	PrivateKey string
}

// Empty reports whether no credentials were supplied.
func (c Credentials) Empty() bool {
	return c.Token == "" && c.AppID == 0
}

// NewClient builds a GitHub client on top of base. It returns a nil client
// and no error when creds is empty.
func NewClient(ctx context.Context, creds Credentials, apiURL string, base http.RoundTripper) (*github.Client, error) {
	if creds.Empty() {
		return nil, nil
	}
	if base == nil {
		base = http.DefaultTransport
	}
	apiURL = strings.TrimSuffix(apiURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	var transport http.RoundTripper
	switch {
	case creds.Token != "":
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.Token, TokenType: "Bearer"}),
			Base:   base,
		}

	default:
		if creds.InstallationID == 0 || creds.PrivateKey == "" {
			return nil, fmt.Errorf("github app %d needs an installation id and a private key", creds.AppID)
		}
		signer, err := appauth.NewSigner(creds.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("loading github app key: %w", err)
		}
		atr, err := ghinstallation.NewAppsTransportWithOptions(base, creds.AppID, ghinstallation.WithSigner(signer))
		if err != nil {
			return nil, fmt.Errorf("creating github app transport: %w", err)
		}
		atr.BaseURL = apiURL
		itr := ghinstallation.NewFromAppsTransport(atr, creds.InstallationID)
		itr.BaseURL = apiURL
		transport = itr
		clog.FromContext(ctx).Infof("Authenticating to GitHub as app %d, installation %d", creds.AppID, creds.InstallationID)
	}

	client := github.NewClient(&http.Client{Transport: transport})
	if apiURL != DefaultAPIURL {
		ec, err := client.WithEnterpriseURLs(apiURL, apiURL)
		if err != nil {
			return nil, fmt.Errorf("configuring github api url %q: %w", apiURL, err)
		}
		client = ec
	}
	return client, nil
}
