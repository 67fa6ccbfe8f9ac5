/*
Copyright 2023 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package appauth

import (
	"fmt"
	"os"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/golang-jwt/jwt/v4"
)

// NewSigner creates a GitHub App JWT signer from a key reference.
// Supported forms:
// - file://<path>: a PEM encoded RSA private key read from a file.
// - the PEM encoded RSA private key itself, as handed over in a CI secret.
func NewSigner(ref string) (ghinstallation.Signer, error) {
	pk, err := loadKey(ref)
	if err != nil {
		return nil, err
	}
	rsa, err := jwt.ParseRSAPrivateKeyFromPEM(pk)
	if err != nil {
		return nil, fmt.Errorf("could not parse private key: %w", err)
	}
	return ghinstallation.NewRSASigner(jwt.SigningMethodRS256, rsa), nil
}

func loadKey(ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "-----BEGIN") {
		return []byte(ref), nil
	}

	t := strings.SplitN(ref, "://", 2)
	if len(t) < 2 {
		return nil, fmt.Errorf("invalid key format: expected PEM or file://<path>")
	}
	switch t[0] {
	case "file":
		pk, err := os.ReadFile(t[1])
		if err != nil {
			return nil, fmt.Errorf("could not open file: %w", err)
		}
		return pk, nil
	}
	return nil, fmt.Errorf("unknown key type: %s", t[0])
}
