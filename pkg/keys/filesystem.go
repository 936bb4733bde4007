// Copyright 2020 the Exposure Key Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package keys

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
)

func init() {
	RegisterManager(KeyManagerTypeFilesystem, func(ctx context.Context, cfg *Config) (KeyManager, error) {
		return NewFilesystem(ctx, cfg.FilesystemRoot)
	})
}

// Compile-time check to verify implements interface.
var (
	_ KeyManager        = (*Filesystem)(nil)
	_ SigningKeyCreator = (*Filesystem)(nil)
)

// Filesystem is a key manager that uses keys store on the local filesystem.
// Keys are stored as DER-encoded EC private keys, named by their key ID
// relative to the configured root. This is intended for local development and
// testing, not for production.
type Filesystem struct {
	root string
}

// NewFilesystem creates a new filesystem-backed key manager rooted at the
// given directory, creating it if it does not exist.
func NewFilesystem(ctx context.Context, root string) (*Filesystem, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create root directory: %w", err)
		}
	}

	return &Filesystem{
		root: root,
	}, nil
}

// NewSigner returns a signer for the key with the given ID.
func (k *Filesystem) NewSigner(_ context.Context, keyID string) (crypto.Signer, error) {
	pth := filepath.Join(k.root, keyID)

	der, err := os.ReadFile(pth)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}

	pk, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return pk, nil
}

// CreateSigningKey creates a new P-256 signing key with the given ID. It
// returns an error if a key already exists with that ID.
func (k *Filesystem) CreateSigningKey(_ context.Context, keyID string) error {
	pth := filepath.Join(k.root, keyID)

	if _, err := os.Stat(pth); err == nil {
		return fmt.Errorf("signing key %q already exists", keyID)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat signing key: %w", err)
	}

	pk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate signing key: %w", err)
	}

	der, err := x509.MarshalECPrivateKey(pk)
	if err != nil {
		return fmt.Errorf("failed to marshal signing key: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(pth), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(pth, der, 0o600); err != nil {
		return fmt.Errorf("failed to write signing key: %w", err)
	}
	return nil
}
