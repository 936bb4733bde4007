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

//go:build vault || all

package keys

import (
	"context"
	"crypto"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"github.com/rotwarn/exposure-key-server/pkg/base64util"
	"github.com/mitchellh/mapstructure"

	vaultapi "github.com/hashicorp/vault/api"
)

func init() {
	RegisterManager(KeyManagerTypeHashiCorpVault, func(ctx context.Context, _ *Config) (KeyManager, error) {
		return NewHashiCorpVault(ctx)
	})
}

// Compile-time check to verify implements interface.
var (
	_ KeyManager    = (*HashiCorpVault)(nil)
	_ crypto.Signer = (*HashiCorpVaultSigner)(nil)
)

// HashiCorpVault implements the keys.KeyManager interface and can be used to
// sign export files with keys in Vault's transit backend.
type HashiCorpVault struct {
	client *vaultapi.Client
}

// NewHashiCorpVault creates a new Vault key manager instance.
func NewHashiCorpVault(ctx context.Context) (*HashiCorpVault, error) {
	client, err := vaultapi.NewClient(nil)
	if err != nil {
		return nil, fmt.Errorf("keys.NewHashiCorpVault: client: %w", err)
	}

	return &HashiCorpVault{
		client: client,
	}, nil
}

type HCVaultKeyID struct {
	Name    string
	Version string
}

func ParseHCVaultKeyID(keyID string) (*HCVaultKeyID, error) {
	parts := strings.SplitN(keyID, "@", 2)
	switch len(parts) {
	case 0, 1:
		return nil, fmt.Errorf("missing version in: %v", keyID)
	default:
		return &HCVaultKeyID{Name: parts[0], Version: parts[1]}, nil
	}
}

// NewSigner creates a new signer that uses a key in HashiCorp Vault's transit
// backend. The keyID is in the format:
//
//	name@version
//
// Both name and version are required.
func (v *HashiCorpVault) NewSigner(ctx context.Context, keyID string) (crypto.Signer, error) {
	hvcKey, err := ParseHCVaultKeyID(keyID)
	if err != nil {
		return nil, err
	}
	return NewHashiCorpVaultSigner(ctx, v.client, hvcKey.Name, hvcKey.Version)
}

type HashiCorpVaultSigner struct {
	client  *vaultapi.Client
	name    string
	version string

	publicKey crypto.PublicKey
}

// NewHashiCorpVaultSigner creates a new signing interface compatible with
// HashiCorp Vault's transit backend. The key name and key version are
// required.
func NewHashiCorpVaultSigner(ctx context.Context, client *vaultapi.Client, name, version string) (*HashiCorpVaultSigner, error) {
	if client == nil {
		return nil, fmt.Errorf("missing client")
	}

	if name == "" {
		return nil, fmt.Errorf("missing name")
	}

	if version == "" {
		return nil, fmt.Errorf("version is required")
	}

	signer := &HashiCorpVaultSigner{
		client:  client,
		name:    name,
		version: version,
	}

	publicKey, err := signer.getPublicKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}
	signer.publicKey = publicKey

	return signer, nil
}

// Public returns the public key. The public key is fetched when the signer is
// created.
func (s *HashiCorpVaultSigner) Public() crypto.PublicKey {
	return s.publicKey
}

// Sign signs the given digest using the key in Vault.
func (s *HashiCorpVaultSigner) Sign(_ io.Reader, digest []byte, _ crypto.SignerOpts) ([]byte, error) {
	pth := fmt.Sprintf("transit/sign/%s/sha2-256", s.name)
	secret, err := s.client.Logical().Write(pth, map[string]interface{}{
		"input":                base64.StdEncoding.EncodeToString(digest),
		"prehashed":            true,
		"marshaling_algorithm": "asn1",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("got response for signing, but was nil")
	}

	raw, ok := secret.Data["signature"]
	if !ok {
		return nil, fmt.Errorf("response does not have 'signature' key")
	}

	signature, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("signature is not a string")
	}

	// Vault returns the signature in the format vault:vX:BASE_64_SIG, extract
	// the raw SIG.
	parts := strings.SplitN(signature, ":", 3)
	actualSignature := parts[len(parts)-1]

	b, err := base64util.DecodeString(actualSignature)
	if err != nil {
		return nil, fmt.Errorf("failed to decode signature: %w", err)
	}

	return b, nil
}

type transitKeyResponse struct {
	Type     string `ms:"type"`
	Versions map[string]struct {
		PublicKeyPEM string `ms:"public_key"`
	} `ms:"keys"`
}

func (s *HashiCorpVaultSigner) getPublicKey() (crypto.PublicKey, error) {
	pth := fmt.Sprintf("transit/keys/%s", s.name)
	secret, err := s.client.Logical().Read(pth)
	if err != nil {
		return nil, fmt.Errorf("failed to get public key for %v: %w", s.name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("found %v, but public key was empty", s.name)
	}

	var response transitKeyResponse
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &response,
		TagName:          "ms",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to setup decoder: %w", err)
	}
	if err := dec.Decode(secret.Data); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}

	if got, want := response.Type, "ecdsa-p256"; got != want {
		return nil, fmt.Errorf("invalid key type %v: expected %v", got, want)
	}

	version, ok := response.Versions[s.version]
	if !ok {
		return nil, fmt.Errorf("%v has no version %v", s.name, s.version)
	}
	if version.PublicKeyPEM == "" {
		return nil, fmt.Errorf("no public_key field")
	}

	return ParseECDSAPublicKey(version.PublicKeyPEM)
}
