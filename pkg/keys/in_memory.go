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
	"fmt"
	"sync"
)

func init() {
	RegisterManager(KeyManagerTypeInMemory, func(ctx context.Context, cfg *Config) (KeyManager, error) {
		return NewInMemory(ctx)
	})
}

// Compile-time check to verify implements interface.
var (
	_ KeyManager        = (*InMemory)(nil)
	_ SigningKeyCreator = (*InMemory)(nil)
)

// InMemory is a key manager that holds keys in memory. It is for testing
// only; keys do not survive process restarts.
type InMemory struct {
	mu          sync.RWMutex
	signingKeys map[string]*ecdsa.PrivateKey
}

// NewInMemory creates a new, empty in-memory key manager.
func NewInMemory(_ context.Context) (*InMemory, error) {
	return &InMemory{
		signingKeys: make(map[string]*ecdsa.PrivateKey),
	}, nil
}

// NewSigner returns a signer for the key with the given ID.
func (k *InMemory) NewSigner(_ context.Context, keyID string) (crypto.Signer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	pk, ok := k.signingKeys[keyID]
	if !ok {
		return nil, fmt.Errorf("no signing key with ID %q", keyID)
	}
	return pk, nil
}

// CreateSigningKey creates a new P-256 signing key with the given ID. It
// returns an error if a key already exists with that ID.
func (k *InMemory) CreateSigningKey(_ context.Context, keyID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.signingKeys[keyID]; ok {
		return fmt.Errorf("signing key %q already exists", keyID)
	}

	pk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate signing key: %w", err)
	}
	k.signingKeys[keyID] = pk
	return nil
}
