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

// Package keys defines the interface to and implementations of signing key
// management. Export archives are signed with a key the server never sees in
// raw form when a cloud KMS backend is in use.
package keys

import (
	"context"
	"crypto"
	"fmt"
	"sort"
	"sync"
)

// KeyManager provides signers backed by a key management system.
type KeyManager interface {
	NewSigner(ctx context.Context, keyID string) (crypto.Signer, error)
}

// SigningKeyCreator is implemented by key managers that can create signing
// keys locally. Cloud-backed managers create keys out of band and do not
// implement this.
type SigningKeyCreator interface {
	CreateSigningKey(ctx context.Context, keyID string) error
}

// ManagerFunc creates a key manager from a config.
type ManagerFunc func(ctx context.Context, cfg *Config) (KeyManager, error)

var (
	managersLock sync.RWMutex
	managers     = make(map[KeyManagerType]ManagerFunc)
)

// RegisterManager registers a new key manager with the given name. If a
// manager is already registered with the given name, it panics. Managers are
// usually registered via an init function.
func RegisterManager(name KeyManagerType, fn ManagerFunc) {
	managersLock.Lock()
	defer managersLock.Unlock()

	if _, ok := managers[name]; ok {
		panic(fmt.Sprintf("key manager %q is already registered", name))
	}
	managers[name] = fn
}

// RegisteredManagers returns the list of the names of the registered key
// managers.
func RegisteredManagers() []string {
	managersLock.RLock()
	defer managersLock.RUnlock()

	list := make([]string, 0, len(managers))
	for k := range managers {
		list = append(list, string(k))
	}
	sort.Strings(list)
	return list
}

// KeyManagerFor returns the key manager for the given configuration, or an
// error if none is registered under the configured type.
func KeyManagerFor(ctx context.Context, cfg *Config) (KeyManager, error) {
	managersLock.RLock()
	defer managersLock.RUnlock()

	name := cfg.KeyManagerType
	fn, ok := managers[name]
	if !ok {
		return nil, fmt.Errorf("unknown key manager type: %v", name)
	}
	return fn(ctx, cfg)
}
