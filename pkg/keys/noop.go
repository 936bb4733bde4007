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
	"fmt"
)

func init() {
	RegisterManager(KeyManagerTypeNoop, func(ctx context.Context, cfg *Config) (KeyManager, error) {
		return NewNoop(ctx)
	})
}

// Compile-time check to verify implements interface.
var _ KeyManager = (*Noop)(nil)

// Noop is a key manager that does nothing. Useful for local smoke tests of
// components that require a key manager but never sign.
type Noop struct{}

func NewNoop(_ context.Context) (*Noop, error) {
	return &Noop{}, nil
}

func (n *Noop) NewSigner(_ context.Context, keyID string) (crypto.Signer, error) {
	return nil, fmt.Errorf("noop key manager cannot sign")
}
