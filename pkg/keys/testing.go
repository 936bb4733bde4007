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
	"crypto/rand"
	"encoding/hex"
	"testing"
)

// TestKeyManager creates a new key manager suitable for use in tests.
func TestKeyManager(tb testing.TB) KeyManager {
	tb.Helper()

	ctx := context.Background()

	kms, err := NewFilesystem(ctx, tb.TempDir())
	if err != nil {
		tb.Fatal(err)
	}

	return kms
}

// TestSigningKey creates a new signing key in the given key manager and
// returns its ID. If the provided key manager cannot create signing keys, it
// calls t.Fatal.
func TestSigningKey(tb testing.TB, kms KeyManager) string {
	tb.Helper()

	typ, ok := kms.(SigningKeyCreator)
	if !ok {
		tb.Fatal("kms cannot create signing keys")
	}

	ctx := context.Background()
	keyID := randomPrefix(tb, 8) + "-key"
	if err := typ.CreateSigningKey(ctx, keyID); err != nil {
		tb.Fatal(err)
	}

	return keyID
}

func randomPrefix(tb testing.TB, length int) string {
	tb.Helper()

	b := make([]byte, length)
	n, err := rand.Read(b)
	if err != nil {
		tb.Fatalf("failed to generate random: %v", err)
	}
	if n < length {
		tb.Fatalf("insufficient bytes read: %v, expected %v", n, length)
	}
	return hex.EncodeToString(b)[:length]
}
