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
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"sort"
	"strings"
	"testing"

	"github.com/rotwarn/exposure-key-server/internal/project"
)

func TestInMemory_NewSigner(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)

	kms, err := NewInMemory(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := kms.NewSigner(ctx, "nope"); err == nil {
		t.Fatal("expected error for missing key")
	}

	if err := kms.CreateSigningKey(ctx, "signer"); err != nil {
		t.Fatal(err)
	}

	err = kms.CreateSigningKey(ctx, "signer")
	if err == nil {
		t.Fatal("expected error")
	}
	if got, want := err.Error(), "already exists"; !strings.Contains(got, want) {
		t.Fatalf("expected %#v to contain %#v", got, want)
	}

	signer, err := kms.NewSigner(ctx, "signer")
	if err != nil {
		t.Fatal(err)
	}

	digest := sha256.Sum256([]byte("payload"))
	sig, err := signer.Sign(rand.Reader, digest[:], nil)
	if err != nil {
		t.Fatal(err)
	}

	pub, ok := signer.Public().(*ecdsa.PublicKey)
	if !ok {
		t.Fatalf("public key is %T, expected *ecdsa.PublicKey", signer.Public())
	}
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		t.Errorf("signature did not verify")
	}
}

func TestRegisteredManagers(t *testing.T) {
	t.Parallel()

	managers := RegisteredManagers()

	// Cloud-backed managers come and go with build tags, the local ones are
	// always compiled in.
	want := map[string]bool{
		"FILESYSTEM": false,
		"IN_MEMORY":  false,
		"NOOP":       false,
	}
	for _, name := range managers {
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("manager %q is not registered: %v", name, managers)
		}
	}
	if !sort.StringsAreSorted(managers) {
		t.Errorf("managers are not sorted: %v", managers)
	}
}

func TestKeyManagerFor(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)

	kms, err := KeyManagerFor(ctx, &Config{KeyManagerType: KeyManagerTypeInMemory})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := kms.(*InMemory); !ok {
		t.Fatalf("expected *InMemory, got %T", kms)
	}

	if _, err := KeyManagerFor(ctx, &Config{KeyManagerType: "BANANA"}); err == nil {
		t.Fatal("expected error for unknown manager")
	}
}
