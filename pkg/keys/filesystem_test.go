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
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotwarn/exposure-key-server/internal/project"
)

func TestNewFilesystem(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)

	t.Run("root_empty", func(t *testing.T) {
		t.Parallel()

		if _, err := NewFilesystem(ctx, ""); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("root_absolute", func(t *testing.T) {
		t.Parallel()

		tmp := t.TempDir()

		fs, err := NewFilesystem(ctx, tmp)
		if err != nil {
			t.Fatal(err)
		}

		if err := fs.CreateSigningKey(ctx, "foo"); err != nil {
			t.Fatal(err)
		}

		if _, err := os.Stat(filepath.Join(tmp, "foo")); err != nil {
			t.Fatal(err)
		}
	})
}

func TestFilesystem_NewSigner(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		keyID string
		setup func(string) error
		err   string
	}{
		{
			name:  "error_key_not_exist",
			keyID: "totally_not_valid",
			err:   "failed to read signing key",
		},
		{
			name:  "error_key_not_ecdsa",
			keyID: "banana",
			setup: func(dir string) error {
				pth := filepath.Join(dir, "banana")
				return os.WriteFile(pth, []byte("dafd"), 0o600)
			},
			err: "failed to parse signing key",
		},
		{
			name:  "happy",
			keyID: "apple",
			setup: func(dir string) error {
				pk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
				if err != nil {
					return err
				}
				b, err := x509.MarshalECPrivateKey(pk)
				if err != nil {
					return err
				}

				pth := filepath.Join(dir, "apple")
				return os.WriteFile(pth, b, 0o600)
			},
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctx := project.TestContext(t)

			dir := t.TempDir()
			if tc.setup != nil {
				if err := tc.setup(dir); err != nil {
					t.Fatal(err)
				}
			}

			fs, err := NewFilesystem(ctx, dir)
			if err != nil {
				t.Fatal(err)
			}

			if _, err := fs.NewSigner(ctx, tc.keyID); err != nil {
				if tc.err == "" {
					t.Fatal(err)
				}

				if !strings.Contains(err.Error(), tc.err) {
					t.Fatalf("expected %#v to contain %#v", err.Error(), tc.err)
				}
			}
		})
	}
}

func TestFilesystem_CreateSigningKey(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)

	fs, err := NewFilesystem(ctx, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	if err := fs.CreateSigningKey(ctx, "apple"); err != nil {
		t.Fatal(err)
	}

	// A second create with the same ID must not clobber the first key.
	err = fs.CreateSigningKey(ctx, "apple")
	if err == nil {
		t.Fatal("expected error")
	}
	if got, want := err.Error(), "already exists"; !strings.Contains(got, want) {
		t.Fatalf("expected %#v to contain %#v", got, want)
	}

	signer, err := fs.NewSigner(ctx, "apple")
	if err != nil {
		t.Fatal(err)
	}

	digest := sha256.Sum256([]byte("hello"))
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
