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

//go:build google || all

package keys

import (
	"context"
	"crypto"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	"github.com/sethvargo/go-gcpkms/pkg/gcpkms"
)

func init() {
	RegisterManager(KeyManagerTypeGoogleCloudKMS, func(ctx context.Context, _ *Config) (KeyManager, error) {
		return NewGoogleCloudKMS(ctx)
	})
}

// Compile-time check to verify implements interface.
var _ KeyManager = (*GoogleCloudKMS)(nil)

// GoogleCloudKMS implements the keys.KeyManager interface and can be used to
// sign export files using Google Cloud KMS.
type GoogleCloudKMS struct {
	client *kms.KeyManagementClient
}

func NewGoogleCloudKMS(ctx context.Context) (*GoogleCloudKMS, error) {
	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("kms.NewKeyManagementClient: %w", err)
	}

	return &GoogleCloudKMS{
		client: client,
	}, nil
}

func (g *GoogleCloudKMS) NewSigner(ctx context.Context, keyID string) (crypto.Signer, error) {
	return gcpkms.NewSigner(ctx, g.client, keyID)
}
