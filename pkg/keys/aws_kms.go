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

//go:build aws || all

package keys

import (
	"context"
	"crypto"
	"fmt"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kms"
	"github.com/lstoll/awskms"
)

func init() {
	RegisterManager(KeyManagerTypeAWSKMS, func(ctx context.Context, _ *Config) (KeyManager, error) {
		return NewAWS(ctx)
	})
}

// Compile-time check to verify implements interface.
var _ KeyManager = (*AWS)(nil)

// AWS implements the keys.KeyManager interface and can be used to sign
// export files using AWS KMS.
type AWS struct {
	svc *kms.KMS
}

func NewAWS(ctx context.Context) (*AWS, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("session.NewSessionWithOptions: %w", err)
	}

	return &AWS{
		svc: kms.New(sess),
	}, nil
}

func (s *AWS) NewSigner(ctx context.Context, keyID string) (crypto.Signer, error) {
	return awskms.NewSigner(ctx, s.svc, keyID)
}
