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

// Package storage is an interface over file/blob storage.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound indicates that the requested object was not found.
var ErrNotFound = errors.New("storage object not found")

// Blobstore defines the minimum interface for a blob storage system.
type Blobstore interface {
	// CreateObject creates or overwrites an object in the storage system.
	// When cacheable is false, the object is marked as not cacheable on
	// backends that serve objects over HTTP.
	CreateObject(ctx context.Context, bucket, objectName string, contents []byte, cacheable bool) error

	// CopyObject copies the contents of the source object over the
	// destination object within the same bucket. The destination is replaced
	// as a whole; readers never observe a partially written object. The
	// source must exist.
	CopyObject(ctx context.Context, bucket, srcName, dstName string) error

	// DeleteObject deletes an object or does nothing if the object doesn't
	// exist.
	DeleteObject(ctx context.Context, bucket, objectName string) error

	// GetObject returns the contents of the object. If the object does not
	// exist, it returns ErrNotFound.
	GetObject(ctx context.Context, bucket, objectName string) ([]byte, error)
}

// BlobstoreFor returns the blob store for the given type, or an error if one
// does not exist.
func BlobstoreFor(ctx context.Context, typ BlobstoreType) (Blobstore, error) {
	switch typ {
	case BlobstoreTypeAWSS3:
		return NewAWSS3(ctx)
	case BlobstoreTypeAzureBlobStorage:
		return NewAzureBlobstore(ctx)
	case BlobstoreTypeGoogleCloudStorage:
		return NewGoogleCloudStorage(ctx)
	case BlobstoreTypeFilesystem:
		return NewFilesystemStorage(ctx)
	case BlobstoreTypeMemory:
		return NewMemory(ctx)
	case BlobstoreTypeNoop:
		return NewNoop()
	default:
		return nil, fmt.Errorf("unknown blob store: %v", typ)
	}
}
