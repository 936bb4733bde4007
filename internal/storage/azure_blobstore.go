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

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/Azure/go-autorest/autorest/adal"
	"go.opencensus.io/stats"
)

// Compile-time check to verify implements interface.
var _ Blobstore = (*AzureBlobstore)(nil)

// AzureBlobstore implements the Blobstore interface and provides the ability
// to write files to Azure Blob Storage.
type AzureBlobstore struct {
	serviceURL *azblob.ServiceURL
}

func newAccessTokenCredential(accountName, accountKey string) (azblob.Credential, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}
	return credential, nil
}

func newMSITokenCredential(blobstoreURL string) (azblob.Credential, error) {
	msiEndpoint, err := adal.GetMSIVMEndpoint()
	if err != nil {
		return nil, fmt.Errorf("failed to get MSI endpoint: %w", err)
	}

	spt, err := adal.NewServicePrincipalTokenFromMSI(msiEndpoint, blobstoreURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get service principal token from MSI %v: %w", msiEndpoint, err)
	}

	tokenRefresher := func(credential azblob.TokenCredential) time.Duration {
		if err := spt.Refresh(); err != nil {
			stats.Record(context.Background(), mAzureRefreshFailed.M(1))
			return 0
		}

		token := spt.Token()
		credential.SetToken(token.AccessToken)

		// Schedule the next refresh shortly before the token expires.
		exp := token.Expires().UTC().Sub(time.Now().UTC().Add(2 * time.Minute))
		if exp < 0 {
			stats.Record(context.Background(), mAzureRefreshExpired.M(1))
			return 0
		}
		return exp
	}

	return azblob.NewTokenCredential("", tokenRefresher), nil
}

// NewAzureBlobstore creates a storage client, suitable for use with
// serverenv.ServerEnv.
func NewAzureBlobstore(_ context.Context) (*AzureBlobstore, error) {
	accountName := os.Getenv("AZURE_STORAGE_ACCOUNT")
	if accountName == "" {
		return nil, fmt.Errorf("missing AZURE_STORAGE_ACCOUNT")
	}

	primaryURLRaw := fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	primaryURL, err := url.Parse(primaryURLRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %v: %w", primaryURLRaw, err)
	}

	// Use the storage account key if provided, otherwise use managed
	// identity.
	var credential azblob.Credential
	if accountKey := os.Getenv("AZURE_STORAGE_ACCESS_KEY"); accountKey != "" {
		credential, err = newAccessTokenCredential(accountName, accountKey)
		if err != nil {
			return nil, err
		}
	} else {
		credential, err = newMSITokenCredential(primaryURLRaw)
		if err != nil {
			return nil, err
		}
	}

	p := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	serviceURL := azblob.NewServiceURL(*primaryURL, p)

	return &AzureBlobstore{
		serviceURL: &serviceURL,
	}, nil
}

// CreateObject creates a new blobstore object or overwrites an existing one.
func (s *AzureBlobstore) CreateObject(ctx context.Context, container, name string, contents []byte, cacheable bool) error {
	cacheControl := "public, max-age=86400"
	if !cacheable {
		cacheControl = "no-cache, max-age=0"
	}

	blobURL := s.serviceURL.NewContainerURL(container).NewBlockBlobURL(name)
	if _, err := azblob.UploadBufferToBlockBlob(ctx, contents, blobURL, azblob.UploadToBlockBlobOptions{
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			CacheControl: cacheControl,
		},
	}); err != nil {
		return fmt.Errorf("storage.CreateObject: %w", err)
	}
	return nil
}

// CopyObject copies the source blob over the destination blob. The contents
// are read back and re-uploaded as a block blob, which commits in a single
// operation, so readers see either the old or the new destination.
func (s *AzureBlobstore) CopyObject(ctx context.Context, container, srcName, dstName string) error {
	contents, err := s.GetObject(ctx, container, srcName)
	if err != nil {
		return fmt.Errorf("failed to copy %q: %w", srcName, err)
	}
	return s.CreateObject(ctx, container, dstName, contents, false)
}

// DeleteObject deletes a blobstore object, returns nil if the object was
// successfully deleted, or if the object doesn't exist.
func (s *AzureBlobstore) DeleteObject(ctx context.Context, container, name string) error {
	blobURL := s.serviceURL.NewContainerURL(container).NewBlockBlobURL(name)
	if _, err := blobURL.Delete(ctx, azblob.DeleteSnapshotsOptionInclude, azblob.BlobAccessConditions{}); err != nil {
		if terr, ok := err.(azblob.StorageError); ok && terr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			// already deleted
			return nil
		}
		return fmt.Errorf("storage.DeleteObject: %w", err)
	}
	return nil
}

// GetObject returns the contents for the given object. If the object does
// not exist, it returns ErrNotFound.
func (s *AzureBlobstore) GetObject(ctx context.Context, container, name string) ([]byte, error) {
	blobURL := s.serviceURL.NewContainerURL(container).NewBlockBlobURL(name)
	dr, err := blobURL.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
	if err != nil {
		if terr, ok := err.(azblob.StorageError); ok && terr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to download object: %w", err)
	}

	body := dr.Body(azblob.RetryReaderOptions{MaxRetryRequests: 5})
	defer body.Close()

	var b bytes.Buffer
	if _, err := io.Copy(&b, body); err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	return b.Bytes(), nil
}
