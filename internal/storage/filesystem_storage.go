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
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
)

// Compile-time check to verify implements interface.
var _ Blobstore = (*FilesystemStorage)(nil)

// FilesystemStorage implements Blobstore and provides the ability to write
// files to the filesystem.
type FilesystemStorage struct{}

// NewFilesystemStorage creates a Blobstore compatible storage for the
// filesystem.
func NewFilesystemStorage(_ context.Context) (*FilesystemStorage, error) {
	return &FilesystemStorage{}, nil
}

// CreateObject creates a new object on the filesystem or overwrites an
// existing one.
func (s *FilesystemStorage) CreateObject(_ context.Context, folder, filename string, contents []byte, cacheable bool) error {
	pth := filepath.Join(folder, filename)
	if err := os.MkdirAll(filepath.Dir(pth), 0o700); err != nil {
		return fmt.Errorf("failed to create directories for %q: %w", pth, err)
	}
	if err := ioutil.WriteFile(pth, contents, 0o600); err != nil {
		return fmt.Errorf("failed to create object %q: %w", pth, err)
	}
	return nil
}

// CopyObject copies the source file over the destination file. The contents
// are written to a temporary file in the destination directory first and
// moved into place with a rename, so the destination is replaced atomically.
func (s *FilesystemStorage) CopyObject(ctx context.Context, folder, srcName, dstName string) error {
	contents, err := s.GetObject(ctx, folder, srcName)
	if err != nil {
		return fmt.Errorf("failed to copy %q: %w", srcName, err)
	}

	pth := filepath.Join(folder, dstName)
	if err := os.MkdirAll(filepath.Dir(pth), 0o700); err != nil {
		return fmt.Errorf("failed to create directories for %q: %w", pth, err)
	}

	tmp, err := ioutil.TempFile(filepath.Dir(pth), "."+filepath.Base(pth)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to chmod temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), pth); err != nil {
		return fmt.Errorf("failed to replace object %q: %w", pth, err)
	}
	return nil
}

// DeleteObject deletes an object from the filesystem. It returns nil if the
// object was deleted or if the object no longer exists.
func (s *FilesystemStorage) DeleteObject(_ context.Context, folder, filename string) error {
	if err := os.Remove(filepath.Join(folder, filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// GetObject returns the contents for the given object. If the object does not
// exist, it returns ErrNotFound.
func (s *FilesystemStorage) GetObject(_ context.Context, folder, filename string) ([]byte, error) {
	b, err := ioutil.ReadFile(filepath.Join(folder, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return b, nil
}
