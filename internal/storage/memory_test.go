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
	"errors"
	"testing"

	"github.com/rotwarn/exposure-key-server/internal/project"
)

func TestMemory_lifecycle(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	s, err := NewMemory(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.CreateObject(ctx, "bucket", "object", []byte("contents"), false); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetObject(ctx, "bucket", "object")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("contents")) {
		t.Errorf("got %q, want %q", got, "contents")
	}

	if _, err := s.GetObject(ctx, "bucket", "nonexistent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	if err := s.DeleteObject(ctx, "bucket", "object"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetObject(ctx, "bucket", "object"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	// Deleting a deleted object is not an error.
	if err := s.DeleteObject(ctx, "bucket", "object"); err != nil {
		t.Fatal(err)
	}
}

func TestMemory_CopyObject(t *testing.T) {
	t.Parallel()

	ctx := project.TestContext(t)
	s, err := NewMemory(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.CreateObject(ctx, "bucket", "src", []byte("new"), false); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateObject(ctx, "bucket", "dst", []byte("old"), false); err != nil {
		t.Fatal(err)
	}

	// Copying replaces an existing destination.
	if err := s.CopyObject(ctx, "bucket", "src", "dst"); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetObject(ctx, "bucket", "dst")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("new")) {
		t.Errorf("got %q, want %q", got, "new")
	}

	// The copy is independent of the source.
	if err := s.CreateObject(ctx, "bucket", "src", []byte("changed"), false); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetObject(ctx, "bucket", "dst")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("new")) {
		t.Errorf("got %q, want %q", got, "new")
	}

	// A missing source is an error.
	if err := s.CopyObject(ctx, "bucket", "nonexistent", "dst"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
