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

package database

import (
	"errors"
	"testing"
	"time"

	"github.com/rotwarn/exposure-key-server/internal/database"
	"github.com/rotwarn/exposure-key-server/internal/export/model"
	"github.com/rotwarn/exposure-key-server/internal/project"
	"github.com/rotwarn/exposure-key-server/internal/storage"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var approxTime = cmp.Options{cmpopts.EquateApproxTime(time.Second)}

func testExportConfig(t testing.TB) *model.ExportConfig {
	t.Helper()
	return &model.ExportConfig{
		BucketName:        "some-bucket",
		FilenameRoot:      "exports",
		Region:            "AT",
		BigFileDays:       14,
		MediumFileDays:    7,
		DailyFilesDays:    14,
		RedWarningDays:    14,
		YellowWarningDays: 7,
		From:              time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAddRetrieveExportConfig(t *testing.T) {
	t.Parallel()

	testDB := database.NewTestDatabase(t)
	exportDB := New(testDB)
	ctx := project.TestContext(t)

	want := testExportConfig(t)
	want.SignatureInfoIDs = []int64{42, 84}
	want.Thru = time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)
	if err := exportDB.AddExportConfig(ctx, want); err != nil {
		t.Fatalf("AddExportConfig: %v", err)
	}
	if want.ConfigID == 0 {
		t.Fatal("AddExportConfig did not assign a config ID")
	}

	got, err := exportDB.GetExportConfig(ctx, want.ConfigID)
	if err != nil {
		t.Fatalf("GetExportConfig: %v", err)
	}
	if diff := cmp.Diff(want, got, approxTime); diff != "" {
		t.Errorf("config mismatch (-want, +got):\n%s", diff)
	}

	if _, err := exportDB.GetExportConfig(ctx, want.ConfigID+1000); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("GetExportConfig for missing ID: got %v, want ErrNotFound", err)
	}
}

func TestAddExportConfigInvalid(t *testing.T) {
	t.Parallel()

	testDB := database.NewTestDatabase(t)
	exportDB := New(testDB)
	ctx := project.TestContext(t)

	ec := testExportConfig(t)
	ec.BigFileDays = 0
	if err := exportDB.AddExportConfig(ctx, ec); err == nil {
		t.Fatal("AddExportConfig with invalid window: got nil, want error")
	}
}

func TestUpdateExportConfig(t *testing.T) {
	t.Parallel()

	testDB := database.NewTestDatabase(t)
	exportDB := New(testDB)
	ctx := project.TestContext(t)

	ec := testExportConfig(t)
	if err := exportDB.AddExportConfig(ctx, ec); err != nil {
		t.Fatalf("AddExportConfig: %v", err)
	}

	ec.FilenameRoot = "exports/v2"
	ec.MediumFileDays = 10
	ec.SignatureInfoIDs = []int64{7}
	if err := exportDB.UpdateExportConfig(ctx, ec); err != nil {
		t.Fatalf("UpdateExportConfig: %v", err)
	}

	got, err := exportDB.GetExportConfig(ctx, ec.ConfigID)
	if err != nil {
		t.Fatalf("GetExportConfig: %v", err)
	}
	if diff := cmp.Diff(ec, got, approxTime); diff != "" {
		t.Errorf("config mismatch (-want, +got):\n%s", diff)
	}
}

func TestGetAllDueExportConfigs(t *testing.T) {
	t.Parallel()

	testDB := database.NewTestDatabase(t)
	exportDB := New(testDB)
	ctx := project.TestContext(t)

	now := time.Date(2020, 5, 15, 12, 0, 0, 0, time.UTC)

	openEnded := testExportConfig(t)
	openEnded.From = now.Add(-24 * time.Hour)

	windowed := testExportConfig(t)
	windowed.From = now.Add(-24 * time.Hour)
	windowed.Thru = now.Add(24 * time.Hour)

	future := testExportConfig(t)
	future.From = now.Add(24 * time.Hour)

	ended := testExportConfig(t)
	ended.From = now.Add(-48 * time.Hour)
	ended.Thru = now.Add(-24 * time.Hour)

	for _, ec := range []*model.ExportConfig{openEnded, windowed, future, ended} {
		if err := exportDB.AddExportConfig(ctx, ec); err != nil {
			t.Fatalf("AddExportConfig: %v", err)
		}
	}

	got, err := exportDB.GetAllDueExportConfigs(ctx, now)
	if err != nil {
		t.Fatalf("GetAllDueExportConfigs: %v", err)
	}
	want := []*model.ExportConfig{openEnded, windowed}
	if diff := cmp.Diff(want, got, approxTime); diff != "" {
		t.Errorf("due configs mismatch (-want, +got):\n%s", diff)
	}

	all, err := exportDB.GetAllExportConfigs(ctx)
	if err != nil {
		t.Fatalf("GetAllExportConfigs: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("GetAllExportConfigs: got %d configs, want 4", len(all))
	}
}

func TestAddRetrieveSignatureInfo(t *testing.T) {
	t.Parallel()

	testDB := database.NewTestDatabase(t)
	exportDB := New(testDB)
	ctx := project.TestContext(t)

	want := &model.SignatureInfo{
		SigningKeyVersion: "v1",
		SigningKeyID:      "310",
		EndTimestamp:      time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := exportDB.AddSignatureInfo(ctx, want); err != nil {
		t.Fatalf("AddSignatureInfo: %v", err)
	}
	if want.ID == 0 {
		t.Fatal("AddSignatureInfo did not assign an ID")
	}

	got, err := exportDB.GetSignatureInfo(ctx, want.ID)
	if err != nil {
		t.Fatalf("GetSignatureInfo: %v", err)
	}
	if diff := cmp.Diff(want, got, approxTime); diff != "" {
		t.Errorf("signature info mismatch (-want, +got):\n%s", diff)
	}

	want.SigningKeyVersion = "v2"
	want.EndTimestamp = time.Time{}
	if err := exportDB.UpdateSignatureInfo(ctx, want); err != nil {
		t.Fatalf("UpdateSignatureInfo: %v", err)
	}
	got, err = exportDB.GetSignatureInfo(ctx, want.ID)
	if err != nil {
		t.Fatalf("GetSignatureInfo: %v", err)
	}
	if diff := cmp.Diff(want, got, approxTime); diff != "" {
		t.Errorf("signature info after update mismatch (-want, +got):\n%s", diff)
	}
}

func TestLookupSignatureInfosFiltersExpired(t *testing.T) {
	t.Parallel()

	testDB := database.NewTestDatabase(t)
	exportDB := New(testDB)
	ctx := project.TestContext(t)

	now := time.Date(2020, 5, 15, 12, 0, 0, 0, time.UTC)

	current := &model.SignatureInfo{SigningKeyVersion: "v1", SigningKeyID: "310"}
	rotating := &model.SignatureInfo{SigningKeyVersion: "v2", SigningKeyID: "310", EndTimestamp: now.Add(time.Hour)}
	expired := &model.SignatureInfo{SigningKeyVersion: "v0", SigningKeyID: "310", EndTimestamp: now.Add(-time.Hour)}

	ids := make([]int64, 0, 3)
	for _, si := range []*model.SignatureInfo{current, rotating, expired} {
		if err := exportDB.AddSignatureInfo(ctx, si); err != nil {
			t.Fatalf("AddSignatureInfo: %v", err)
		}
		ids = append(ids, si.ID)
	}

	got, err := exportDB.LookupSignatureInfos(ctx, ids, now)
	if err != nil {
		t.Fatalf("LookupSignatureInfos: %v", err)
	}
	want := []*model.SignatureInfo{current, rotating}
	if diff := cmp.Diff(want, got, approxTime); diff != "" {
		t.Errorf("signature infos mismatch (-want, +got):\n%s", diff)
	}
}

func TestAddExportFileRefreshesExisting(t *testing.T) {
	t.Parallel()

	testDB := database.NewTestDatabase(t)
	exportDB := New(testDB)
	ctx := project.TestContext(t)

	ec := testExportConfig(t)
	if err := exportDB.AddExportConfig(ctx, ec); err != nil {
		t.Fatalf("AddExportConfig: %v", err)
	}

	first := &model.ExportFile{
		Filename:   "exports/1588291200/batch-2647152-1.zip",
		BucketName: ec.BucketName,
		ConfigID:   ec.ConfigID,
		Region:     ec.Region,
		FileDate:   time.Date(2020, 5, 2, 0, 0, 0, 0, time.UTC),
		Status:     model.ExportFileCreated,
	}
	if err := exportDB.AddExportFile(ctx, first); err != nil {
		t.Fatalf("AddExportFile: %v", err)
	}

	// A later run rewrites the same object name with a fresh timestamp.
	second := *first
	second.FileDate = time.Date(2020, 5, 3, 0, 0, 0, 0, time.UTC)
	if err := exportDB.AddExportFile(ctx, &second); err != nil {
		t.Fatalf("AddExportFile (refresh): %v", err)
	}

	got, err := exportDB.LookupExportFile(ctx, first.Filename)
	if err != nil {
		t.Fatalf("LookupExportFile: %v", err)
	}
	if diff := cmp.Diff(&second, got, approxTime); diff != "" {
		t.Errorf("export file mismatch (-want, +got):\n%s", diff)
	}

	if _, err := exportDB.LookupExportFile(ctx, "exports/1588291200/no-such-file.zip"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("LookupExportFile for missing file: got %v, want ErrNotFound", err)
	}
}

func TestDeleteFilesBefore(t *testing.T) {
	t.Parallel()

	testDB := database.NewTestDatabase(t)
	exportDB := New(testDB)
	ctx := project.TestContext(t)

	ec := testExportConfig(t)
	if err := exportDB.AddExportConfig(ctx, ec); err != nil {
		t.Fatalf("AddExportConfig: %v", err)
	}

	blobstore, err := storage.NewMemory(ctx)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}

	cutoff := time.Date(2020, 5, 15, 0, 0, 0, 0, time.UTC)
	files := []*model.ExportFile{
		{
			Filename: "exports/1589414400/batch-2648448-1.zip",
			FileDate: cutoff.Add(-24 * time.Hour),
		},
		{
			Filename: "exports/1589587200/batch-2648736-1.zip",
			FileDate: cutoff.Add(24 * time.Hour),
		},
	}
	for _, ef := range files {
		ef.BucketName = ec.BucketName
		ef.ConfigID = ec.ConfigID
		ef.Region = ec.Region
		ef.Status = model.ExportFileCreated
		if err := exportDB.AddExportFile(ctx, ef); err != nil {
			t.Fatalf("AddExportFile: %v", err)
		}
		if err := blobstore.CreateObject(ctx, ef.BucketName, ef.Filename, []byte("archive"), false); err != nil {
			t.Fatalf("CreateObject: %v", err)
		}
	}

	count, err := exportDB.DeleteFilesBefore(ctx, cutoff, blobstore)
	if err != nil {
		t.Fatalf("DeleteFilesBefore: %v", err)
	}
	if count != 1 {
		t.Errorf("DeleteFilesBefore: got %d deletions, want 1", count)
	}

	if _, err := blobstore.GetObject(ctx, ec.BucketName, "exports/1589414400/batch-2648448-1.zip"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("old object still present: %v", err)
	}
	if _, err := blobstore.GetObject(ctx, ec.BucketName, "exports/1589587200/batch-2648736-1.zip"); err != nil {
		t.Errorf("new object should remain: %v", err)
	}

	old, err := exportDB.LookupExportFile(ctx, "exports/1589414400/batch-2648448-1.zip")
	if err != nil {
		t.Fatalf("LookupExportFile: %v", err)
	}
	if old.Status != model.ExportFileDeleted {
		t.Errorf("old file status: got %q, want %q", old.Status, model.ExportFileDeleted)
	}

	remaining, err := exportDB.LookupExportFiles(ctx, ec.ConfigID)
	if err != nil {
		t.Fatalf("LookupExportFiles: %v", err)
	}
	if diff := cmp.Diff([]string{"exports/1589587200/batch-2648736-1.zip"}, remaining); diff != "" {
		t.Errorf("remaining files mismatch (-want, +got):\n%s", diff)
	}

	// A second pass has nothing left to do.
	count, err = exportDB.DeleteFilesBefore(ctx, cutoff, blobstore)
	if err != nil {
		t.Fatalf("DeleteFilesBefore (second pass): %v", err)
	}
	if count != 0 {
		t.Errorf("DeleteFilesBefore second pass: got %d deletions, want 0", count)
	}
}
