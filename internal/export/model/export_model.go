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

// Package model is a model abstraction of export configurations, archives,
// and the published index file.
package model

import (
	"errors"
	"fmt"
	"time"
)

// Status values for an ExportFile row.
const (
	ExportFileCreated = "EXPORT_FILE_CREATED"
	ExportFileDeleted = "EXPORT_FILE_DELETED"
)

// ExportConfig describes one export pipeline: which region to export, where
// the archives go, and how far back each of the rolling windows reaches. A
// config is active between From and Thru; a zero Thru means no end.
type ExportConfig struct {
	ConfigID          int64     `db:"config_id"`
	BucketName        string    `db:"bucket_name"`
	FilenameRoot      string    `db:"filename_root"`
	Region            string    `db:"region"`
	BigFileDays       int       `db:"big_file_days"`
	MediumFileDays    int       `db:"medium_file_days"`
	DailyFilesDays    int       `db:"daily_files_days"`
	RedWarningDays    int       `db:"red_warning_days"`
	YellowWarningDays int       `db:"yellow_warning_days"`
	SignatureInfoIDs  []int64   `db:"signature_info_ids"`
	From              time.Time `db:"from_timestamp"`
	Thru              time.Time `db:"thru_timestamp"`
}

// Validate checks internal consistency before a config is persisted.
func (ec *ExportConfig) Validate() error {
	if ec.BucketName == "" {
		return errors.New("bucket name cannot be empty")
	}
	if ec.FilenameRoot == "" {
		return errors.New("filename root cannot be empty")
	}
	if ec.Region == "" {
		return errors.New("region cannot be empty")
	}
	for _, w := range []struct {
		name string
		days int
	}{
		{"big file", ec.BigFileDays},
		{"medium file", ec.MediumFileDays},
		{"daily files", ec.DailyFilesDays},
		{"red warning", ec.RedWarningDays},
		{"yellow warning", ec.YellowWarningDays},
	} {
		if w.days <= 0 {
			return fmt.Errorf("%s window must be a positive number of days, got %d", w.name, w.days)
		}
	}
	return nil
}

// ActiveAt reports whether the config should be exported at time t.
func (ec *ExportConfig) ActiveAt(t time.Time) bool {
	if ec.From.After(t) {
		return false
	}
	return ec.Thru.IsZero() || ec.Thru.After(t)
}

// SignatureInfo carries the verification metadata that is embedded in every
// exported archive so that devices can select the right public key. The
// signing itself is done with the server's process-wide key; rotating that
// key means inserting a new SignatureInfo and retiring the old one via
// EndTimestamp.
type SignatureInfo struct {
	ID                int64     `db:"id"`
	SigningKeyVersion string    `db:"signing_key_version"`
	SigningKeyID      string    `db:"signing_key_id"`
	EndTimestamp      time.Time `db:"thru_timestamp"`
}

// Expired reports whether this signature info should no longer be attached
// to new archives at time t. A zero EndTimestamp never expires.
func (si *SignatureInfo) Expired(t time.Time) bool {
	if si.EndTimestamp.IsZero() {
		return false
	}
	return si.EndTimestamp.Before(t)
}

// FormattedEndTimestamp returns the end timestamp for display, or empty if
// the info does not expire.
func (si *SignatureInfo) FormattedEndTimestamp() string {
	if si.EndTimestamp.IsZero() {
		return ""
	}
	return si.EndTimestamp.UTC().Format(time.RFC3339)
}

// ExportFile records a single object written to the blobstore, keyed by the
// object name. Rows are kept so cleanup can later delete aged-out archives
// and so the index for a config can be rebuilt.
type ExportFile struct {
	Filename   string    `db:"filename"`
	BucketName string    `db:"bucket_name"`
	ConfigID   int64     `db:"config_id"`
	Region     string    `db:"region"`
	FileDate   time.Time `db:"file_timestamp"`
	Status     string    `db:"status"`
}

// IndexFile is the manifest clients poll to discover archives. The field
// names are a public contract with released mobile clients and must not
// change.
type IndexFile struct {
	FullBigBatch    *IndexFileBatch   `json:"fullBigBatch"`
	FullMediumBatch *IndexFileBatch   `json:"fullMediumBatch"`
	DailyBatches    []*IndexFileBatch `json:"dailyBatches"`
}

// IndexFileBatch names the archives of one batch along with the interval
// number at which the batch's window starts.
type IndexFileBatch struct {
	IntervalNumber int64    `json:"intervalNumber"`
	Files          []string `json:"files"`
}
