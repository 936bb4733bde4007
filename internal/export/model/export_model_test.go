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

package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rotwarn/exposure-key-server/pkg/errcmp"
)

func validConfig() *ExportConfig {
	return &ExportConfig{
		BucketName:        "my-bucket",
		FilenameRoot:      "exports",
		Region:            "AT",
		BigFileDays:       14,
		MediumFileDays:    7,
		DailyFilesDays:    14,
		RedWarningDays:    14,
		YellowWarningDays: 7,
	}
}

func TestExportConfigValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*ExportConfig)
		err    string
	}{
		{
			name:   "valid",
			mutate: func(*ExportConfig) {},
		},
		{
			name:   "missing_bucket",
			mutate: func(ec *ExportConfig) { ec.BucketName = "" },
			err:    "bucket name cannot be empty",
		},
		{
			name:   "missing_filename_root",
			mutate: func(ec *ExportConfig) { ec.FilenameRoot = "" },
			err:    "filename root cannot be empty",
		},
		{
			name:   "missing_region",
			mutate: func(ec *ExportConfig) { ec.Region = "" },
			err:    "region cannot be empty",
		},
		{
			name:   "zero_big_window",
			mutate: func(ec *ExportConfig) { ec.BigFileDays = 0 },
			err:    "big file window must be a positive number of days",
		},
		{
			name:   "negative_daily_window",
			mutate: func(ec *ExportConfig) { ec.DailyFilesDays = -1 },
			err:    "daily files window must be a positive number of days",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ec := validConfig()
			tc.mutate(ec)
			errcmp.MustMatch(t, ec.Validate(), tc.err)
		})
	}
}

func TestExportConfigActiveAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		from time.Time
		thru time.Time
		want bool
	}{
		{
			name: "open_ended",
			from: now.Add(-time.Hour),
			want: true,
		},
		{
			name: "not_yet_started",
			from: now.Add(time.Hour),
			want: false,
		},
		{
			name: "already_ended",
			from: now.Add(-2 * time.Hour),
			thru: now.Add(-time.Hour),
			want: false,
		},
		{
			name: "within_window",
			from: now.Add(-time.Hour),
			thru: now.Add(time.Hour),
			want: true,
		},
		{
			name: "starts_exactly_now",
			from: now,
			thru: now.Add(time.Hour),
			want: true,
		},
		{
			name: "ends_exactly_now",
			from: now.Add(-time.Hour),
			thru: now,
			want: false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ec := validConfig()
			ec.From = tc.from
			ec.Thru = tc.thru
			if got := ec.ActiveAt(now); got != tc.want {
				t.Errorf("ActiveAt: got %t, want %t", got, tc.want)
			}
		})
	}
}

func TestSignatureInfoExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		end  time.Time
		want bool
	}{
		{
			name: "never_expires",
			want: false,
		},
		{
			name: "expires_in_future",
			end:  now.Add(time.Minute),
			want: false,
		},
		{
			name: "expired_in_past",
			end:  now.Add(-time.Minute),
			want: true,
		},
		{
			name: "expires_exactly_now",
			end:  now,
			want: false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			si := &SignatureInfo{EndTimestamp: tc.end}
			if got := si.Expired(now); got != tc.want {
				t.Errorf("Expired: got %t, want %t", got, tc.want)
			}
		})
	}
}

// TestIndexFileJSON pins the published index format. Released clients parse
// these exact field names, so any diff here is a breaking change.
func TestIndexFileJSON(t *testing.T) {
	t.Parallel()

	index := &IndexFile{
		FullBigBatch: &IndexFileBatch{
			IntervalNumber: 2645136,
			Files:          []string{"/bucket/exports/1588291200/batch_full14-2645136-1.zip"},
		},
		FullMediumBatch: &IndexFileBatch{
			IntervalNumber: 2646144,
			Files:          []string{},
		},
		DailyBatches: []*IndexFileBatch{
			{
				IntervalNumber: 2647152,
				Files: []string{
					"/bucket/exports/1588291200/batch-2647152-1.zip",
					"/bucket/exports/1588291200/batch-2647152-2.zip",
				},
			},
		},
	}

	got, err := json.Marshal(index)
	if err != nil {
		t.Fatalf("marshal index: %v", err)
	}

	want := `{"fullBigBatch":{"intervalNumber":2645136,"files":["/bucket/exports/1588291200/batch_full14-2645136-1.zip"]},"fullMediumBatch":{"intervalNumber":2646144,"files":[]},"dailyBatches":[{"intervalNumber":2647152,"files":["/bucket/exports/1588291200/batch-2647152-1.zip","/bucket/exports/1588291200/batch-2647152-2.zip"]}]}`
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Errorf("index JSON mismatch (-want, +got):\n%s", diff)
	}
}
