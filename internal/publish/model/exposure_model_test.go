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
	"strings"
	"testing"
	"time"

	"github.com/rotwarn/exposure-key-server/internal/project"
	"github.com/rotwarn/exposure-key-server/pkg/errcmp"
)

func TestIntervalNumber(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		time time.Time
		want int32
	}{
		{
			name: "epoch",
			time: time.Unix(0, 0),
			want: 0,
		},
		{
			name: "just_before_second_interval",
			time: time.Unix(599, 0),
			want: 0,
		},
		{
			name: "second_interval",
			time: time.Unix(600, 0),
			want: 1,
		},
		{
			name: "not_utc",
			time: time.Unix(7200, 0).In(time.FixedZone("UTC+5", 5*60*60)),
			want: 12,
		},
		{
			name: "modern_date",
			time: time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC),
			want: 2647152,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := IntervalNumber(tc.time); got != tc.want {
				t.Errorf("IntervalNumber(%v) = %v, want %v", tc.time, got, tc.want)
			}
		})
	}
}

func TestTimeForIntervalNumber(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		interval int32
		want     time.Time
	}{
		{
			name:     "epoch",
			interval: 0,
			want:     time.Unix(0, 0).UTC(),
		},
		{
			name:     "second_interval",
			interval: 1,
			want:     time.Unix(600, 0).UTC(),
		},
		{
			name:     "modern_date",
			interval: 2647152,
			want:     time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := TimeForIntervalNumber(tc.interval); !got.Equal(tc.want) {
				t.Errorf("TimeForIntervalNumber(%v) = %v, want %v", tc.interval, got, tc.want)
			}
		})
	}
}

func TestIntervalRoundTrip(t *testing.T) {
	t.Parallel()

	// The interval number of an interval's start time is the interval itself,
	// and mapping a time through its interval number truncates the time to
	// the enclosing interval boundary.
	for _, interval := range []int32{0, 1, 144, 2647152, 1<<31 - 1} {
		if got := IntervalNumber(TimeForIntervalNumber(interval)); got != interval {
			t.Errorf("round trip of interval %d returned %d", interval, got)
		}
	}

	ts := time.Date(2020, 5, 1, 12, 34, 56, 0, time.UTC)
	want := time.Date(2020, 5, 1, 12, 30, 0, 0, time.UTC)
	if got := TimeForIntervalNumber(IntervalNumber(ts)); !got.Equal(want) {
		t.Errorf("round trip of time %v returned %v, want %v", ts, got, want)
	}
}

func TestExposureKeyBase64(t *testing.T) {
	t.Parallel()

	key, err := project.RandomBytes(KeyLength)
	if err != nil {
		t.Fatal(err)
	}

	var e Exposure
	if err := e.SetExposureKeyFromBase64((&Exposure{ExposureKey: key}).ExposureKeyBase64()); err != nil {
		t.Fatal(err)
	}
	if got, want := e.ExposureKeyBase64(), (&Exposure{ExposureKey: key}).ExposureKeyBase64(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if err := e.SetExposureKeyFromBase64("tooshort"); err == nil {
		t.Errorf("expected error for short key")
	}
}

func TestExposureValidate(t *testing.T) {
	t.Parallel()

	valid := func(tb testing.TB) *Exposure {
		tb.Helper()
		key, err := project.RandomBytes(KeyLength)
		if err != nil {
			tb.Fatal(err)
		}
		return &Exposure{
			ExposureKey:      key,
			TransmissionRisk: 4,
			Region:           "US",
			DiagnosisType:    DiagnosisTypeRedWarning,
			IntervalNumber:   2647152,
			IntervalCount:    144,
			CreatedAt:        time.Now().UTC(),
		}
	}

	cases := []struct {
		name   string
		mutate func(e *Exposure)
		err    string
	}{
		{
			name:   "valid",
			mutate: func(e *Exposure) {},
		},
		{
			name:   "short_key",
			mutate: func(e *Exposure) { e.ExposureKey = e.ExposureKey[:8] },
			err:    "exposure key is 8 bytes",
		},
		{
			name:   "negative_interval_number",
			mutate: func(e *Exposure) { e.IntervalNumber = -1 },
			err:    "is negative",
		},
		{
			name:   "zero_interval_count",
			mutate: func(e *Exposure) { e.IntervalCount = 0 },
			err:    "outside of allowed range",
		},
		{
			name:   "excessive_interval_count",
			mutate: func(e *Exposure) { e.IntervalCount = MaxIntervalCount + 1 },
			err:    "outside of allowed range",
		},
		{
			name:   "missing_region",
			mutate: func(e *Exposure) { e.Region = "" },
			err:    "missing region",
		},
		{
			name:   "bad_diagnosis_type",
			mutate: func(e *Exposure) { e.DiagnosisType = "purple-warning" },
			err:    "invalid diagnosis type",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			e := valid(t)
			tc.mutate(e)
			errcmp.MustMatch(t, e.Validate(), tc.err)
		})
	}
}

func TestValidDiagnosisType(t *testing.T) {
	t.Parallel()

	for _, d := range []string{DiagnosisTypeRedWarning, DiagnosisTypeYellowWarning, DiagnosisTypeGreenWarning} {
		if !ValidDiagnosisType(d) {
			t.Errorf("ValidDiagnosisType(%q) = false, want true", d)
		}
	}
	for _, d := range []string{"", "red", strings.ToUpper(DiagnosisTypeRedWarning)} {
		if ValidDiagnosisType(d) {
			t.Errorf("ValidDiagnosisType(%q) = true, want false", d)
		}
	}
}
