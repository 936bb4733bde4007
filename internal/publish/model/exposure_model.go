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

// Package model contains the exposure representation shared between the
// publish (ingestion) side and the export engine. The export engine only ever
// reads these records.
package model

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rotwarn/exposure-key-server/pkg/base64util"
)

const (
	// KeyLength is the length, in bytes, of a temporary exposure key.
	KeyLength = 16

	// IntervalLength is the duration of a single rolling interval.
	IntervalLength = 600 * time.Second

	// MaxIntervalCount is the maximum number of intervals a key is valid for,
	// one full day.
	MaxIntervalCount = 144
)

// Diagnosis types attached to published exposures. Only red and yellow
// warnings participate in exports; green ("all clear") records are retained
// for statistics but never leave the database.
const (
	DiagnosisTypeRedWarning    = "red-warning"
	DiagnosisTypeYellowWarning = "yellow-warning"
	DiagnosisTypeGreenWarning  = "green-warning"
)

// ValidDiagnosisType reports whether s is one of the known diagnosis types.
func ValidDiagnosisType(s string) bool {
	switch s {
	case DiagnosisTypeRedWarning, DiagnosisTypeYellowWarning, DiagnosisTypeGreenWarning:
		return true
	}
	return false
}

// Exposure represents a single temporary exposure key as stored in the
// database. The key bytes are raw; they are base64 in transit only.
type Exposure struct {
	ID               int64     `db:"id"`
	ExposureKey      []byte    `db:"exposure_key"`
	TransmissionRisk int       `db:"transmission_risk"`
	Region           string    `db:"region"`
	DiagnosisType    string    `db:"diagnosis_type"`
	IntervalNumber   int32     `db:"interval_number"`
	IntervalCount    int32     `db:"interval_count"`
	CreatedAt        time.Time `db:"created_at"`
}

// ExposureKeyBase64 encodes the raw key bytes for transit.
func (e *Exposure) ExposureKeyBase64() string {
	return base64.StdEncoding.EncodeToString(e.ExposureKey)
}

// SetExposureKeyFromBase64 decodes the given base64 string (any alphabet,
// padded or not) into the raw key bytes.
func (e *Exposure) SetExposureKeyFromBase64(s string) error {
	b, err := base64util.DecodeString(s)
	if err != nil {
		return fmt.Errorf("failed to decode exposure key: %w", err)
	}
	if len(b) != KeyLength {
		return fmt.Errorf("exposure key is %d bytes, want %d", len(b), KeyLength)
	}
	e.ExposureKey = b
	return nil
}

// Validate checks that the record satisfies the published-exposure
// invariants.
func (e *Exposure) Validate() error {
	if len(e.ExposureKey) != KeyLength {
		return fmt.Errorf("exposure key is %d bytes, want %d", len(e.ExposureKey), KeyLength)
	}
	if e.IntervalNumber < 0 {
		return fmt.Errorf("interval number %d is negative", e.IntervalNumber)
	}
	if e.IntervalCount < 1 || e.IntervalCount > MaxIntervalCount {
		return fmt.Errorf("interval count %d outside of allowed range [1, %d]", e.IntervalCount, MaxIntervalCount)
	}
	if e.Region == "" {
		return fmt.Errorf("missing region")
	}
	if !ValidDiagnosisType(e.DiagnosisType) {
		return fmt.Errorf("invalid diagnosis type %q", e.DiagnosisType)
	}
	return nil
}

// IntervalNumber calculates the exposure notification system interval number
// based on the input time. All interval math is done in UTC.
func IntervalNumber(t time.Time) int32 {
	return int32(t.UTC().Unix() / int64(IntervalLength.Seconds()))
}

// TimeForIntervalNumber returns the time at which a specific interval starts.
// This is done by turning the interval number into the corresponding unix
// timestamp, multiplying by 600 seconds (10 minutes).
func TimeForIntervalNumber(interval int32) time.Time {
	return time.Unix(int64(IntervalLength.Seconds())*int64(interval), 0).UTC()
}
