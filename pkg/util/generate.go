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

// Package util generates random exposure key data for tests and seeding
// tools.
package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/rotwarn/exposure-key-server/internal/project"
	"github.com/rotwarn/exposure-key-server/internal/publish/model"
	"github.com/rotwarn/exposure-key-server/pkg/timeutils"
)

// maxTransmissionRisk is the upper bound of the transmission risk scale.
const maxTransmissionRisk = 8

// RandomIntervalCount produces a random valid interval count.
func RandomIntervalCount() (int32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(model.MaxIntervalCount))
	if err != nil {
		return 0, err
	}
	return int32(n.Int64() + 1), nil // valid values start at 1
}

// RandomInt produces a random integer up to but not including maxValue.
func RandomInt(maxValue int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(maxValue)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

// RandomTransmissionRisk produces a random transmission risk score.
func RandomTransmissionRisk() (int, error) {
	n, err := RandomInt(maxTransmissionRisk)
	return n + 1, err
}

// RandomDiagnosisType produces a random diagnosis type.
func RandomDiagnosisType() (string, error) {
	n, err := RandomInt(3)
	if err != nil {
		return "", err
	}
	switch n {
	case 0:
		return model.DiagnosisTypeRedWarning, nil
	case 1:
		return model.DiagnosisTypeYellowWarning, nil
	}
	return model.DiagnosisTypeGreenWarning, nil
}

// RandomTEK generates a new random 16-byte temporary exposure key.
func RandomTEK() ([]byte, error) {
	return project.RandomBytes(model.KeyLength)
}

// RandomExposure creates a random exposure for the given region, diagnosis
// type and publish time.
func RandomExposure(region, diagnosisType string, createdAt time.Time) (*model.Exposure, error) {
	key, err := RandomTEK()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	intervalCount, err := RandomIntervalCount()
	if err != nil {
		return nil, fmt.Errorf("failed to generate interval count: %w", err)
	}
	transmissionRisk, err := RandomTransmissionRisk()
	if err != nil {
		return nil, fmt.Errorf("failed to generate transmission risk: %w", err)
	}

	// Keys normally align to UTC day boundaries and cover intervals that end
	// before the publish time.
	utcDay := timeutils.UTCMidnight(createdAt.UTC())
	intervalNumber := model.IntervalNumber(utcDay) - intervalCount

	return &model.Exposure{
		ExposureKey:      key,
		TransmissionRisk: transmissionRisk,
		Region:           region,
		DiagnosisType:    diagnosisType,
		IntervalNumber:   intervalNumber,
		IntervalCount:    intervalCount,
		CreatedAt:        createdAt,
	}, nil
}

// GenerateExposures creates num random exposures for the given region,
// diagnosis type and publish time. Successive keys recede further into the
// past, one interval span per key.
func GenerateExposures(num int, region, diagnosisType string, createdAt time.Time) ([]*model.Exposure, error) {
	exposures := make([]*model.Exposure, 0, num)
	for i := 0; i < num; i++ {
		exp, err := RandomExposure(region, diagnosisType, createdAt)
		if err != nil {
			return nil, err
		}
		exp.IntervalNumber -= int32(i) * model.MaxIntervalCount
		exposures = append(exposures, exp)
	}
	return exposures, nil
}
