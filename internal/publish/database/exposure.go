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

// Package database reads and writes published exposures.
package database

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotwarn/exposure-key-server/internal/database"
	"github.com/rotwarn/exposure-key-server/internal/publish/model"
	"github.com/rotwarn/exposure-key-server/pkg/base64util"

	pgx "github.com/jackc/pgx/v4"
)

// InsertExposuresBatchSize is the maximum number of exposures inserted in a
// single transaction.
const InsertExposuresBatchSize = 500

type PublishDB struct {
	db *database.DB
}

func New(db *database.DB) *PublishDB {
	return &PublishDB{
		db: db,
	}
}

// IterateExposuresCriteria is criteria to iterate exposures.
type IterateExposuresCriteria struct {
	// Region and DiagnosisType restrict the iteration to exposures published
	// for that region with that diagnosis. Both are required for exports.
	Region        string
	DiagnosisType string

	// SinceTimestamp is inclusive, UntilTimestamp is exclusive. Publish times
	// are truncated to a window boundary on ingestion, so a key that arrives
	// during an open export window is recorded at the start of that window.
	// An inclusive lower bound keeps such keys in the current batch instead of
	// losing them to the already-processed previous one.
	SinceTimestamp time.Time
	UntilTimestamp time.Time

	LastCursor string
}

// IterateExposures calls f on each Exposure in the database that matches the
// given criteria, ordered by publish time. If f returns an error, the
// iteration stops, and the returned error will match f's error with
// errors.Is.
//
// If an error occurs during the query, IterateExposures returns a non-empty
// string along with a non-nil error. That string, when passed as
// criteria.LastCursor in a subsequent call, continues the iteration at the
// failed row. On success the first return value is the empty string.
func (db *PublishDB) IterateExposures(ctx context.Context, criteria IterateExposuresCriteria, f func(*model.Exposure) error) (cur string, err error) {
	conn, err := db.db.Pool.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	offset := 0
	if criteria.LastCursor != "" {
		offsetStr, err := decodeCursor(criteria.LastCursor)
		if err != nil {
			return "", fmt.Errorf("failed to decode cursor: %w", err)
		}
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return "", fmt.Errorf("failed to decode cursor: %w", err)
		}
	}

	query, args := generateExposureQuery(criteria)

	// The cursor is a plain row offset. Export queries run strictly behind
	// the ingestion window and ahead of cleanup, so the offset is stable for
	// the lifetime of a batch.
	cursor := func() string { return encodeCursor(strconv.Itoa(offset)) }

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return cursor(), err
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return cursor(), err
		}
		var (
			m          model.Exposure
			encodedKey string
		)
		if err := rows.Scan(&encodedKey, &m.TransmissionRisk, &m.Region, &m.DiagnosisType,
			&m.IntervalNumber, &m.IntervalCount, &m.CreatedAt); err != nil {
			return cursor(), err
		}
		if m.ExposureKey, err = decodeExposureKey(encodedKey); err != nil {
			return cursor(), err
		}
		if err := f(&m); err != nil {
			return cursor(), err
		}
		offset++
	}
	if err := rows.Err(); err != nil {
		return cursor(), err
	}
	return "", nil
}

func generateExposureQuery(criteria IterateExposuresCriteria) (string, []interface{}) {
	var args []interface{}
	q := `
		SELECT
			exposure_key, transmission_risk, region, diagnosis_type,
			interval_number, interval_count, created_at
		FROM
			Exposure
		WHERE 1=1
	`

	if criteria.Region != "" {
		args = append(args, criteria.Region)
		q += fmt.Sprintf(" AND region = $%d", len(args))
	}

	if criteria.DiagnosisType != "" {
		args = append(args, criteria.DiagnosisType)
		q += fmt.Sprintf(" AND diagnosis_type = $%d", len(args))
	}

	if !criteria.SinceTimestamp.IsZero() {
		args = append(args, criteria.SinceTimestamp)
		q += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}

	if !criteria.UntilTimestamp.IsZero() {
		args = append(args, criteria.UntilTimestamp)
		q += fmt.Sprintf(" AND created_at < $%d", len(args))
	}

	q += " ORDER BY created_at, exposure_key"

	if criteria.LastCursor != "" {
		if decoded, err := decodeCursor(criteria.LastCursor); err == nil {
			args = append(args, decoded)
			q += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}
	q = strings.ReplaceAll(q, "\n", " ")

	return q, args
}

// InsertExposures writes the given exposures, skipping any whose key already
// exists. It returns the number of rows actually inserted.
func (db *PublishDB) InsertExposures(ctx context.Context, incoming []*model.Exposure) (int, error) {
	inserted := 0
	err := db.db.InTx(ctx, pgx.ReadCommitted, func(tx pgx.Tx) error {
		const stmtName = "insert exposures"
		if _, err := tx.Prepare(ctx, stmtName, `
			INSERT INTO
				Exposure
					(exposure_key, transmission_risk, region, diagnosis_type,
					 interval_number, interval_count, created_at)
			VALUES
				($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (exposure_key) DO NOTHING
		`); err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}

		for _, exp := range incoming {
			result, err := tx.Exec(ctx, stmtName,
				encodeExposureKey(exp.ExposureKey), exp.TransmissionRisk,
				exp.Region, exp.DiagnosisType,
				exp.IntervalNumber, exp.IntervalCount, exp.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert exposure: %w", err)
			}
			inserted += int(result.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// CountExposures returns the total number of stored exposures matching the
// criteria's region and diagnosis type.
func (db *PublishDB) CountExposures(ctx context.Context, criteria IterateExposuresCriteria) (int64, error) {
	var args []interface{}
	q := `SELECT COUNT(*) FROM Exposure WHERE 1=1`
	if criteria.Region != "" {
		args = append(args, criteria.Region)
		q += fmt.Sprintf(" AND region = $%d", len(args))
	}
	if criteria.DiagnosisType != "" {
		args = append(args, criteria.DiagnosisType)
		q += fmt.Sprintf(" AND diagnosis_type = $%d", len(args))
	}

	var count int64
	if err := db.db.Pool.QueryRow(ctx, q, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count exposures: %w", err)
	}
	return count, nil
}

func encodeCursor(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

func decodeCursor(encoded string) (string, error) {
	b, err := base64util.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode cursor: %w", err)
	}
	return string(b), nil
}

func encodeExposureKey(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodeExposureKey(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
