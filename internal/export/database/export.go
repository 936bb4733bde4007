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

// Package database reads and writes export configurations, signature infos,
// and the bookkeeping rows for written archive files.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rotwarn/exposure-key-server/internal/database"
	"github.com/rotwarn/exposure-key-server/internal/export/model"
	"github.com/rotwarn/exposure-key-server/internal/storage"
	"github.com/rotwarn/exposure-key-server/pkg/logging"

	pgx "github.com/jackc/pgx/v4"
)

// ExportDB provides database operations for the export engine.
type ExportDB struct {
	db *database.DB
}

func New(db *database.DB) *ExportDB {
	return &ExportDB{
		db: db,
	}
}

// AddExportConfig creates a new ExportConfig record.
func (db *ExportDB) AddExportConfig(ctx context.Context, ec *model.ExportConfig) error {
	if err := ec.Validate(); err != nil {
		return err
	}

	var thru *time.Time
	if !ec.Thru.IsZero() {
		thru = &ec.Thru
	}
	return db.db.InTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO
				ExportConfig
				(bucket_name, filename_root, region, big_file_days, medium_file_days, daily_files_days,
				 red_warning_days, yellow_warning_days, signature_info_ids, from_timestamp, thru_timestamp)
			VALUES
				($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING config_id
		`, ec.BucketName, ec.FilenameRoot, ec.Region,
			ec.BigFileDays, ec.MediumFileDays, ec.DailyFilesDays,
			ec.RedWarningDays, ec.YellowWarningDays,
			ec.SignatureInfoIDs, ec.From, thru)

		if err := row.Scan(&ec.ConfigID); err != nil {
			return fmt.Errorf("fetching config_id: %w", err)
		}
		return nil
	})
}

// UpdateExportConfig updates an existing ExportConfig record.
func (db *ExportDB) UpdateExportConfig(ctx context.Context, ec *model.ExportConfig) error {
	if err := ec.Validate(); err != nil {
		return err
	}

	var thru *time.Time
	if !ec.Thru.IsZero() {
		thru = &ec.Thru
	}
	return db.db.InTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE
				ExportConfig
			SET
				bucket_name = $1, filename_root = $2, region = $3, big_file_days = $4,
				medium_file_days = $5, daily_files_days = $6, red_warning_days = $7,
				yellow_warning_days = $8, signature_info_ids = $9, from_timestamp = $10, thru_timestamp = $11
			WHERE config_id = $12
		`, ec.BucketName, ec.FilenameRoot, ec.Region,
			ec.BigFileDays, ec.MediumFileDays, ec.DailyFilesDays,
			ec.RedWarningDays, ec.YellowWarningDays,
			ec.SignatureInfoIDs, ec.From, thru, ec.ConfigID)
		if err != nil {
			return fmt.Errorf("updating exportconfig: %w", err)
		}
		if result.RowsAffected() != 1 {
			return fmt.Errorf("no rows updated")
		}
		return nil
	})
}

// GetExportConfig looks up a single export config by ID.
func (db *ExportDB) GetExportConfig(ctx context.Context, id int64) (*model.ExportConfig, error) {
	conn, err := db.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
		SELECT
			config_id, bucket_name, filename_root, region, big_file_days, medium_file_days,
			daily_files_days, red_warning_days, yellow_warning_days, signature_info_ids,
			from_timestamp, thru_timestamp
		FROM
			ExportConfig
		WHERE
			config_id = $1`, id)

	ec, err := scanOneExportConfig(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return ec, nil
}

// GetAllExportConfigs returns all export configs, due or not.
func (db *ExportDB) GetAllExportConfigs(ctx context.Context) ([]*model.ExportConfig, error) {
	conn, err := db.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT
			config_id, bucket_name, filename_root, region, big_file_days, medium_file_days,
			daily_files_days, red_warning_days, yellow_warning_days, signature_info_ids,
			from_timestamp, thru_timestamp
		FROM
			ExportConfig
		ORDER BY config_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []*model.ExportConfig{}
	for rows.Next() {
		ec, err := scanOneExportConfig(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, ec)
	}

	return results, rows.Err()
}

// GetAllDueExportConfigs returns the configs whose active window contains t,
// in ascending config ID order so runs process them deterministically.
func (db *ExportDB) GetAllDueExportConfigs(ctx context.Context, t time.Time) ([]*model.ExportConfig, error) {
	conn, err := db.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT
			config_id, bucket_name, filename_root, region, big_file_days, medium_file_days,
			daily_files_days, red_warning_days, yellow_warning_days, signature_info_ids,
			from_timestamp, thru_timestamp
		FROM
			ExportConfig
		WHERE
			from_timestamp <= $1
			AND
			(thru_timestamp IS NULL OR thru_timestamp > $1)
		ORDER BY config_id`, t)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []*model.ExportConfig{}
	for rows.Next() {
		ec, err := scanOneExportConfig(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, ec)
	}

	return results, rows.Err()
}

func scanOneExportConfig(row pgx.Row) (*model.ExportConfig, error) {
	var (
		m    model.ExportConfig
		thru *time.Time
	)
	if err := row.Scan(&m.ConfigID, &m.BucketName, &m.FilenameRoot, &m.Region,
		&m.BigFileDays, &m.MediumFileDays, &m.DailyFilesDays,
		&m.RedWarningDays, &m.YellowWarningDays,
		&m.SignatureInfoIDs, &m.From, &thru); err != nil {
		return nil, err
	}
	if thru != nil {
		m.Thru = *thru
	}
	return &m, nil
}

// AddSignatureInfo creates a new SignatureInfo record.
func (db *ExportDB) AddSignatureInfo(ctx context.Context, si *model.SignatureInfo) error {
	var thru *time.Time
	if !si.EndTimestamp.IsZero() {
		thru = &si.EndTimestamp
	}
	return db.db.InTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO
				SignatureInfo
				(signing_key_version, signing_key_id, thru_timestamp)
			VALUES
				($1, $2, $3)
			RETURNING id
			`, si.SigningKeyVersion, si.SigningKeyID, thru)

		if err := row.Scan(&si.ID); err != nil {
			return fmt.Errorf("fetching id: %w", err)
		}
		return nil
	})
}

// UpdateSignatureInfo updates an existing SignatureInfo record.
func (db *ExportDB) UpdateSignatureInfo(ctx context.Context, si *model.SignatureInfo) error {
	var thru *time.Time
	if !si.EndTimestamp.IsZero() {
		thru = &si.EndTimestamp
	}
	return db.db.InTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE SignatureInfo
			SET
				signing_key_version = $1, signing_key_id = $2, thru_timestamp = $3
			WHERE
				id = $4
			`, si.SigningKeyVersion, si.SigningKeyID, thru, si.ID)
		if err != nil {
			return fmt.Errorf("updating signatureinfo: %w", err)
		}
		if result.RowsAffected() != 1 {
			return fmt.Errorf("no rows updated")
		}
		return nil
	})
}

// GetSignatureInfo looks up a single signature info by ID.
func (db *ExportDB) GetSignatureInfo(ctx context.Context, id int64) (*model.SignatureInfo, error) {
	conn, err := db.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
		SELECT
			id, signing_key_version, signing_key_id, thru_timestamp
		FROM
			SignatureInfo
		WHERE
			id = $1
		`, id)

	si, err := scanOneSignatureInfo(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return si, nil
}

// ListAllSignatureInfos returns every signature info, newest end timestamps
// first within a key ID.
func (db *ExportDB) ListAllSignatureInfos(ctx context.Context) ([]*model.SignatureInfo, error) {
	conn, err := db.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT
			id, signing_key_version, signing_key_id, thru_timestamp
		FROM
			SignatureInfo
		ORDER BY signing_key_id ASC, signing_key_version ASC, thru_timestamp DESC
		`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sigInfos []*model.SignatureInfo
	for rows.Next() {
		si, err := scanOneSignatureInfo(rows)
		if err != nil {
			return nil, err
		}
		sigInfos = append(sigInfos, si)
	}

	return sigInfos, rows.Err()
}

// LookupSignatureInfos returns the signature infos with the given IDs that
// are still valid at validAt. Expired infos are silently dropped so that a
// rotated-out key stops being advertised without a config change. Results
// come back in ascending ID order, which fixes the order of the metadata
// embedded in archives.
func (db *ExportDB) LookupSignatureInfos(ctx context.Context, ids []int64, validAt time.Time) ([]*model.SignatureInfo, error) {
	conn, err := db.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT
			id, signing_key_version, signing_key_id, thru_timestamp
		FROM
			SignatureInfo
		WHERE
			id = any($1) AND (thru_timestamp IS NULL OR thru_timestamp >= $2)
		ORDER BY id ASC
		`, ids, validAt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sigInfos []*model.SignatureInfo
	for rows.Next() {
		si, err := scanOneSignatureInfo(rows)
		if err != nil {
			return nil, err
		}
		sigInfos = append(sigInfos, si)
	}

	return sigInfos, rows.Err()
}

func scanOneSignatureInfo(row pgx.Row) (*model.SignatureInfo, error) {
	var info model.SignatureInfo
	var thru *time.Time
	if err := row.Scan(&info.ID, &info.SigningKeyVersion, &info.SigningKeyID, &thru); err != nil {
		return nil, err
	}
	if thru != nil {
		info.EndTimestamp = *thru
	}
	return &info, nil
}

// AddExportFile records a written blobstore object. Every run rewrites the
// same object names for a config's unchanged windows, so an existing row is
// refreshed in place rather than treated as a conflict.
func (db *ExportDB) AddExportFile(ctx context.Context, ef *model.ExportFile) error {
	return db.db.InTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO
				ExportFile
				(filename, bucket_name, config_id, region, file_timestamp, status)
			VALUES
				($1, $2, $3, $4, $5, $6)
			ON CONFLICT (filename) DO UPDATE
				SET bucket_name = $2, config_id = $3, region = $4, file_timestamp = $5, status = $6
			`, ef.Filename, ef.BucketName, ef.ConfigID, ef.Region, ef.FileDate, ef.Status)
		if err != nil {
			return fmt.Errorf("inserting to ExportFile: %w", err)
		}
		return nil
	})
}

// LookupExportFile returns the bookkeeping row for a single object name.
func (db *ExportDB) LookupExportFile(ctx context.Context, filename string) (*model.ExportFile, error) {
	conn, err := db.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
		SELECT
			filename, bucket_name, config_id, region, file_timestamp, status
		FROM
			ExportFile
		WHERE
			filename = $1
		LIMIT 1
		`, filename)

	ef := model.ExportFile{}
	if err := row.Scan(&ef.Filename, &ef.BucketName, &ef.ConfigID, &ef.Region, &ef.FileDate, &ef.Status); err != nil {
		if err == pgx.ErrNoRows {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return &ef, nil
}

// LookupExportFiles returns the object names written for a config that have
// not been deleted, in name order.
func (db *ExportDB) LookupExportFiles(ctx context.Context, configID int64) ([]string, error) {
	conn, err := db.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
		SELECT
			filename
		FROM
			ExportFile
		WHERE
			config_id = $1
		AND
			status != $2
		ORDER BY
			filename
		`, configID, model.ExportFileDeleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var filenames []string
	for rows.Next() {
		var filename string
		if err := rows.Scan(&filename); err != nil {
			return nil, err
		}
		filenames = append(filenames, filename)
	}
	return filenames, rows.Err()
}

// DeleteFilesBefore deletes export files with a file timestamp before the
// given time from the blobstore and marks their rows deleted. It returns the
// number of objects removed.
func (db *ExportDB) DeleteFilesBefore(ctx context.Context, before time.Time, blobstore storage.Blobstore) (int, error) {
	logger := logging.FromContext(ctx)

	type exportFile struct {
		bucketName string
		filename   string
	}
	var files []exportFile
	err := func() error { // Use a func to allow defer conn.Release() to work.
		conn, err := db.db.Pool.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquiring connection: %w", err)
		}
		defer conn.Release()

		rows, err := conn.Query(ctx, `
			SELECT
				bucket_name, filename
			FROM
				ExportFile
			WHERE
				file_timestamp < $1
				AND status != $2
			`, before, model.ExportFileDeleted)
		if err != nil {
			return fmt.Errorf("fetching filenames: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var f exportFile
			if err := rows.Scan(&f.bucketName, &f.filename); err != nil {
				return fmt.Errorf("fetching filename: %w", err)
			}
			files = append(files, f)
		}
		return rows.Err()
	}()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, f := range files {
		deleteCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
		err := blobstore.DeleteObject(deleteCtx, f.bucketName, f.filename)
		cancel()
		if err != nil {
			return count, fmt.Errorf("delete object: %w", err)
		}

		err = db.db.InTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				UPDATE
					ExportFile
				SET
					status = $1
				WHERE
					filename = $2
				`, model.ExportFileDeleted, f.filename)
			if err != nil {
				return fmt.Errorf("updating ExportFile: %w", err)
			}
			return nil
		})
		if err != nil {
			return count, err
		}

		logger.Infof("deleted export file %s", f.filename)
		count++
	}

	return count, nil
}
