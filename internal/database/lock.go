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
	"context"
	"errors"
	"fmt"
	"time"

	pgx "github.com/jackc/pgx/v4"
)

var (
	// ErrAlreadyLocked is returned if the lock is already in use.
	ErrAlreadyLocked = errors.New("lock already in use")

	// ErrLockNotHeld is returned by an UnlockFn when the lock was not
	// released because another holder took it over after the TTL expired.
	ErrLockNotHeld = errors.New("lock not held")
)

// UnlockFn can be deferred to release a lock.
type UnlockFn func() error

// Lock acquires the lock with the given name, timing out after ttl. It
// returns an UnlockFn that releases the lock, or ErrAlreadyLocked if there is
// an unexpired holder.
//
// The expiry timestamp written at acquire time acts as a fencing token: the
// UnlockFn only deletes the lock row if it still carries that exact expiry.
// If this holder's TTL lapsed and someone else re-acquired the lock, the
// UnlockFn leaves the new holder's row in place and returns ErrLockNotHeld.
func (db *DB) Lock(ctx context.Context, lockID string, ttl time.Duration) (UnlockFn, error) {
	// Postgres stores timestamps with microsecond precision. Truncate up
	// front so the expiry written and the expiry compared on release are the
	// same value.
	expiry := time.Now().UTC().Add(ttl).Truncate(time.Microsecond)

	err := db.InTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		var existing time.Time
		err := tx.QueryRow(ctx, `
			SELECT
				expires
			FROM
				Lock
			WHERE
				lock_id = $1
		`, lockID).Scan(&existing)
		if errors.Is(err, pgx.ErrNoRows) {
			if _, err := tx.Exec(ctx, `
				INSERT INTO
					Lock
					(lock_id, expires)
				VALUES
					($1, $2)
			`, lockID, expiry); err != nil {
				return fmt.Errorf("failed to insert lock: %w", err)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to look up lock: %w", err)
		}

		if time.Now().UTC().Before(existing) {
			return ErrAlreadyLocked
		}

		// The previous holder's TTL lapsed, take over the lock.
		if _, err := tx.Exec(ctx, `
			UPDATE
				Lock
			SET
				expires = $1
			WHERE
				lock_id = $2
		`, expiry, lockID); err != nil {
			return fmt.Errorf("failed to update expired lock: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return func() error {
		return db.unlock(ctx, lockID, expiry)
	}, nil
}

func (db *DB) unlock(ctx context.Context, lockID string, expiry time.Time) error {
	return db.InTx(ctx, pgx.Serializable, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			DELETE FROM
				Lock
			WHERE
				lock_id = $1 AND expires = $2
		`, lockID, expiry)
		if err != nil {
			return fmt.Errorf("failed to delete lock: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrLockNotHeld
		}
		return nil
	})
}
