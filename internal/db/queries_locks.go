// internal/db/queries_locks.go
package db

import (
	"context"
	"time"
)

// InsertSlotLock fails with a constraint violation while another holder owns key.
func (q *Queries) InsertSlotLock(ctx context.Context, key, token string, expiresAt time.Time) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO slot_locks (lock_key, token, expires_at) VALUES (?, ?, ?)`,
		key, token, formatTime(expiresAt))
	return err
}

// DeleteSlotLock removes the lock only if token still owns it.
func (q *Queries) DeleteSlotLock(ctx context.Context, key, token string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM slot_locks WHERE lock_key = ? AND token = ?`, key, token)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredSlotLock clears a lease whose holder never released it.
func (q *Queries) DeleteExpiredSlotLock(ctx context.Context, key string, now time.Time) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM slot_locks WHERE lock_key = ? AND expires_at <= ?`,
		key, formatTime(now))
	return err
}

func (q *Queries) PurgeExpiredSlotLocks(ctx context.Context, now time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM slot_locks WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
