// internal/slotlock/store.go
package slotlock

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/db"
)

const defaultPollInterval = 25 * time.Millisecond

// StoreLocker leases keys through the slot_locks table. A lease that outlives its TTL
// (a crashed holder) is cleared by the next acquirer.
type StoreLocker struct {
	db           *db.DB
	ttl          time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

func NewStoreLocker(database *db.DB, ttl time.Duration) *StoreLocker {
	return &StoreLocker{
		db:           database,
		ttl:          ttl,
		pollInterval: defaultPollInterval,
		now:          time.Now,
	}
}

func (s *StoreLocker) Acquire(ctx context.Context, key string, timeout time.Duration) (Handle, error) {
	token := newToken()
	err := poll(ctx, timeout, s.pollInterval, func() (bool, error) {
		now := s.now()
		if err := s.db.Queries.DeleteExpiredSlotLock(ctx, key, now); err != nil {
			return false, fmt.Errorf("clear expired slot lock: %w", err)
		}
		err := s.db.Queries.InsertSlotLock(ctx, key, token, now.Add(s.ttl))
		if err == nil {
			return true, nil
		}
		if db.IsConstraintViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert slot lock: %w", err)
	})
	if err != nil {
		return Handle{}, err
	}
	return Handle{Key: key, Token: token}, nil
}

func (s *StoreLocker) Release(ctx context.Context, h Handle) error {
	deleted, err := s.db.Queries.DeleteSlotLock(ctx, h.Key, h.Token)
	if err != nil {
		return fmt.Errorf("delete slot lock: %w", err)
	}
	if deleted == 0 {
		return ErrNotHeld
	}
	return nil
}

// PurgeExpired removes leases abandoned by crashed holders.
func (s *StoreLocker) PurgeExpired(ctx context.Context) error {
	purged, err := s.db.Queries.PurgeExpiredSlotLocks(ctx, s.now())
	if err != nil {
		return fmt.Errorf("purge slot locks: %w", err)
	}
	if purged > 0 {
		log.Ctx(ctx).Info().Int64("purged", purged).Msg("Purged expired slot locks")
	}
	return nil
}
