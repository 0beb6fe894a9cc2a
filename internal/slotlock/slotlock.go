// internal/slotlock/slotlock.go
package slotlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTimeout is returned when the lock could not be acquired within the wait bound.
	ErrTimeout = errors.New("slot lock wait timed out")
	// ErrNotHeld is returned when releasing a handle that no longer owns its key.
	ErrNotHeld = errors.New("slot lock not held")
)

// Handle identifies one successful acquisition. Token distinguishes holders of the same key.
type Handle struct {
	Key   string
	Token string
}

// Locker serializes work on a string key across concurrent callers. Implementations
// differ in scope: MemoryLocker is process-local, StoreLocker and RedisLocker are shared
// by every instance using the same store or Redis.
type Locker interface {
	Acquire(ctx context.Context, key string, timeout time.Duration) (Handle, error)
	Release(ctx context.Context, h Handle) error
}

// SlotKey is the admission lock key: one court on one calendar date.
func SlotKey(courtID string, date time.Time) string {
	return fmt.Sprintf("slot:%s:%s", courtID, date.Format("2006-01-02"))
}

func newToken() string {
	return uuid.NewString()
}

// poll retries try until it reports acquired, fails, or the deadline passes.
func poll(ctx context.Context, timeout, interval time.Duration, try func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		acquired, err := try()
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
