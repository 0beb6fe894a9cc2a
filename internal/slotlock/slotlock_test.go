package slotlock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codr1/courtside/internal/testutil"
)

func exerciseMutualExclusion(t *testing.T, locker Locker) {
	t.Helper()

	const workers = 8
	var (
		wg      sync.WaitGroup
		holders int32
		maxSeen int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := locker.Acquire(context.Background(), "slot:c1:2026-03-02", 5*time.Second)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			now := atomic.AddInt32(&holders, 1)
			for {
				prev := atomic.LoadInt32(&maxSeen)
				if now <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, now) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&holders, -1)
			if err := locker.Release(context.Background(), h); err != nil {
				t.Errorf("Release: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxSeen)
	}
}

func exerciseTimeout(t *testing.T, locker Locker) {
	t.Helper()
	ctx := context.Background()

	h, err := locker.Acquire(ctx, "slot:c1:2026-03-03", time.Second)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	_, err = locker.Acquire(ctx, "slot:c1:2026-03-03", 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("second Acquire error = %v, want ErrTimeout", err)
	}

	other, err := locker.Acquire(ctx, "slot:c2:2026-03-03", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("unrelated key blocked: %v", err)
	}
	if err := locker.Release(ctx, other); err != nil {
		t.Fatalf("Release other: %v", err)
	}

	if err := locker.Release(ctx, Handle{Key: h.Key, Token: "stale"}); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("Release with wrong token = %v, want ErrNotHeld", err)
	}
	if err := locker.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := locker.Release(ctx, h); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("double Release = %v, want ErrNotHeld", err)
	}

	again, err := locker.Acquire(ctx, "slot:c1:2026-03-03", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	_ = locker.Release(ctx, again)
}

func TestMemoryLocker(t *testing.T) {
	t.Run("mutual exclusion", func(t *testing.T) {
		locker := NewMemoryLocker()
		exerciseMutualExclusion(t, locker)
		if locker.Len() != 0 {
			t.Fatalf("entries left after release: %d", locker.Len())
		}
	})
	t.Run("timeout", func(t *testing.T) {
		exerciseTimeout(t, NewMemoryLocker())
	})
	t.Run("context cancel", func(t *testing.T) {
		locker := NewMemoryLocker()
		h, err := locker.Acquire(context.Background(), "k", time.Second)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := locker.Acquire(ctx, "k", time.Second); !errors.Is(err, context.Canceled) {
			t.Fatalf("Acquire on cancelled ctx = %v, want context.Canceled", err)
		}
		_ = locker.Release(context.Background(), h)
		if locker.Len() != 0 {
			t.Fatalf("entries left: %d", locker.Len())
		}
	})
}

func TestStoreLocker(t *testing.T) {
	t.Run("mutual exclusion", func(t *testing.T) {
		exerciseMutualExclusion(t, NewStoreLocker(testutil.NewTestDB(t), time.Minute))
	})
	t.Run("timeout", func(t *testing.T) {
		exerciseTimeout(t, NewStoreLocker(testutil.NewTestDB(t), time.Minute))
	})
	t.Run("expired lease is taken over", func(t *testing.T) {
		database := testutil.NewTestDB(t)
		locker := NewStoreLocker(database, time.Minute)
		ctx := context.Background()

		base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		locker.now = func() time.Time { return base }
		stale, err := locker.Acquire(ctx, "k", time.Second)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}

		locker.now = func() time.Time { return base.Add(2 * time.Minute) }
		fresh, err := locker.Acquire(ctx, "k", 100*time.Millisecond)
		if err != nil {
			t.Fatalf("Acquire over expired lease: %v", err)
		}
		if err := locker.Release(ctx, stale); !errors.Is(err, ErrNotHeld) {
			t.Fatalf("stale Release = %v, want ErrNotHeld", err)
		}
		if err := locker.Release(ctx, fresh); err != nil {
			t.Fatalf("Release: %v", err)
		}
	})
	t.Run("purge expired", func(t *testing.T) {
		database := testutil.NewTestDB(t)
		locker := NewStoreLocker(database, time.Second)
		ctx := context.Background()
		base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
		locker.now = func() time.Time { return base }
		if _, err := locker.Acquire(ctx, "k", time.Second); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		locker.now = func() time.Time { return base.Add(time.Hour) }
		if err := locker.PurgeExpired(ctx); err != nil {
			t.Fatalf("PurgeExpired: %v", err)
		}
		var count int
		if err := database.QueryRowContext(ctx, `SELECT COUNT(*) FROM slot_locks`).Scan(&count); err != nil {
			t.Fatalf("count locks: %v", err)
		}
		if count != 0 {
			t.Fatalf("slot_locks rows = %d, want 0", count)
		}
	})
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("COURTSIDE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COURTSIDE_TEST_REDIS_ADDR not set")
	}
	client, err := NewRedisClient(context.Background(), addr, os.Getenv("REDIS_PASSWORD"), 0, 2*time.Second)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client, time.Minute)
	locker.prefix = "courtside:test:" + t.Name() + ":"
	exerciseMutualExclusion(t, locker)
	exerciseTimeout(t, locker)
}

func TestSlotKey(t *testing.T) {
	date := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	if got := SlotKey("court-1", date); got != "slot:court-1:2026-03-02" {
		t.Fatalf("SlotKey() = %q", got)
	}
}
