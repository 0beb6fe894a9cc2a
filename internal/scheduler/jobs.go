package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/bookings"
	"github.com/codr1/courtside/internal/ratelimit"
	"github.com/codr1/courtside/internal/schedule"
	"github.com/codr1/courtside/internal/slotlock"
	"github.com/codr1/courtside/internal/trust"
)

const (
	jobTimeout           = 2 * time.Minute
	completionBatchSize  = 200
	burstLimiterIdleTime = 10 * time.Minute
)

// MaintenanceDeps are the services the background jobs drive. StoreLocker and Burst are
// optional.
type MaintenanceDeps struct {
	Ledger      *trust.Ledger
	Lifecycle   *bookings.Service
	StoreLocker *slotlock.StoreLocker
	Burst       *ratelimit.BurstLimiter
	Clock       func() time.Time
}

type job struct {
	name     string
	cronExpr string
	run      Task
}

// RegisterMaintenanceJobs registers strike expiry, the booking completion sweep, and
// housekeeping for the store lock table and the HTTP burst limiter.
func RegisterMaintenanceJobs(deps MaintenanceDeps) error {
	if deps.Ledger == nil || deps.Lifecycle == nil {
		return fmt.Errorf("maintenance jobs require ledger and lifecycle service")
	}
	for _, j := range maintenanceJobs(deps) {
		if err := AddJob(j.name, j.cronExpr, j.run); err != nil {
			return err
		}
	}
	return nil
}

func maintenanceJobs(deps MaintenanceDeps) []job {
	clock := deps.Clock
	if clock == nil {
		clock = schedule.LocalNow
	}

	jobs := []job{
		{
			name:     "strike_expiry",
			cronExpr: "7 * * * *",
			run: func(ctx context.Context) error {
				touched, err := deps.Ledger.ExpireStrikes(ctx, clock())
				if err != nil {
					return err
				}
				if touched > 0 {
					log.Ctx(ctx).Info().Int("users", touched).Msg("Expired stale strikes")
				}
				return nil
			},
		},
		{
			name:     "booking_completion",
			cronExpr: "*/10 * * * *",
			run: func(ctx context.Context) error {
				completed, err := deps.Lifecycle.CompletePastBookings(ctx, completionBatchSize)
				if completed > 0 {
					log.Ctx(ctx).Info().Int("completed", completed).Msg("Completed past bookings")
				}
				return err
			},
		},
	}
	if deps.StoreLocker != nil {
		jobs = append(jobs, job{
			name:     "slot_lock_purge",
			cronExpr: "*/5 * * * *",
			run:      deps.StoreLocker.PurgeExpired,
		})
	}
	if deps.Burst != nil {
		jobs = append(jobs, job{
			name:     "burst_limiter_prune",
			cronExpr: "*/10 * * * *",
			run: func(ctx context.Context) error {
				if pruned := deps.Burst.Prune(burstLimiterIdleTime); pruned > 0 {
					log.Ctx(ctx).Debug().Int("pruned", pruned).Msg("Pruned idle rate limit buckets")
				}
				return nil
			},
		})
	}
	return jobs
}
