// cmd/server/server.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/codr1/courtside/internal/abuse"
	"github.com/codr1/courtside/internal/admission"
	"github.com/codr1/courtside/internal/api"
	"github.com/codr1/courtside/internal/api/authz"
	availabilityapi "github.com/codr1/courtside/internal/api/availability"
	bookingsapi "github.com/codr1/courtside/internal/api/bookings"
	"github.com/codr1/courtside/internal/api/staff"
	"github.com/codr1/courtside/internal/audit"
	"github.com/codr1/courtside/internal/availability"
	"github.com/codr1/courtside/internal/bookings"
	"github.com/codr1/courtside/internal/config"
	"github.com/codr1/courtside/internal/db"
	"github.com/codr1/courtside/internal/email"
	"github.com/codr1/courtside/internal/ratelimit"
	"github.com/codr1/courtside/internal/schedule"
	"github.com/codr1/courtside/internal/scheduler"
	"github.com/codr1/courtside/internal/slotlock"
	"github.com/codr1/courtside/internal/trust"
)

const redisDialTimeout = 5 * time.Second

// app owns every long-lived collaborator so shutdown can release them in order.
type app struct {
	server  *http.Server
	closers []func() error
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg *config.Config, database *db.DB) (*app, error) {
	a := &app{}
	clock := schedule.LocalNow

	locker, storeLocker, err := newLocker(ctx, cfg, database, a)
	if err != nil {
		a.close()
		return nil, err
	}

	sink, err := newAuditSink(ctx, cfg, database, a)
	if err != nil {
		a.close()
		return nil, err
	}
	recorder := audit.NewRecorder(sink, clock)

	limiter := ratelimit.New(&ratelimit.Config{
		Window:         time.Minute,
		MaxPerIdentity: cfg.Booking.RequestsPerMinute,
		MaxPerIP:       cfg.Booking.RequestsPerMinute * 3,
	})
	a.closers = append(a.closers, func() error { limiter.Close(); return nil })
	burst := ratelimit.NewBurstLimiter(cfg.HTTP.BurstPerSecond, cfg.HTTP.Burst, nil)

	ledger := trust.NewLedger(database, cfg.Trust)
	abuseService := abuse.NewService(database, cfg.Abuse.Window)
	pipeline := admission.NewPipeline(admission.Deps{
		DB:       database,
		Locker:   locker,
		Ledger:   ledger,
		Abuse:    abuseService,
		Limiter:  limiter,
		Recorder: recorder,
		Config:   cfg.Booking,
		Clock:    clock,
	})
	lifecycle := bookings.NewService(database, locker, ledger, recorder, cfg.Booking.LockTimeout, clock)

	bookingsapi.InitHandlers(database, pipeline, lifecycle, cfg.HTTP.TrustProxy)
	availabilityapi.InitHandlers(database, availability.NewService(database, clock), authz.StaffAuthorizer{})
	staff.InitHandlers(staff.Deps{
		DB:        database,
		Lifecycle: lifecycle,
		Ledger:    ledger,
		Abuse:     abuseService,
		Recorder:  recorder,
		Clock:     clock,
	})

	if cfg.Features.EnableJobs {
		if err := scheduler.Init(); err != nil {
			a.close()
			return nil, fmt.Errorf("init scheduler: %w", err)
		}
		if err := scheduler.RegisterMaintenanceJobs(scheduler.MaintenanceDeps{
			Ledger:      ledger,
			Lifecycle:   lifecycle,
			StoreLocker: storeLocker,
			Burst:       burst,
			Clock:       clock,
		}); err != nil {
			a.close()
			return nil, err
		}
		if err := scheduler.Start(); err != nil {
			a.close()
			return nil, fmt.Errorf("start scheduler: %w", err)
		}
		a.closers = append(a.closers, scheduler.Stop)
	}

	router := http.NewServeMux()
	registerRoutes(router)

	// Middleware runs outermost last: request id, recovery, logging, rate limit, auth.
	handler := api.ChainMiddleware(
		router,
		api.WithAuth,
		api.WithRateLimit(burst, cfg.HTTP.TrustProxy),
		api.WithLogging,
		api.WithRecovery,
		api.WithRequestID,
	)

	a.server = &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.App.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return a, nil
}

// newLocker returns the configured slot lock. The store locker is also returned so the
// purge job can clear abandoned leases.
func newLocker(ctx context.Context, cfg *config.Config, database *db.DB, a *app) (slotlock.Locker, *slotlock.StoreLocker, error) {
	backend := strings.ToLower(cfg.Booking.LockBackend)
	logger := log.With().Str("component", "slotlock").Str("backend", backend).Logger()

	switch backend {
	case "redis":
		client, err := slotlock.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, redisDialTimeout)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, func() error { return closeRedis(client) })
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("Using Redis slot locks")
		return slotlock.NewRedisLocker(client, cfg.Booking.LockTTL), nil, nil
	case "store":
		store := slotlock.NewStoreLocker(database, cfg.Booking.LockTTL)
		logger.Info().Msg("Using store-backed slot locks")
		return store, store, nil
	default:
		logger.Warn().Msg("Using in-process slot locks; run a single instance only")
		return slotlock.NewMemoryLocker(), nil, nil
	}
}

func closeRedis(client *redis.Client) error {
	return client.Close()
}

// newAuditSink fans events out to the log, the audit table, Kafka when brokers are set,
// and the staff notifier.
func newAuditSink(ctx context.Context, cfg *config.Config, database *db.DB, a *app) (audit.Sink, error) {
	sinks := audit.MultiSink{
		audit.NewLogSink(log.Logger),
		audit.NewStoreSink(database),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink, err := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, fmt.Errorf("create kafka audit sink: %w", err)
		}
		a.closers = append(a.closers, kafkaSink.Close)
		sinks = append(sinks, kafkaSink)
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Kafka audit sink enabled")
	}

	opts := audit.NotifierOptions{Recipients: cfg.Email.Recipients, From: cfg.Email.Sender}
	if len(cfg.Email.Recipients) > 0 {
		client, err := email.NewSESClient(ctx, email.SESOptions{
			Region:          cfg.Email.Region,
			Sender:          cfg.Email.Sender,
			AccessKeyID:     cfg.Email.AccessKeyID,
			SecretAccessKey: cfg.Email.SecretAccessKey,
		})
		if err != nil {
			log.Warn().Err(err).Msg("SES client unavailable; staff alerts will not be emailed")
		} else {
			opts.Sender = client
		}
	}
	sinks = append(sinks, audit.NewNotifier(database, opts))
	return sinks, nil
}

func registerRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Admission and lifecycle
	mux.HandleFunc("POST /api/v1/bookings", bookingsapi.HandleCreateBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/cancel", bookingsapi.HandleCancelBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/confirm", bookingsapi.HandleConfirmBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/complete", bookingsapi.HandleCompleteBooking)

	// Availability
	mux.HandleFunc("GET /api/v1/availability", availabilityapi.HandleAvailability)

	// Staff
	mux.HandleFunc("POST /api/v1/slot-blocks", staff.HandleCreateSlotBlock)
	mux.HandleFunc("POST /api/v1/no-shows", staff.HandleRecordNoShow)
	mux.HandleFunc("PUT /api/v1/users/{id}/trust-level", staff.HandleSetTrustLevel)
	mux.HandleFunc("GET /api/v1/abuse/report", staff.HandleAbuseReport)
}
