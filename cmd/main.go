// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Shivanand-hulikatti/event-reservations/internal/clock"
	"github.com/Shivanand-hulikatti/event-reservations/internal/config"
	"github.com/Shivanand-hulikatti/event-reservations/internal/database"
	"github.com/Shivanand-hulikatti/event-reservations/internal/handler"
	"github.com/Shivanand-hulikatti/event-reservations/internal/logger"
	"github.com/Shivanand-hulikatti/event-reservations/internal/model"
	"github.com/Shivanand-hulikatti/event-reservations/internal/notify"
	"github.com/Shivanand-hulikatti/event-reservations/internal/repository"
	"github.com/Shivanand-hulikatti/event-reservations/internal/service"
	"github.com/Shivanand-hulikatti/event-reservations/internal/worker"
)

// stores bundles the three storage views the services depend on.
type stores struct {
	events       service.EventStore
	reservations service.ReservationStore
	users        service.UserDirectory
	close        func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	})
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 1. Open the store ─────────────────────────────────────────────────
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	// ── 2. Lifecycle notifications ───────────────────────────────────────
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Redis.Enabled {
		client, err := notify.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer func() { _ = client.Close() }()
		notifier = notify.NewRedisNotifier(client, cfg.Redis.Channel, clock.Real())
		log.Info("publishing lifecycle notifications",
			zap.String("addr", cfg.Redis.Addr),
			zap.String("channel", cfg.Redis.Channel),
		)
	}

	// ── 3. Wire up layers ────────────────────────────────────────────────
	opts := service.Options{
		Clock:                clock.Real(),
		Notifier:             notifier,
		Logger:               log,
		StoreTimeout:         cfg.Reservation.StoreTimeout,
		MaxRetries:           cfg.Reservation.MaxRetries,
		RetryInitialInterval: cfg.Reservation.RetryInitialInterval,
		CodeMaxAttempts:      cfg.Reservation.CodeMaxAttempts,
	}
	eventSvc := service.NewEventService(st.events, st.reservations, st.users, opts)
	reservationSvc := service.NewReservationService(st.events, st.reservations, st.users, opts)

	finisher := worker.NewFinishWorker(eventSvc, clock.Real(), log, &worker.FinishWorkerConfig{
		Interval:   cfg.Worker.FinishInterval,
		RunTimeout: worker.DefaultFinishWorkerConfig().RunTimeout,
	})
	if err := finisher.Start(ctx); err != nil {
		return fmt.Errorf("finish worker: %w", err)
	}
	defer finisher.Stop()

	// ── 4. Build the router ───────────────────────────────────────────────
	router := handler.NewRouter(handler.RouterConfig{
		Events:       eventSvc,
		Reservations: reservationSvc,
		JWTSecret:    cfg.JWT.Secret,
		JWTIssuer:    cfg.JWT.Issuer,
		Logger:       log,
	})

	// ── 5. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Run in background goroutine so we can listen for shutdown signal.
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.App.Store),
			zap.String("environment", cfg.App.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Block until SIGINT or SIGTERM.
	select {
	case err, ok := <-serveErr:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (stores, error) {
	if cfg.App.Store == "memory" {
		mem := repository.NewMemory()
		mem.PutUser(model.User{
			ID:        "00000000-0000-0000-0000-000000000001",
			FirstName: "Admin",
			LastName:  "Xenplan",
			Email:     "admin@xenplan.com",
			Role:      model.RoleAdmin,
		})
		log.Warn("using in-memory store, data is lost on restart")
		return stores{
			events:       mem.Events(),
			reservations: mem.Reservations(),
			users:        mem.Users(),
			close:        func() {},
		}, nil
	}

	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return stores{}, fmt.Errorf("database: %w", err)
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return stores{}, fmt.Errorf("migrate: %w", err)
	}
	log.Info("connected to PostgreSQL",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.DBName),
	)

	lockTimeout := cfg.Reservation.StoreTimeout
	return stores{
		events:       repository.NewEventRepository(pool, lockTimeout),
		reservations: repository.NewReservationRepository(pool, lockTimeout),
		users:        repository.NewUserRepository(pool),
		close:        pool.Close,
	}, nil
}
