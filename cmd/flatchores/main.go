package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/flatchores/internal/chore"
	"github.com/dukerupert/flatchores/internal/config"
	"github.com/dukerupert/flatchores/internal/database"
	"github.com/dukerupert/flatchores/internal/email"
	"github.com/dukerupert/flatchores/internal/logging"
	"github.com/dukerupert/flatchores/internal/recurrence"
	"github.com/dukerupert/flatchores/internal/reminder"
	"github.com/dukerupert/flatchores/internal/server"
	"github.com/dukerupert/flatchores/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tasks := store.NewTaskStore(db)
	instances := store.NewInstanceStore(db)
	apartments := store.NewApartmentStore(db)
	sessions := store.NewSessionStore(db)

	n, err := tasks.BackfillInitialDueDates(ctx)
	if err != nil {
		logger.Error("failed to backfill initial due dates", "error", err)
		os.Exit(1)
	}
	if n > 0 {
		logger.Info("backfilled initial due dates", "templates", n)
	}

	// Location was checked by config.Load.
	loc, _ := cfg.Location()

	engine := chore.NewEngine(store.NewTxRunner(db), chore.Stores{
		Tasks:      tasks,
		Instances:  instances,
		Apartments: apartments,
	},
		chore.WithPolicy(recurrence.Policy{
			StrongOverdueRatio:     cfg.OverdueRatio,
			ResetOnEarlyCompletion: cfg.ResetOnEarly,
		}),
		chore.WithLocation(loc),
		chore.WithLogger(logger.With("component", "chore")),
	)

	srv := server.New(db, engine, sessions, logger)

	if cfg.RemindersOn {
		reminderLogger := logger.With("component", "reminder")
		var notifier reminder.Notifier = reminder.NewLogNotifier(reminderLogger)
		if mail := email.NewClient(cfg.PostmarkToken, cfg.EmailFrom); mail.Configured() {
			notifier = reminder.NewEmailNotifier(mail, apartments)
		}
		sched := reminder.NewScheduler(tasks, instances, notifier, loc, cfg.ReminderHour, reminderLogger)
		sched.Start(ctx)
		defer sched.Stop()
		logger.Info("reminders enabled", "hour", cfg.ReminderHour, "timezone", cfg.Timezone)
	}

	go cleanup(ctx, srv, sessions, logger)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("flatchores listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// cleanup drops expired sessions and stale rate-limit entries every hour.
func cleanup(ctx context.Context, srv *server.Server, sessions *store.SessionStore, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		if n, err := sessions.DeleteExpired(ctx); err != nil {
			logger.Warn("session cleanup failed", "error", err)
		} else if n > 0 {
			logger.Info("expired sessions removed", "count", n)
		}
		srv.RateLimiter().Cleanup()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
