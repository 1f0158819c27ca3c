// cmd/server/server.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"studiobook/internal/api"
	"studiobook/internal/api/bookings"
	"studiobook/internal/api/calendarfeed"
	"studiobook/internal/api/participants"
	"studiobook/internal/api/pushsubs"
	reminderapi "studiobook/internal/api/reminders"
	"studiobook/internal/api/schedules"
	"studiobook/internal/api/webhooks"
	"studiobook/internal/booking"
	"studiobook/internal/cancellation"
	"studiobook/internal/config"
	"studiobook/internal/db"
	"studiobook/internal/email"
	"studiobook/internal/notify"
	"studiobook/internal/push"
	"studiobook/internal/ratelimit"
	"studiobook/internal/reminders"
	"studiobook/internal/scheduler"
	"studiobook/internal/tasks"
)

// retention for dispatched reminder-task rows before the nightly prune.
const taskRetention = 30 * 24 * time.Hour

type app struct {
	server    *http.Server
	database  *db.DB
	scheduler *scheduler.Service
	queue     *tasks.HTTPQueue
	limiter   *ratelimit.Limiter
}

func newApp(cfg *config.Config) (*app, error) {
	database, err := db.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sched, err := scheduler.New()
	if err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	dispatchURL := cfg.Tasks.DispatchBaseURL + "/api/v1/tasks/reminders/dispatch"
	queue := tasks.NewHTTPQueue(sched, dispatchURL, cfg.Tasks.QueueName)

	pusher := push.NewService(database, push.NewVAPIDSender(
		cfg.Push.Subscriber, cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey))

	var mailer email.Sender
	if cfg.Email.Enabled {
		ses, err := email.NewSESClient(
			cfg.Email.AccessKeyID, cfg.Email.SecretAccessKey, cfg.Email.Region, cfg.Email.Sender)
		if err != nil {
			return nil, fmt.Errorf("init ses client: %w", err)
		}
		mailer = ses
	}

	reminderSched := reminders.NewScheduler(database, queue, pusher)
	notifier := notify.NewService(database, pusher, mailer, reminderSched)
	bookingSvc := booking.NewService(database, notifier)
	cancelWorkflow := cancellation.NewWorkflow(database, notifier)
	limiter := ratelimit.New(nil)

	registerMaintenance(sched, database)

	router := http.NewServeMux()
	registerRoutes(router, cfg, database, bookingSvc, cancelWorkflow, notifier, reminderSched, limiter)

	handler := api.ChainMiddleware(
		router,
		api.WithAuth(cfg.App.JWTSecret),
		api.WithLogging,
		api.WithRecovery,
		api.WithRequestID,
	)

	return &app{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.App.Port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		database:  database,
		scheduler: sched,
		queue:     queue,
		limiter:   limiter,
	}, nil
}

func registerRoutes(
	mux *http.ServeMux,
	cfg *config.Config,
	database *db.DB,
	bookingSvc *booking.Service,
	cancelWorkflow *cancellation.Workflow,
	notifier *notify.Service,
	reminderSched *reminders.Scheduler,
	limiter *ratelimit.Limiter,
) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	bookings.NewHandler(bookingSvc, notifier).Register(mux)
	schedules.NewHandler(database, cancelWorkflow).Register(mux)
	participants.NewHandler(database).Register(mux)
	pushsubs.NewHandler(database, cfg.Push.VAPIDPublicKey).Register(mux)
	calendarfeed.NewHandler(database).Register(mux)
	reminderapi.NewHandler(reminderSched).Register(mux)
	webhooks.NewHandler(database, limiter, cfg.App.Environment == "production").Register(mux)
}

// registerMaintenance sets up the nightly prune: dispatched reminder tasks
// past retention and schedule exceptions past their schedule's end date.
func registerMaintenance(sched *scheduler.Service, database *db.DB) {
	_, err := sched.AddCronJob("nightly_maintenance", "30 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		tasksPruned, err := database.Queries.DeleteDispatchedTasksBefore(ctx, time.Now().Add(-taskRetention))
		if err != nil {
			log.Error().Err(err).Msg("Failed to prune reminder tasks")
		}
		exceptionsPruned, err := database.Queries.DeleteExpiredExceptions(ctx, time.Now())
		if err != nil {
			log.Error().Err(err).Msg("Failed to prune expired exceptions")
		}
		log.Info().
			Int64("tasks", tasksPruned).
			Int64("exceptions", exceptionsPruned).
			Msg("Nightly maintenance complete")
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to register maintenance job")
	}
}
