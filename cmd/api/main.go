package main

import (
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"lastmile/internal/api"
	"lastmile/internal/config"
	"lastmile/internal/metrics"
	"lastmile/internal/sched"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "lastmile").Logger()
	if os.Getenv("LOG_PRETTY") == "true" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	cfg := config.Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("load config")
		}
		cfg = loaded
	}

	srv, err := api.NewServer(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init server")
	}
	metrics.RegisterDefault()

	mux := http.NewServeMux()

	// Engine state and cycles
	mux.HandleFunc("/v1/state", srv.StateHandler)
	mux.HandleFunc("/v1/cycles", srv.CyclesHandler)
	mux.HandleFunc("/v1/assignments", srv.AssignmentsHandler)
	mux.HandleFunc("/v1/surge", srv.SurgeStateHandler)
	mux.HandleFunc("/v1/preposition", srv.PrepositionHandler)
	mux.HandleFunc("/v1/metrics/engine", srv.EngineMetricsHandler)

	// Live feed
	mux.HandleFunc("/v1/feed", srv.FeedHandler)

	// Webhook subscriptions and admin
	mux.HandleFunc("/v1/subscriptions", srv.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/", srv.SubscriptionByIDHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries", srv.WebhookDeliveriesHandler)

	// Health and telemetry
	mux.HandleFunc("/healthz", srv.HealthHandler)
	mux.HandleFunc("/readyz", srv.ReadyHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	limiter := api.NewRateLimiter(10, 20)
	handler := api.LogMiddleware(log, limiter.Wrap(mux))

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	worker := srv.NewWebhookWorker()
	worker.Start()

	maint, err := sched.Start(srv.Engine, cfg.ETA.RiderModelRetrainCron, log)
	if err != nil {
		log.Fatal().Err(err).Msg("start maintenance scheduler")
	}
	defer maint.Stop()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", addr).Msg("API listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}
