package main

import (
	"context"
	"log"
	stdhttp "net/http"
	_ "time/tzdata"

	"qr-scheduler/pkg/cache"
	"qr-scheduler/pkg/config"
	httphandler "qr-scheduler/pkg/http"
	"qr-scheduler/pkg/logging"
	"qr-scheduler/pkg/metrics"
	"qr-scheduler/pkg/service"
	"qr-scheduler/pkg/storage"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel))
	metrics.MustRegister(nil)

	// DB connection
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	// Redis connection
	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal(err)
	}
	redisClient := redis.NewClient(opt)
	defer redisClient.Close()

	// The API server owns migrations.
	svc := service.NewSchedulerService(storage.NewPostgresStore(pool), cache.NewDestinationCache(redisClient), logger, service.Options{
		Policy:           cfg.Policy(),
		CacheTTL:         cfg.Redis.TTL,
		MinEventDuration: cfg.Scheduling.MinEventDuration,
	})

	if cfg.Security.PinGrantSecret == "" {
		logger.Warn(ctx, "PIN_GRANT_SECRET not set, PIN unlocks will not survive a restart")
	}
	handler, err := httphandler.NewHandler(svc, logger, httphandler.HandlerConfig{
		DefaultLandingURL:    cfg.Scheduling.DefaultLandingURL,
		PinCookieMaxAge:      cfg.Scheduling.PinCookieMaxAge,
		PinGrantSecret:       cfg.Security.PinGrantSecret,
		PinAttemptsPerMinute: cfg.Security.PinAttemptsPerMinute,
		PinAttemptBurst:      cfg.Security.PinAttemptBurst,
		TrustedProxies:       cfg.Security.TrustedProxyCIDRs,
	})
	if err != nil {
		log.Fatal(err)
	}

	r := chi.NewRouter()
	httphandler.SetupRedirectRoutes(r, handler)
	r.Handle("/metrics", promhttp.Handler())

	logger.Info(ctx, "starting redirect server", "addr", cfg.Server.RedirectAddr)
	log.Fatal(stdhttp.ListenAndServe(cfg.Server.RedirectAddr, r))
}
