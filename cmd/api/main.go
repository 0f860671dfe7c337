package main

import (
	"context"
	"flag"
	"log"
	stdhttp "net/http"
	_ "time/tzdata"

	"qr-scheduler/pkg/cache"
	"qr-scheduler/pkg/config"
	"qr-scheduler/pkg/http"
	"qr-scheduler/pkg/logging"
	"qr-scheduler/pkg/metrics"
	"qr-scheduler/pkg/middleware"
	"qr-scheduler/pkg/service"
	"qr-scheduler/pkg/storage"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	memory := flag.Bool("memory", false, "keep everything in process memory instead of Postgres and Redis")
	noAuth := flag.Bool("no-auth", false, "serve the admin API without OIDC (development only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel))
	metrics.MustRegister(nil)

	var (
		store     storage.Store
		destCache cache.DestinationCacheInterface
	)
	if *memory {
		store = storage.NewMemoryStore()
		destCache = cache.NewMemoryCache()
	} else {
		// DB connection
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatal(err)
		}
		defer pool.Close()

		pg := storage.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			log.Fatal("Failed to apply schema:", err)
		}
		store = pg

		// Redis connection
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal(err)
		}
		redisClient := redis.NewClient(opt)
		defer redisClient.Close()
		destCache = cache.NewDestinationCache(redisClient)
	}

	svc := service.NewSchedulerService(store, destCache, logger, service.Options{
		Policy:           cfg.Policy(),
		CacheTTL:         cfg.Redis.TTL,
		MinEventDuration: cfg.Scheduling.MinEventDuration,
	})

	// OAuth Middleware
	var oauthMiddleware *middleware.OAuthMiddleware
	if !*noAuth {
		oauthMiddleware, err = middleware.NewOAuthMiddleware(ctx, middleware.OAuthConfig{
			IssuerURL: cfg.OIDC.IssuerURL,
			Audience:  cfg.OIDC.Audience,
		}, logger)
		if err != nil {
			log.Fatal("Failed to create OAuth middleware:", err)
		}
	}

	if cfg.Security.PinGrantSecret == "" {
		logger.Warn(ctx, "PIN_GRANT_SECRET not set, PIN unlocks will not survive a restart")
	}
	handler, err := http.NewHandler(svc, logger, http.HandlerConfig{
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
	http.SetupRoutes(r, handler, oauthMiddleware)

	if *memory {
		// Scans must share the in-process store, so serve them from here too.
		rr := chi.NewRouter()
		http.SetupRedirectRoutes(rr, handler)
		go func() {
			logger.Info(ctx, "starting redirect server", "addr", cfg.Server.RedirectAddr)
			log.Fatal(stdhttp.ListenAndServe(cfg.Server.RedirectAddr, rr))
		}()
	}

	logger.Info(ctx, "starting API server", "addr", cfg.Server.APIAddr, "memory", *memory, "auth", oauthMiddleware != nil)
	log.Fatal(stdhttp.ListenAndServe(cfg.Server.APIAddr, r))
}
