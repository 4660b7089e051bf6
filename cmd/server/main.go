package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	httpapi "github.com/keyfold/keyfold/internal/api/http"
	appAuth "github.com/keyfold/keyfold/internal/application/auth"
	appPairing "github.com/keyfold/keyfold/internal/application/pairing"
	"github.com/keyfold/keyfold/internal/config"
	domainPairing "github.com/keyfold/keyfold/internal/domain/pairing"
	domainPass "github.com/keyfold/keyfold/internal/domain/pass"
	"github.com/keyfold/keyfold/internal/infrastructure/memstore"
	"github.com/keyfold/keyfold/internal/infrastructure/postgres"
	"github.com/keyfold/keyfold/internal/infrastructure/redisstore"
	"github.com/keyfold/keyfold/internal/infrastructure/sse"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	var (
		store  domainPairing.Store
		passes domainPass.Repository
	)
	switch {
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis error: %v", err)
		}
		store = redisstore.New(client, cfg.Session.GracePeriod, cfg.Session.TombstoneTTL)
		passes = memstore.NewPassRepository()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("using redis session store")

	case cfg.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, pool, "internal/migrations"); err != nil {
			log.Fatalf("migration error: %v", err)
		}
		store = postgres.NewSessionStore(pool, cfg.Session.GracePeriod, cfg.Session.TombstoneTTL)
		passes = postgres.NewPassRepository(pool)
		logger.Info().Msg("using postgres session store")

	default:
		store = memstore.New(memstore.Options{
			GracePeriod:  cfg.Session.GracePeriod,
			TombstoneTTL: cfg.Session.TombstoneTTL,
		})
		passes = memstore.NewPassRepository()
		logger.Info().Msg("using in-memory session store")
	}

	verifier, err := appAuth.NewStaticVerifier(cfg.OwnerTokens)
	if err != nil {
		log.Fatalf("owner tokens error: %v", err)
	}

	hub := sse.NewHub()
	defer hub.Stop()

	pairingSvc := appPairing.NewService(store, passes, hub, appPairing.Limits{
		DefaultLifetime: cfg.Session.DefaultLifetime,
		MinLifetime:     cfg.Session.MinLifetime,
		MaxLifetime:     cfg.Session.MaxLifetime,
	}, cfg.PublicBaseURL, logger)

	apiServer := httpapi.NewServer(pairingSvc, verifier, hub, logger)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// background sweep: expired sessions leave tombstones even with nobody
	// polling, and finalized records age out
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go pairingSvc.RunSweeper(sweepCtx, cfg.Session.SweepInterval)

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
