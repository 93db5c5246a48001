package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"example.com/youthcenter/internal/api"
	"example.com/youthcenter/internal/auth"
	"example.com/youthcenter/internal/cache"
	"example.com/youthcenter/internal/config"
	"example.com/youthcenter/internal/events"
	"example.com/youthcenter/internal/files"
	"example.com/youthcenter/internal/identity"
	persistence "example.com/youthcenter/internal/persistence/postgres"
	syncsvc "example.com/youthcenter/internal/sync"
	httptransport "example.com/youthcenter/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	localCache, err := cache.Open(cfg.CachePath)
	if err != nil {
		log.Fatalf("failed to open local cache: %v", err)
	}
	defer localCache.Close()

	repo := persistence.NewRepository(pool)
	service := syncsvc.NewService(repo, localCache, appLogger)

	var provider identity.Provider
	switch cfg.IdentityMode {
	case config.IdentityModeRemote:
		provider = identity.NewHTTPProvider(cfg.IdentityURL, cfg.IdentityClientID,
			cfg.IdentityClientSecret, nil, appLogger)
	default:
		provider, err = identity.NewLocalProvider(ctx, localCache, cfg.SessionSecret,
			cfg.SessionIssuer, cfg.SessionTTL, appLogger)
		if err != nil {
			log.Fatalf("failed to initialise local identity provider: %v", err)
		}
	}

	coordinator := auth.NewCoordinator(provider, repo, localCache, appLogger)
	coordinator.Restore(ctx)
	go coordinator.Watch(ctx)

	blobs, err := files.NewFSBlobStore(cfg.BlobDir)
	if err != nil {
		log.Fatalf("failed to prepare blob directory: %v", err)
	}
	attachments := files.NewService(blobs, repo, service, appLogger)

	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.EventTopic, appLogger)
	defer publisher.Close()

	service.OnChange(func(ev syncsvc.ChangeEvent) {
		switch ev.Kind {
		case syncsvc.ChangeAdded:
			publisher.Publish(ctx, "activity.created", ev.Activity)
		case syncsvc.ChangeUpdated:
			publisher.Publish(ctx, "activity.updated", ev.Activity)
		case syncsvc.ChangeDeleted:
			publisher.Publish(ctx, "activity.deleted", ev.Activity)
			if ev.Activity != nil {
				attachments.DeleteForActivity(ctx, ev.Activity.ID)
			}
		}
	})
	service.OnNotice(func(n syncsvc.Notice) {
		log.Printf("[%s] %s", n.Level, n.Message)
	})

	if result := service.Load(ctx); result.Degraded {
		log.Printf("started in degraded mode with %d cached activities", len(result.Activities))
	} else {
		log.Printf("loaded %d activities across %d centers", len(result.Activities), len(result.Centers))
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.SnapshotSchedule, func() {
		if err := service.SnapshotToCache(ctx); err != nil {
			log.Printf("cache snapshot failed: %v", err)
		}
	}); err != nil {
		log.Fatalf("invalid snapshot schedule %q: %v", cfg.SnapshotSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(service, coordinator, attachments)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Simple CORS middleware for the browser frontend
	cors := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", cfg.CORSOrigin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, logger(cors(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("youthcenter service listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	if err := service.SnapshotToCache(context.Background()); err != nil {
		log.Printf("final cache snapshot failed: %v", err)
	}
}
