package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quadrant/api/internal/app"
	"quadrant/api/internal/broadcast"
	"quadrant/api/internal/config"
	"quadrant/api/internal/gate"
	"quadrant/api/internal/lock"
	"quadrant/api/internal/search"
	"quadrant/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("schema setup failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	profile := gate.ProfileByName(cfg.GateProfile)
	profile.RateLimit = cfg.RateLimit
	profile.RateWindow = cfg.RateWindow
	profile.RateCooldown = cfg.RateCooldown
	profile.SessionCapacity = cfg.SessionCapacity

	hub := broadcast.NewHub()
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// With Redis configured, lock claims, rate windows and the event
	// feed are shared across instances; without it every concern runs
	// in-process and the API is single-instance.
	var lockTable lock.Table
	var windows gate.WindowStore
	var service *app.Service
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis-backed locks, rate windows and broadcast")
		redisTable, err := lock.NewRedisTable(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisTable.Close()
		lockTable = redisTable

		redisWindows, err := gate.NewRedisWindows(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		windows = redisWindows

		bridge, err := broadcast.NewBridge(hub, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer bridge.Close()
		go bridge.Run(runCtx)

		locks := lock.NewManager(lockTable, cfg.LockTTL, cfg.LockHeartbeatEvery)
		service = newService(cfg, dataStore, locks, profile, windows, bridge, searchService)
		startSweep(runCtx, cfg, locks, service)
	} else {
		log.Printf("Using in-process locks, rate windows and broadcast")
		lockTable = lock.NewStoreTable(dataStore)
		windows = gate.NewMemoryWindows()

		locks := lock.NewManager(lockTable, cfg.LockTTL, cfg.LockHeartbeatEvery)
		service = newService(cfg, dataStore, locks, profile, windows, hub, searchService)
		startSweep(runCtx, cfg, locks, service)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Quadrant API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cancelRun()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func newService(cfg config.Config, dataStore *store.PostgresStore, locks *lock.Manager, profile gate.Profile, windows gate.WindowStore, events app.Broadcaster, searchService *search.Service) *app.Service {
	return app.New(
		cfg,
		dataStore,
		locks,
		gate.NewValidator(profile),
		gate.NewLimiter(profile, windows),
		gate.NewCapacity(profile.SessionCapacity),
		events,
		searchService,
	)
}

func startSweep(ctx context.Context, cfg config.Config, locks *lock.Manager, service *app.Service) {
	go locks.Run(ctx, cfg.LockSweepEvery, service.BroadcastLockCleared)
}
