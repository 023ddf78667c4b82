package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"matterops/api/db/migrations"
	"matterops/api/internal/app"
	"matterops/api/internal/clio"
	"matterops/api/internal/config"
	"matterops/api/internal/delivery"
	"matterops/api/internal/ghl"
	"matterops/api/internal/store"
	"matterops/api/internal/trace"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	db, err := store.Open(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	ctx, cancel = context.WithTimeout(context.Background(), 60*time.Second)
	err = store.ApplyMigrations(ctx, db, migrations.FS)
	cancel()
	if err != nil {
		log.Fatalf("apply migrations: %v", err)
	}

	pg := store.NewPostgresStore(db)

	// Delivery dedup prefers Redis; without it the Postgres table serves.
	var dedup interface {
		BeginDelivery(context.Context, string, time.Duration) (bool, error)
		EndDelivery(context.Context, string) error
	} = pg
	if cfg.RedisURL != "" {
		redisStore, err := delivery.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("connect redis: %v", err)
		}
		defer redisStore.Close()
		dedup = redisStore
		log.Println("delivery dedup: redis")
	} else {
		log.Println("delivery dedup: postgres")
	}

	var meiliIndex *trace.Meili
	if cfg.MeiliURL != "" {
		meiliIndex = trace.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliIndex.Close()
	}
	traces := trace.NewService(meiliIndex, trace.NewPG(db))

	clioClient := clio.New(cfg.ClioBaseURL, cfg.ClioToken)
	ghlClient := ghl.New(cfg.GHLBaseURL, cfg.GHLToken)

	svc := app.New(cfg, pg, clioClient, ghlClient, dedup, traces)
	handler := app.NewHandler(svc, cfg.ClioWebhookSecret, cfg.GHLWebhookSecret)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Addr)
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	case sig := <-stop:
		log.Printf("received %s, shutting down", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}
