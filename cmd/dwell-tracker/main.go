// Command dwell-tracker runs the presence tracking daemon: it consumes
// detection ticks, maintains the dwell ledger and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/scrypster/dwell/internal/app"
	"github.com/scrypster/dwell/internal/backup"
	"github.com/scrypster/dwell/internal/config"
	"github.com/scrypster/dwell/internal/engine"
	"github.com/scrypster/dwell/internal/feed"
	"github.com/scrypster/dwell/internal/metrics"
	"github.com/scrypster/dwell/internal/server"
	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/web/handlers"
)

func main() {
	log.SetPrefix("dwell-tracker: ")

	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("Failed to load .env: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, nil); err != nil {
		log.Fatalf("%v", err)
	}
}

// run starts every component and blocks until ctx is done. ready, when set,
// receives the HTTP address once the server is listening.
func run(ctx context.Context, cfg *config.Config, stdin io.Reader, ready func(addr string)) error {
	store, err := app.OpenStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing storage: %v", err)
		}
	}()

	cfg, err = app.ApplyStoredSettings(ctx, cfg, store)
	if err != nil {
		return fmt.Errorf("failed to load stored settings: %w", err)
	}

	cat, err := app.LoadCatalog(cfg)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	engineCfg, err := app.EngineConfig(cfg)
	if err != nil {
		return fmt.Errorf("invalid tracker config: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	hub := handlers.NewWebSocketHub(server.AllowedOrigins(cfg)...)

	eng, err := engine.NewPresenceEngine(ctx, engineCfg, cat, store,
		engine.WithListener(hub),
		engine.WithListener(m),
		engine.WithSaveObserver(m),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize presence engine: %w", err)
	}
	reg.MustRegister(&metrics.EngineCollector{Engine: eng})

	// The engine outlives ctx so that Shutdown can drain the queue.
	engineCtx, cancelEngine := context.WithCancel(context.Background())
	defer cancelEngine()
	if err := eng.Start(engineCtx); err != nil {
		return fmt.Errorf("failed to start presence engine: %w", err)
	}

	deps := server.Deps{
		Tracker:  eng.Tracker(),
		Engine:   eng,
		Catalog:  cat,
		Hub:      hub,
		Gatherer: reg,
	}
	if rec, ok := store.(storage.DepartureRecorder); ok {
		deps.History = rec
	}
	if settings, ok := store.(config.SettingsStore); ok {
		deps.Settings = settings
		deps.Active = eng.Tracker().Config()
	}
	addr, err := server.Start(ctx, cfg, deps)
	if err != nil {
		shutdownEngine(eng)
		return fmt.Errorf("failed to start server: %w", err)
	}
	log.Printf("Dwell tracker running at http://%s", addr)
	if ready != nil {
		ready(addr)
	}

	var backupDone chan struct{}
	if cfg.Backup.BackupEnabled {
		svc, err := backup.NewBackupService(app.BackupConfig(cfg, backup.TrackerSource(eng.Tracker())))
		if err != nil {
			log.Printf("WARNING: backups disabled: %v", err)
		} else {
			backupDone = make(chan struct{})
			go func() {
				defer close(backupDone)
				if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("ERROR: backup service: %v", err)
				}
			}()
		}
	}

	go func() {
		if err := app.RunFeed(ctx, cfg, eng, stdin); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, feed.ErrQueueClosed) {
			log.Printf("ERROR: feed %s: %v", cfg.Feed.Source, err)
			return
		}
		if ctx.Err() == nil {
			log.Printf("Feed %s finished; serving the final ledger until stopped", cfg.Feed.Source)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down gracefully...")

	if backupDone != nil {
		<-backupDone
	}
	shutdownEngine(eng)
	return nil
}

func shutdownEngine(eng *engine.PresenceEngine) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := eng.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down presence engine: %v", err)
	}
}
