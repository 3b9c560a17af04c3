// Package app wires configuration into the tracker's components. It is shared
// by the dwell-tracker daemon and the dwellctl operator tool.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/scrypster/dwell/internal/backup"
	"github.com/scrypster/dwell/internal/catalog"
	"github.com/scrypster/dwell/internal/config"
	"github.com/scrypster/dwell/internal/engine"
	"github.com/scrypster/dwell/internal/feed"
	"github.com/scrypster/dwell/internal/notify"
	"github.com/scrypster/dwell/internal/presence"
	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/internal/storage/jsonfile"
	"github.com/scrypster/dwell/internal/storage/postgres"
	"github.com/scrypster/dwell/internal/storage/sqlite"
	"github.com/scrypster/dwell/pkg/types"
)

// SQLiteFile is the database file name inside the data directory.
const SQLiteFile = "dwell.db"

// Feed sources.
const (
	SourceWatch = "watch"
	SourceStdin = "stdin"
)

// OpenStore opens the ledger backend selected by cfg.Storage.StorageEngine.
func OpenStore(cfg *config.Config) (storage.LedgerStore, error) {
	switch cfg.Storage.StorageEngine {
	case "postgres":
		return postgres.NewLedgerStore(cfg.Storage.PostgresDSN)
	case "json", "sqlite":
	default:
		return nil, fmt.Errorf("app: unknown storage engine %q", cfg.Storage.StorageEngine)
	}

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
		return nil, fmt.Errorf("app: failed to create data directory %q: %w", cfg.Storage.DataPath, err)
	}
	if cfg.Storage.StorageEngine == "json" {
		return jsonfile.NewLedgerStore(cfg.Storage.DataPath)
	}
	return sqlite.NewLedgerStore(filepath.Join(cfg.Storage.DataPath, SQLiteFile))
}

// ApplyStoredSettings reloads cfg with tunables persisted in the store's
// settings table, when the backend has one. Stored values win over env vars.
func ApplyStoredSettings(ctx context.Context, cfg *config.Config, store storage.LedgerStore) (*config.Config, error) {
	settings, ok := store.(config.SettingsStore)
	if !ok {
		return cfg, nil
	}
	loaded, err := config.LoadConfigFromStore(ctx, settings)
	if err != nil {
		return nil, err
	}
	// Only tracker tunables live in the settings table.
	merged := *cfg
	merged.Tracker.GracePeriod = loaded.Tracker.GracePeriod
	merged.Tracker.DurationPolicy = loaded.Tracker.DurationPolicy
	return &merged, nil
}

// LoadCatalog loads the enrolment catalog. A missing catalog path yields an
// empty catalog, which ignores every detection.
func LoadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	unrecognized := types.EntityID(cfg.Tracker.Unrecognized)
	cat, err := catalog.Load(cfg.Tracker.CatalogPath, unrecognized)
	if errors.Is(err, catalog.ErrNoCatalog) {
		log.Printf("WARNING: app: no catalog at %s, every detection will be ignored", cfg.Tracker.CatalogPath)
		return catalog.New(unrecognized), nil
	}
	return cat, err
}

// EngineConfig maps service configuration onto the engine. Live sources
// restamp ticks with the engine clock; recorded feeds keep their own times
// and run without the sweeper.
func EngineConfig(cfg *config.Config) (engine.Config, error) {
	policy, err := presence.ParseDurationPolicy(cfg.Tracker.DurationPolicy)
	if err != nil {
		return engine.Config{}, err
	}

	ec := engine.DefaultConfig()
	ec.Tracker = presence.Config{
		GracePeriod:    cfg.Tracker.GracePeriod,
		DurationPolicy: policy,
		Unrecognized:   types.EntityID(cfg.Tracker.Unrecognized),
	}
	ec.QueueSize = cfg.Tracker.QueueSize
	ec.SweepInterval = cfg.Tracker.SweepInterval
	ec.FlushInterval = cfg.Tracker.FlushInterval
	ec.AsyncSave = cfg.Tracker.AsyncSave

	switch cfg.Feed.Source {
	case SourceWatch, SourceStdin:
		ec.RestampTicks = true
	default:
		ec.SweepInterval = 0
	}
	return ec, ec.Validate()
}

// DetectionDir returns the drop directory watched by the watch source.
func DetectionDir(cfg *config.Config) string {
	return notify.NewDetectionWriter(cfg.Storage.DataPath, nil).Dir()
}

// RunFeed pushes ticks from the configured source into eng until the source
// ends or ctx is done. A finite source returns nil once fully queued.
func RunFeed(ctx context.Context, cfg *config.Config, eng *engine.PresenceEngine, stdin io.Reader) error {
	switch cfg.Feed.Source {
	case SourceWatch:
		return watchFeed(ctx, cfg, eng)
	case SourceStdin:
		return feed.PushAll(ctx, eng.Queue(), stdin)
	default:
		f, err := os.Open(cfg.Feed.Source)
		if err != nil {
			return fmt.Errorf("app: open feed: %w", err)
		}
		defer f.Close()
		return feed.PushAll(ctx, eng.Queue(), f)
	}
}

func watchFeed(ctx context.Context, cfg *config.Config, eng *engine.PresenceEngine) error {
	watcher := notify.NewDetectionWatcher(cfg.Storage.DataPath, func(t feed.Tick) {
		pushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := eng.Submit(pushCtx, t); err != nil && !errors.Is(err, feed.ErrQueueClosed) {
			log.Printf("WARNING: app: dropped detection: %v", err)
		}
	})
	if err := watcher.Start(); err != nil {
		return err
	}
	log.Printf("app: watching %s for detections", DetectionDir(cfg))

	<-ctx.Done()
	watcher.Stop()
	return nil
}

// BackupConfig maps the backup settings onto a service reading from src.
// An unparsable interval falls back to the service default.
func BackupConfig(cfg *config.Config, src backup.Source) backup.BackupConfig {
	bc := backup.BackupConfig{
		Source:        src,
		BackupDir:     cfg.Backup.BackupPath,
		VerifyBackups: cfg.Backup.BackupVerify,
		Retention: backup.RetentionPolicy{
			Hourly:  cfg.Backup.BackupRetentionHourly,
			Daily:   cfg.Backup.BackupRetentionDaily,
			Weekly:  cfg.Backup.BackupRetentionWeekly,
			Monthly: cfg.Backup.BackupRetentionMonthly,
		},
	}
	if cfg.Backup.BackupInterval != "" {
		d, err := time.ParseDuration(cfg.Backup.BackupInterval)
		if err != nil {
			log.Printf("WARNING: app: invalid backup interval %q: %v", cfg.Backup.BackupInterval, err)
		} else {
			bc.Interval = d
		}
	}
	return bc
}
