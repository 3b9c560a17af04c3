// Package config provides configuration management for the dwell tracker.
// It loads settings from environment variables with the DWELL_ prefix
// and provides sensible defaults for all configuration options.
//
// Tracker tunables (grace_period, duration_policy) can also be persisted to
// the settings table of the sqlite or postgres ledger. LoadConfigFromStore
// reads those first and falls back to environment variables. SaveToStore
// writes them back.
package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings keys persisted in the settings table.
const (
	SettingGracePeriod    = "grace_period"
	SettingDurationPolicy = "duration_policy"
)

// Config holds all configuration settings for the tracker.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Tracker  TrackerConfig
	Feed     FeedConfig
	Security SecurityConfig
	Backup   BackupConfig
	Features FeaturesConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port int    // Server port (default: 6464)
	Host string // Server host (default: 127.0.0.1)
}

// StorageConfig contains ledger storage configuration.
type StorageConfig struct {
	StorageEngine string // Ledger backend: json, sqlite, postgres (default: sqlite)
	DataPath      string // Path to data directory (default: ./data)
	PostgresDSN   string // Connection string when StorageEngine is postgres
}

// TrackerConfig contains presence tracking tunables.
type TrackerConfig struct {
	GracePeriod    time.Duration // Max gap between detections before departure (default: 3s)
	DurationPolicy string        // last_seen or sweep (default: last_seen)
	SweepInterval  time.Duration // Interval of empty ticks when no feed arrives (default: 1s)
	Unrecognized   string        // Recognizer "no match" label (default: unknown)
	CatalogPath    string        // Enrolment directory or YAML roster (default: ./pics)
	AsyncSave      bool          // Persist ledger off the tick path (default: false)
	FlushInterval  time.Duration // Periodic ledger flush, 0 disables (default: 0)
	QueueSize      int           // Tick queue capacity (default: 256)
}

// FeedConfig selects where detection ticks come from.
type FeedConfig struct {
	Source string // watch, stdin, or a path to a JSON-lines file (default: watch)
}

// SecurityConfig contains security and authentication settings.
type SecurityConfig struct {
	SecurityMode string // Security mode: development, production (default: development)
	APIToken     string // API authentication token
	RateLimitRPS int    // Requests per second per client, 0 disables (default: 20)
}

// BackupConfig contains backup configuration.
type BackupConfig struct {
	BackupEnabled          bool   // Enable automatic backups (default: false)
	BackupInterval         string // Backup interval duration (default: 24h)
	BackupPath             string // Path to backup directory (default: ./backups)
	BackupVerify           bool   // Verify backups after creation (default: true)
	BackupRetentionHourly  int    // Number of hourly backups to keep (default: 24)
	BackupRetentionDaily   int    // Number of daily backups to keep (default: 7)
	BackupRetentionWeekly  int    // Number of weekly backups to keep (default: 4)
	BackupRetentionMonthly int    // Number of monthly backups to keep (default: 12)
}

// FeaturesConfig contains feature flags.
type FeaturesConfig struct {
	EnableREST      bool // Enable REST API (default: true)
	EnableWebSocket bool // Enable /ws event stream (default: true)
	EnableMetrics   bool // Enable /metrics (default: true)
}

// SettingsStore reads and writes persisted key/value settings.
// GetSetting returns ok=false when the key is absent.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	SetSetting(ctx context.Context, key, value string) error
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// All environment variables use the DWELL_ prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromStore loads configuration from environment variables and the
// settings store. Stored values take precedence over environment variables.
func LoadConfigFromStore(ctx context.Context, s SettingsStore) (*Config, error) {
	if s == nil {
		return nil, errors.New("config: settings store is required")
	}

	cfg := buildBaseConfig()

	grace, ok, err := s.GetSetting(ctx, SettingGracePeriod)
	if err != nil {
		return nil, fmt.Errorf("config: failed to load %s: %w", SettingGracePeriod, err)
	}
	if ok {
		d, err := time.ParseDuration(grace)
		if err != nil {
			log.Printf("WARNING: config: ignoring stored %s %q: %v", SettingGracePeriod, grace, err)
		} else {
			cfg.Tracker.GracePeriod = d
		}
	}

	policy, ok, err := s.GetSetting(ctx, SettingDurationPolicy)
	if err != nil {
		return nil, fmt.Errorf("config: failed to load %s: %w", SettingDurationPolicy, err)
	}
	if ok && policy != "" {
		cfg.Tracker.DurationPolicy = policy
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromDB loads configuration using the settings table of a sqlite
// database. Returns an error if db is nil.
func LoadConfigFromDB(db *sql.DB) (*Config, error) {
	if db == nil {
		return nil, errors.New("config: database connection is required")
	}
	return LoadConfigFromStore(context.Background(), sqliteSettings{db: db})
}

// SaveToStore persists the tracker tunables to the settings store using
// upsert semantics so they survive restarts.
func (c *Config) SaveToStore(ctx context.Context, s SettingsStore) error {
	if s == nil {
		return errors.New("config: settings store is required")
	}
	if err := s.SetSetting(ctx, SettingGracePeriod, c.Tracker.GracePeriod.String()); err != nil {
		return fmt.Errorf("config: failed to save %s: %w", SettingGracePeriod, err)
	}
	if err := s.SetSetting(ctx, SettingDurationPolicy, c.Tracker.DurationPolicy); err != nil {
		return fmt.Errorf("config: failed to save %s: %w", SettingDurationPolicy, err)
	}
	return nil
}

// SaveConfig persists the tracker tunables to a sqlite settings table.
// Returns an error if db is nil.
func (c *Config) SaveConfig(db *sql.DB) error {
	if db == nil {
		return errors.New("config: database connection is required")
	}
	return c.SaveToStore(context.Background(), sqliteSettings{db: db})
}

// Validate rejects unknown enum values and clamps out-of-range numbers to
// their defaults.
func (c *Config) Validate() error {
	switch c.Storage.StorageEngine {
	case "json", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage engine %q (want json, sqlite or postgres)", c.Storage.StorageEngine)
	}
	if c.Storage.StorageEngine == "postgres" && c.Storage.PostgresDSN == "" {
		return errors.New("config: DWELL_POSTGRES_DSN is required for the postgres engine")
	}

	switch c.Tracker.DurationPolicy {
	case "last_seen", "sweep":
	default:
		return fmt.Errorf("config: unknown duration policy %q (want last_seen or sweep)", c.Tracker.DurationPolicy)
	}

	if c.Tracker.GracePeriod < 0 {
		log.Printf("WARNING: config: negative grace period %v, using 3s", c.Tracker.GracePeriod)
		c.Tracker.GracePeriod = 3 * time.Second
	}
	if c.Tracker.SweepInterval <= 0 {
		c.Tracker.SweepInterval = time.Second
	}
	if c.Tracker.FlushInterval < 0 {
		c.Tracker.FlushInterval = 0
	}
	if c.Tracker.QueueSize <= 0 {
		c.Tracker.QueueSize = 256
	}
	if strings.TrimSpace(c.Tracker.Unrecognized) == "" {
		c.Tracker.Unrecognized = "unknown"
	}
	if c.Security.RateLimitRPS < 0 {
		c.Security.RateLimitRPS = 0
	}
	return nil
}

// sqliteSettings adapts a sqlite *sql.DB to SettingsStore.
type sqliteSettings struct {
	db *sql.DB
}

func (s sqliteSettings) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s sqliteSettings) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("DWELL_PORT", 6464),
			Host: getEnv("DWELL_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("DWELL_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("DWELL_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("DWELL_POSTGRES_DSN", ""),
		},
		Tracker: TrackerConfig{
			GracePeriod:    getEnvDuration("DWELL_GRACE_PERIOD", 3*time.Second),
			DurationPolicy: getEnv("DWELL_DURATION_POLICY", "last_seen"),
			SweepInterval:  getEnvDuration("DWELL_SWEEP_INTERVAL", time.Second),
			Unrecognized:   getEnv("DWELL_UNRECOGNIZED_LABEL", "unknown"),
			CatalogPath:    getEnv("DWELL_CATALOG_PATH", "./pics"),
			AsyncSave:      getEnvBool("DWELL_ASYNC_SAVE", false),
			FlushInterval:  getEnvDuration("DWELL_FLUSH_INTERVAL", 0),
			QueueSize:      getEnvInt("DWELL_QUEUE_SIZE", 256),
		},
		Feed: FeedConfig{
			Source: getEnv("DWELL_FEED", "watch"),
		},
		Security: SecurityConfig{
			SecurityMode: getEnv("DWELL_SECURITY_MODE", "development"),
			APIToken:     getEnv("DWELL_API_TOKEN", ""),
			RateLimitRPS: getEnvInt("DWELL_RATE_LIMIT_RPS", 20),
		},
		Backup: BackupConfig{
			BackupEnabled:          getEnvBool("DWELL_BACKUP_ENABLED", false),
			BackupInterval:         getEnv("DWELL_BACKUP_INTERVAL", "24h"),
			BackupPath:             getEnv("DWELL_BACKUP_PATH", "./backups"),
			BackupVerify:           getEnvBool("DWELL_BACKUP_VERIFY", true),
			BackupRetentionHourly:  getEnvInt("DWELL_BACKUP_RETENTION_HOURLY", 24),
			BackupRetentionDaily:   getEnvInt("DWELL_BACKUP_RETENTION_DAILY", 7),
			BackupRetentionWeekly:  getEnvInt("DWELL_BACKUP_RETENTION_WEEKLY", 4),
			BackupRetentionMonthly: getEnvInt("DWELL_BACKUP_RETENTION_MONTHLY", 12),
		},
		Features: FeaturesConfig{
			EnableREST:      getEnvBool("DWELL_ENABLE_REST", true),
			EnableWebSocket: getEnvBool("DWELL_ENABLE_WEBSOCKET", true),
			EnableMetrics:   getEnvBool("DWELL_ENABLE_METRICS", true),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable ("3s", "1.5s") or
// returns a default value. A bare number is read as seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
