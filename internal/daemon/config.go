// Package daemon manages the engine's lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/valdirmariano/altaper4mance-sub000/internal/api"
	"github.com/valdirmariano/altaper4mance-sub000/internal/app/progression"
	"github.com/valdirmariano/altaper4mance-sub000/internal/infra/scheduler"
	"github.com/valdirmariano/altaper4mance-sub000/internal/logging"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config holds all daemon configuration.
type Config struct {
	Instance    InstanceConfig    `toml:"instance"`
	API         APIConfig         `toml:"api"`
	Store       StoreConfig       `toml:"store"`
	Persistence PersistenceConfig `toml:"persistence"`
	Catalog     CatalogConfig     `toml:"catalog"`
	Streak      StreakConfig      `toml:"streak"`
	Auth        AuthConfig        `toml:"auth"`
	Events      EventsConfig      `toml:"events"`
	Health      HealthConfig      `toml:"health"`
	Logging     logging.Config    `toml:"logging"`
	Telemetry   TelemetryConfig   `toml:"telemetry"`
}

// InstanceConfig identifies this engine instance among its peers.
type InstanceConfig struct {
	ID string `toml:"id"` // empty = hostname
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// StoreConfig selects and configures the stats store.
type StoreConfig struct {
	Driver        string `toml:"driver"` // memory, sqlite, postgres, redis
	SQLiteDir     string `toml:"sqlite_dir"`
	PostgresDSN   string `toml:"postgres_dsn"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
}

// PersistenceConfig tunes the write-behind persister.
type PersistenceConfig struct {
	Workers       int    `toml:"workers"`
	FlushInterval string `toml:"flush_interval"`
	MaxRetries    int    `toml:"max_retries"`
	BaseDelay     string `toml:"base_delay"`
	MaxDelay      string `toml:"max_delay"`
	ShutdownGrace string `toml:"shutdown_grace"`
	IdleTTL       string `toml:"idle_ttl"` // "0" keeps users cached forever
}

// CatalogConfig points at an optional badge catalog override.
type CatalogConfig struct {
	File  string `toml:"file"` // empty = built-in catalog
	Watch bool   `toml:"watch"`
}

// StreakConfig controls how calendar days are computed.
type StreakConfig struct {
	Timezone string `toml:"timezone"` // IANA name, e.g. "America/Sao_Paulo"
}

// AuthConfig lists users allowed to report events. Empty = development mode.
type AuthConfig struct {
	Users []api.Credential `toml:"users"`
}

// EventsConfig controls transition fan-out between instances.
type EventsConfig struct {
	RedisChannel string `toml:"redis_channel"`
}

// HealthConfig tunes the health checker.
type HealthConfig struct {
	Interval   string `toml:"interval"`
	MaxBacklog int    `toml:"max_backlog"`
}

// TelemetryConfig controls the Prometheus endpoint.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	home := Home()
	return Config{
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        8420,
			CORSOrigins: []string{"*"},
		},
		Store: StoreConfig{
			Driver:    DriverSQLite,
			SQLiteDir: home,
			RedisAddr: "localhost:6379",
		},
		Persistence: PersistenceConfig{
			Workers:       2,
			FlushInterval: "1s",
			MaxRetries:    5,
			BaseDelay:     "500ms",
			MaxDelay:      "30s",
			ShutdownGrace: "10s",
			IdleTTL:       "10m",
		},
		Streak: StreakConfig{
			Timezone: "UTC",
		},
		Events: EventsConfig{
			RedisChannel: "altaper4mance:transitions",
		},
		Health: HealthConfig{
			Interval:   "30s",
			MaxBacklog: 1000,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
	}
}

// LoadConfig reads config from $ALTAPER4MANCE_HOME/config.toml, falling
// back to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(ConfigPath())
}

// LoadConfigFrom reads config from path. A missing file yields defaults.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet, use defaults
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("parse config: unknown key %q", undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail at startup.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite, DriverRedis:
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("config: store.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for name, v := range map[string]string{
		"persistence.flush_interval": c.Persistence.FlushInterval,
		"persistence.base_delay":     c.Persistence.BaseDelay,
		"persistence.max_delay":      c.Persistence.MaxDelay,
		"persistence.shutdown_grace": c.Persistence.ShutdownGrace,
		"persistence.idle_ttl":       c.Persistence.IdleTTL,
		"health.interval":            c.Health.Interval,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
	}
	for _, u := range c.Auth.Users {
		if u.UserID == "" || u.TokenHash == "" {
			return fmt.Errorf("config: auth.users entries need id and token_hash")
		}
	}
	return nil
}

// Location returns the streak timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Streak.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Streak.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: streak.timezone: %w", err)
	}
	return loc, nil
}

// WriteBehind returns the persister settings.
func (c Config) WriteBehind() scheduler.WriteBehindConfig {
	def := scheduler.DefaultWriteBehindConfig()
	out := scheduler.WriteBehindConfig{
		Workers:       c.Persistence.Workers,
		FlushInterval: parseDuration(c.Persistence.FlushInterval, def.FlushInterval),
		Retry: scheduler.RetryConfig{
			MaxRetries: c.Persistence.MaxRetries,
			BaseDelay:  parseDuration(c.Persistence.BaseDelay, def.Retry.BaseDelay),
			MaxDelay:   parseDuration(c.Persistence.MaxDelay, def.Retry.MaxDelay),
			Jitter:     def.Retry.Jitter,
		},
	}
	if out.Workers <= 0 {
		out.Workers = def.Workers
	}
	if out.Retry.MaxRetries <= 0 {
		out.Retry.MaxRetries = def.Retry.MaxRetries
	}
	return out
}

// IdleTTL returns how long a flushed user stays cached without activity.
func (c Config) IdleTTL() time.Duration {
	return parseDuration(c.Persistence.IdleTTL, progression.DefaultIdleTTL)
}

// InstanceID returns the configured id or the host name.
func (c Config) InstanceID() string {
	if c.Instance.ID != "" {
		return c.Instance.ID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "altaper4mance"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func (c Config) sqliteDir() string {
	if c.Store.SQLiteDir != "" {
		return c.Store.SQLiteDir
	}
	return Home()
}

// SaveConfig writes the config to $ALTAPER4MANCE_HOME/config.toml.
func SaveConfig(cfg Config) error {
	return SaveConfigTo(ConfigPath(), cfg)
}

// SaveConfigTo writes the config to path.
func SaveConfigTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(Home(), "config.toml")
}

// Home returns the data directory.
func Home() string {
	if env := os.Getenv("ALTAPER4MANCE_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".altaper4mance")
}

// parseDuration parses a duration string, returning a fallback on error.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
