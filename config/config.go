package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Database   DatabaseConfig   `yaml:"database"`
	LocalStore LocalStoreConfig `yaml:"local_store"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the coordination service configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	StoreName       string  `yaml:"store_name"`
	APIKey          string  `yaml:"api_key"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// RemoteConfig holds the device-side settings for reaching the
// coordination service.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"` // Ignored by YAML parser
	HTTPProxy      string        `yaml:"http_proxy"`
	APIKey         string        `yaml:"api_key"`
}

// SyncConfig holds the write-queue drain settings.
type SyncConfig struct {
	DrainIntervalSeconds int           `yaml:"drain_interval_seconds"`
	DrainInterval        time.Duration `yaml:"-"`
	ProbeIntervalSeconds int           `yaml:"probe_interval_seconds"`
	ProbeInterval        time.Duration `yaml:"-"`
	MaxAttempts          int           `yaml:"max_attempts"`
}

// DatabaseConfig holds the server-side order catalogue connection settings.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// LocalStoreConfig holds the on-device durable store settings.
type LocalStoreConfig struct {
	Path string `yaml:"path"`
}

// PushConfig holds the VAPID keys for supervisor web push alerts.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the alert worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Remote.TimeoutSeconds <= 0 {
		cfg.Remote.TimeoutSeconds = 10
	}
	cfg.Remote.Timeout = time.Duration(cfg.Remote.TimeoutSeconds) * time.Second

	if cfg.Sync.DrainIntervalSeconds <= 0 {
		cfg.Sync.DrainIntervalSeconds = 30
	}
	cfg.Sync.DrainInterval = time.Duration(cfg.Sync.DrainIntervalSeconds) * time.Second

	if cfg.Sync.ProbeIntervalSeconds <= 0 {
		cfg.Sync.ProbeIntervalSeconds = 15
	}
	cfg.Sync.ProbeInterval = time.Duration(cfg.Sync.ProbeIntervalSeconds) * time.Second

	if cfg.Sync.MaxAttempts <= 0 {
		cfg.Sync.MaxAttempts = 3
	}

	if cfg.LocalStore.Path == "" {
		cfg.LocalStore.Path = "./picking.db"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
