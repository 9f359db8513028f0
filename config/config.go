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
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Scanner    ScannerConfig    `yaml:"scanner"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// RealtimeConfig holds the pub/sub hub configuration.
type RealtimeConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// ScannerConfig holds the scanning-client protocol knobs.
type ScannerConfig struct {
	DedupWindowMS         int           `yaml:"dedup_window_ms"`
	ConnectTimeoutSeconds int           `yaml:"connect_timeout_seconds"`
	ResultsGraceMS        int           `yaml:"results_grace_ms"`
	RingCapacity          int           `yaml:"ring_capacity"`
	ScanLogPath           string        `yaml:"scan_log_path"`
	ScanLogCap            int           `yaml:"scan_log_cap"`
	DedupWindow           time.Duration `yaml:"-"`
	ConnectTimeout        time.Duration `yaml:"-"`
	ResultsGrace          time.Duration `yaml:"-"`
}

// DashboardConfig holds the dashboard-side knobs.
type DashboardConfig struct {
	PollIntervalSeconds int           `yaml:"poll_interval_seconds"`
	PopupTTLSeconds     int           `yaml:"popup_ttl_seconds"`
	ShowPopups          bool          `yaml:"show_popups"`
	PollInterval        time.Duration `yaml:"-"`
	PopupTTL            time.Duration `yaml:"-"`
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

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Scanner.DedupWindowMS <= 0 {
		cfg.Scanner.DedupWindowMS = 3000
	}
	cfg.Scanner.DedupWindow = time.Duration(cfg.Scanner.DedupWindowMS) * time.Millisecond

	if cfg.Scanner.ConnectTimeoutSeconds <= 0 {
		cfg.Scanner.ConnectTimeoutSeconds = 10
	}
	cfg.Scanner.ConnectTimeout = time.Duration(cfg.Scanner.ConnectTimeoutSeconds) * time.Second

	if cfg.Scanner.ResultsGraceMS <= 0 {
		cfg.Scanner.ResultsGraceMS = 1000
	}
	cfg.Scanner.ResultsGrace = time.Duration(cfg.Scanner.ResultsGraceMS) * time.Millisecond

	if cfg.Scanner.RingCapacity <= 0 {
		cfg.Scanner.RingCapacity = 50
	}
	if cfg.Scanner.ScanLogCap <= 0 {
		cfg.Scanner.ScanLogCap = 200
	}
	if cfg.Scanner.ScanLogPath == "" {
		cfg.Scanner.ScanLogPath = "./scan_log.db"
	}

	if cfg.Dashboard.PollIntervalSeconds <= 0 {
		cfg.Dashboard.PollIntervalSeconds = 3
	}
	cfg.Dashboard.PollInterval = time.Duration(cfg.Dashboard.PollIntervalSeconds) * time.Second

	if cfg.Dashboard.PopupTTLSeconds <= 0 {
		cfg.Dashboard.PopupTTLSeconds = 5
	}
	cfg.Dashboard.PopupTTL = time.Duration(cfg.Dashboard.PopupTTLSeconds) * time.Second

	return &cfg, nil
}
