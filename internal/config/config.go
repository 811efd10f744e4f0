package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"apiKey"`
}

type RateLimitConfig struct {
	DefaultPerMinute int `yaml:"defaultPerMinute"`
}

type BrowserConfig struct {
	TimeoutMs      int    `yaml:"timeoutMs"`
	UserAgent      string `yaml:"userAgent"`
	MaxContexts    int    `yaml:"maxContexts"`
	ScriptsDir     string `yaml:"scriptsDir"`
	ViewportWidth  int    `yaml:"viewportWidth"`
	ViewportHeight int    `yaml:"viewportHeight"`
}

type RobotsConfig struct {
	Respect bool `yaml:"respect"`
}

type RedisConfig struct {
	URL            string `yaml:"url"`
	Enabled        bool   `yaml:"enabled"`
	MigrationPhase int    `yaml:"migrationPhase"`
}

type CacheConfig struct {
	Dir                    string `yaml:"dir"`
	TTLSeconds             int    `yaml:"ttlSeconds"`
	CleanupIntervalMinutes int    `yaml:"cleanupIntervalMinutes"`
}

type QueueConfig struct {
	Name                  string `yaml:"name"`
	LockTTLSeconds        int    `yaml:"lockTTLSeconds"`
	DequeueTimeoutSeconds int    `yaml:"dequeueTimeoutSeconds"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Browser   BrowserConfig   `yaml:"browser"`
	Robots    RobotsConfig    `yaml:"robots"`
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Queue     QueueConfig     `yaml:"queue"`
}

// Load reads the YAML config file, applies defaults and environment
// overrides, and terminates the process when the file is unreadable.
func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Browser.TimeoutMs <= 0 {
		cfg.Browser.TimeoutMs = 60000
	}
	if cfg.Browser.MaxContexts <= 0 {
		cfg.Browser.MaxContexts = 4
	}
	if cfg.Browser.ViewportWidth <= 0 {
		cfg.Browser.ViewportWidth = 1280
	}
	if cfg.Browser.ViewportHeight <= 0 {
		cfg.Browser.ViewportHeight = 720
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Redis.MigrationPhase == 0 {
		cfg.Redis.MigrationPhase = 1
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "var/cache"
	}
	if cfg.Cache.TTLSeconds <= 0 {
		cfg.Cache.TTLSeconds = 3600
	}
	if cfg.Cache.CleanupIntervalMinutes <= 0 {
		cfg.Cache.CleanupIntervalMinutes = 60
	}
	if cfg.Queue.Name == "" {
		cfg.Queue.Name = "deep_scrape_jobs"
	}
	if cfg.Queue.LockTTLSeconds <= 0 {
		cfg.Queue.LockTTLSeconds = 600
	}
	if cfg.Queue.DequeueTimeoutSeconds <= 0 {
		cfg.Queue.DequeueTimeoutSeconds = 10
	}
}

// applyEnvOverrides honors the operational knobs that deployments set
// without editing the config file.
func (cfg *Config) applyEnvOverrides() {
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = strings.EqualFold(v, "true")
	}
	if v := os.Getenv("REDIS_MIGRATION_PHASE"); v != "" {
		if phase, err := strconv.Atoi(v); err == nil {
			cfg.Redis.MigrationPhase = phase
		}
	}
	if v := os.Getenv("REDIS_QUEUE_NAME"); v != "" {
		cfg.Queue.Name = v
	}
	if v := os.Getenv("LOCK_TTL_SECONDS"); v != "" {
		if ttl, err := strconv.Atoi(v); err == nil && ttl > 0 {
			cfg.Queue.LockTTLSeconds = ttl
		}
	}
	if v := os.Getenv("BROWSER_CONTEXT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Browser.MaxContexts = n
		}
	}
}

// Validate performs sanity checks on the loaded configuration so that
// obviously broken deployments fail at startup rather than mid-crawl.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if cfg.Redis.Enabled {
		u, err := url.Parse(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis.url is not a valid URL: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("redis.url must use the redis:// or rediss:// scheme, got %q", u.Scheme)
		}
	}

	if cfg.Redis.MigrationPhase < 1 || cfg.Redis.MigrationPhase > 3 {
		return fmt.Errorf("redis.migrationPhase must be 1, 2, or 3, got %d", cfg.Redis.MigrationPhase)
	}

	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.APIKey) == "" {
		return errors.New("auth.enabled requires auth.apiKey to be set")
	}

	return nil
}
