package config

import (
    "fmt"
    "os"
    "strconv"
    "time"

    "github.com/joho/godotenv"
    "gopkg.in/yaml.v3"
)

const (
    BackendMemory   = "memory"
    BackendRedis    = "redis"
    BackendPostgres = "postgres"
)

type Config struct {
    Env        string `yaml:"env"`
    ListenAddr string `yaml:"listen_addr"`
    LogLevel   string `yaml:"log_level"`

    StoreBackend string `yaml:"store_backend"`
    DatabaseURL  string `yaml:"database_url"`
    RedisURL     string `yaml:"redis_url"`
    RedisPrefix  string `yaml:"redis_prefix"`

    GeminiAPIKey string `yaml:"gemini_api_key"`
    GeminiModel  string `yaml:"gemini_model"`
    IndexPath    string `yaml:"index_path"`

    PageLimit     int           `yaml:"page_limit"`
    ScrapeRate    float64       `yaml:"scrape_rate"`
    ScrapeTimeout time.Duration `yaml:"scrape_timeout"`
    UserAgent     string        `yaml:"user_agent"`

    MaxRetries        int           `yaml:"max_retries"`
    RetryBase         time.Duration `yaml:"retry_base"`
    ReplayRetention   time.Duration `yaml:"replay_retention"`
    IndexPollInterval time.Duration `yaml:"index_poll_interval"`
    IndexTimeout      time.Duration `yaml:"index_timeout"`
}

func defaults() Config {
    return Config{
        Env:               "development",
        ListenAddr:        ":8080",
        LogLevel:          "info",
        StoreBackend:      BackendMemory,
        RedisPrefix:       "scout:",
        IndexPath:         "scout-index.db",
        PageLimit:         8,
        ScrapeRate:        2,
        ScrapeTimeout:     20 * time.Second,
        UserAgent:         "scout/1.0",
        MaxRetries:        3,
        RetryBase:         500 * time.Millisecond,
        ReplayRetention:   30 * time.Second,
        IndexPollInterval: 2 * time.Second,
        IndexTimeout:      2 * time.Minute,
    }
}

// Load reads .env (if present), then the optional CONFIG_FILE overlay, then
// environment variables. Later sources win. Missing settings required by the
// selected backend are returned as an error alongside the loaded config so
// callers can decide.
func Load() (Config, error) {
    _ = godotenv.Load()

    cfg := defaults()
    if path := os.Getenv("CONFIG_FILE"); path != "" {
        if err := overlay(&cfg, path); err != nil {
            return cfg, err
        }
    }

    cfg.Env = getenv("APP_ENV", cfg.Env)
    cfg.ListenAddr = getenv("LISTEN_ADDR", cfg.ListenAddr)
    cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
    cfg.StoreBackend = getenv("STORE_BACKEND", cfg.StoreBackend)
    cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
    cfg.RedisURL = getenv("REDIS_URL", cfg.RedisURL)
    cfg.RedisPrefix = getenv("REDIS_PREFIX", cfg.RedisPrefix)
    cfg.GeminiAPIKey = getenv("GEMINI_API_KEY", cfg.GeminiAPIKey)
    cfg.GeminiModel = getenv("GEMINI_MODEL", cfg.GeminiModel)
    cfg.IndexPath = getenv("INDEX_PATH", cfg.IndexPath)
    cfg.PageLimit = getenvInt("PAGE_LIMIT", cfg.PageLimit)
    cfg.ScrapeRate = getenvFloat("SCRAPE_RATE", cfg.ScrapeRate)
    cfg.ScrapeTimeout = getenvDuration("SCRAPE_TIMEOUT", cfg.ScrapeTimeout)
    cfg.UserAgent = getenv("USER_AGENT", cfg.UserAgent)
    cfg.MaxRetries = getenvInt("MAX_RETRIES", cfg.MaxRetries)
    cfg.RetryBase = getenvDuration("RETRY_BASE", cfg.RetryBase)
    cfg.ReplayRetention = getenvDuration("REPLAY_RETENTION", cfg.ReplayRetention)
    cfg.IndexPollInterval = getenvDuration("INDEX_POLL_INTERVAL", cfg.IndexPollInterval)
    cfg.IndexTimeout = getenvDuration("INDEX_TIMEOUT", cfg.IndexTimeout)

    switch cfg.StoreBackend {
    case BackendMemory:
    case BackendRedis:
        if cfg.RedisURL == "" {
            return cfg, fmt.Errorf("REDIS_URL not set")
        }
    case BackendPostgres:
        if cfg.DatabaseURL == "" {
            return cfg, fmt.Errorf("DATABASE_URL not set")
        }
    default:
        return cfg, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
    }
    return cfg, nil
}

func overlay(cfg *Config, path string) error {
    b, err := os.ReadFile(path)
    if err != nil {
        return fmt.Errorf("read config file: %w", err)
    }
    if err := yaml.Unmarshal(b, cfg); err != nil {
        return fmt.Errorf("parse config file %s: %w", path, err)
    }
    return nil
}

func getenv(key, def string) string {
    if v := os.Getenv(key); v != "" {
        return v
    }
    return def
}

func getenvInt(key string, def int) int {
    if v := os.Getenv(key); v != "" {
        if out, err := strconv.Atoi(v); err == nil {
            return out
        }
    }
    return def
}

func getenvFloat(key string, def float64) float64 {
    if v := os.Getenv(key); v != "" {
        if out, err := strconv.ParseFloat(v, 64); err == nil {
            return out
        }
    }
    return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
    if v := os.Getenv(key); v != "" {
        if out, err := time.ParseDuration(v); err == nil {
            return out
        }
    }
    return def
}
