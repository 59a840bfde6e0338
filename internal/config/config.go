package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration from environment and optional config file.
type Config struct {
	HTTPPort      string
	DBDriver      string
	DatabaseURL   string
	SQLitePath    string
	DBPoolSize    int
	RedisURL      string
	RedisPoolSize int
	CacheDriver   string
	CachePrefix   string
	CacheTTL      int // seconds

	QueueDriver     string
	KafkaBrokers    []string
	KafkaTopic      string
	KafkaPartitions int

	PurgeQueueKey     string
	PurgeDelay        time.Duration
	PurgeMaxAttempts  int
	PurgeRetryBackoff time.Duration
	PurgePollInterval time.Duration

	JWTSecret string
	LogLevel  string
	Timezone  string
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverKV       = "kv"
	DriverKafka    = "kafka"
)

var (
	cfg     *Config
	cfgErr  error
	cfgOnce sync.Once
)

// Get returns the application config, loading it on first use.
func Get() (*Config, error) {
	cfgOnce.Do(func() {
		cfg, cfgErr = Load()
	})
	return cfg, cfgErr
}

// Load reads configuration from the environment and ./config.yaml if present.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	v.AutomaticEnv()
	return load(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("SQLITE_PATH", "tasks.db")
	v.SetDefault("DB_POOL_SIZE", 20)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("REDIS_POOL_SIZE", 50)
	v.SetDefault("CACHE_DRIVER", DriverRedis)
	v.SetDefault("CACHE_PREFIX", "task-manager:")
	v.SetDefault("CACHE_TTL_SEC", 3600)
	v.SetDefault("QUEUE_DRIVER", DriverRedis)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_PURGE_TOPIC", "task-purges")
	v.SetDefault("KAFKA_PARTITIONS", 4)
	v.SetDefault("PURGE_QUEUE_KEY", "tasks:purge:delayed")
	v.SetDefault("PURGE_DELAY", "10m")
	v.SetDefault("PURGE_MAX_ATTEMPTS", 3)
	v.SetDefault("PURGE_RETRY_BACKOFF", "30s")
	v.SetDefault("PURGE_POLL_INTERVAL", "1s")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("TIMEZONE", "UTC")
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	c := &Config{
		HTTPPort:          v.GetString("HTTP_PORT"),
		DBDriver:          strings.ToLower(v.GetString("DB_DRIVER")),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		SQLitePath:        v.GetString("SQLITE_PATH"),
		DBPoolSize:        v.GetInt("DB_POOL_SIZE"),
		RedisURL:          v.GetString("REDIS_URL"),
		RedisPoolSize:     v.GetInt("REDIS_POOL_SIZE"),
		CacheDriver:       strings.ToLower(v.GetString("CACHE_DRIVER")),
		CachePrefix:       v.GetString("CACHE_PREFIX"),
		CacheTTL:          v.GetInt("CACHE_TTL_SEC"),
		QueueDriver:       strings.ToLower(v.GetString("QUEUE_DRIVER")),
		KafkaBrokers:      splitList(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:        v.GetString("KAFKA_PURGE_TOPIC"),
		KafkaPartitions:   v.GetInt("KAFKA_PARTITIONS"),
		PurgeQueueKey:     v.GetString("PURGE_QUEUE_KEY"),
		PurgeDelay:        v.GetDuration("PURGE_DELAY"),
		PurgeMaxAttempts:  v.GetInt("PURGE_MAX_ATTEMPTS"),
		PurgeRetryBackoff: v.GetDuration("PURGE_RETRY_BACKOFF"),
		PurgePollInterval: v.GetDuration("PURGE_POLL_INTERVAL"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		LogLevel:          strings.ToLower(v.GetString("LOG_LEVEL")),
		Timezone:          v.GetString("TIMEZONE"),
	}
	return c, c.validate()
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DBDriver)
	}
	switch c.CacheDriver {
	case DriverRedis, DriverKV:
	default:
		return fmt.Errorf("CACHE_DRIVER must be %q or %q, got %q", DriverRedis, DriverKV, c.CacheDriver)
	}
	switch c.QueueDriver {
	case DriverRedis, DriverKafka:
	default:
		return fmt.Errorf("QUEUE_DRIVER must be %q or %q, got %q", DriverRedis, DriverKafka, c.QueueDriver)
	}
	if c.QueueDriver == DriverRedis {
		if c.PurgeQueueKey == "" {
			return fmt.Errorf("PURGE_QUEUE_KEY must not be empty")
		}
		// cache flushes delete every key under CACHE_PREFIX
		if strings.HasPrefix(c.PurgeQueueKey, c.CachePrefix) {
			return fmt.Errorf("CACHE_PREFIX %q must not cover PURGE_QUEUE_KEY %q", c.CachePrefix, c.PurgeQueueKey)
		}
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL_SEC must be positive, got %d", c.CacheTTL)
	}
	if c.PurgeDelay < 0 {
		return fmt.Errorf("PURGE_DELAY must not be negative, got %s", c.PurgeDelay)
	}
	if c.PurgeMaxAttempts < 1 {
		return fmt.Errorf("PURGE_MAX_ATTEMPTS must be at least 1, got %d", c.PurgeMaxAttempts)
	}
	if c.PurgePollInterval <= 0 {
		return fmt.Errorf("PURGE_POLL_INTERVAL must be positive, got %s", c.PurgePollInterval)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE: %w", err)
	}
	return nil
}

// CacheTTLDuration returns CacheTTL as a duration.
func (c *Config) CacheTTLDuration() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// Location returns the configured timezone used for the "today" date rule.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
