// Package config defines service configuration structures and loading hooks.
package config

import (
	"context"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// DailyQuota is the number of rolls a player gets per day.
	DailyQuota int `koanf:"daily_quota"`
	// Cooldown is the minimum spacing between two rolls of one player. Zero disables it.
	Cooldown time.Duration `koanf:"cooldown"`
	// Timezone is the IANA zone that defines day and week boundaries.
	Timezone string `koanf:"timezone"`
	// BoundaryCheckInterval is how often the scheduler looks for periods to close.
	BoundaryCheckInterval time.Duration `koanf:"boundary_check_interval"`
	// RetentionDays bounds how long closed periods stay in memory.
	RetentionDays int `koanf:"retention_days"`

	// MaxLeaderboardLimit caps GET /leaderboard/*?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`
	// DefaultLeaderboardLimit applies when limit is omitted.
	DefaultLeaderboardLimit int `koanf:"default_leaderboard_limit"`

	// IdempotencyCacheSize bounds the X-Idempotency-Key replay cache.
	IdempotencyCacheSize int `koanf:"idempotency_cache_size"`

	// DispatchQueueSize bounds the closure queue.
	DispatchQueueSize int `koanf:"dispatch_queue_size"`
	// DispatchWorkers sets the number of dispatch workers.
	DispatchWorkers int `koanf:"dispatch_workers"`
	// DispatchRetries is the number of extra attempts per dispatcher.
	DispatchRetries int `koanf:"dispatch_retries"`

	// DatabasePath is the SQLite journal file; empty keeps state in memory only.
	DatabasePath string `koanf:"database_path"`

	KafkaEnabled bool     `koanf:"kafka_enabled"`
	KafkaBrokers []string `koanf:"kafka_brokers"`
	KafkaTopic   string   `koanf:"kafka_topic"`

	RedisEnabled  bool          `koanf:"redis_enabled"`
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	RedisTTL      time.Duration `koanf:"redis_ttl"`

	// SkinDefault is shown to players without an entitled skin.
	SkinDefault string `koanf:"skin_default"`
	// SkinTags maps entitlement tags to skins as "tag:skin".
	SkinTags []string `koanf:"skin_tags"`
	// SkinPriority orders tags when a player holds several.
	SkinPriority []string `koanf:"skin_priority"`
	// Entitlements seeds the static oracle as "player:tag1|tag2".
	Entitlements []string `koanf:"entitlements"`
}

// New returns a Config populated with defaults. The context is reserved for
// loaders that need it.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		DailyQuota:              50,
		Timezone:                "UTC",
		BoundaryCheckInterval:   time.Second,
		RetentionDays:           35,
		MaxLeaderboardLimit:     100,
		DefaultLeaderboardLimit: 10,
		IdempotencyCacheSize:    50_000,
		DispatchQueueSize:       1024,
		DispatchWorkers:         2,
		DispatchRetries:         3,
		KafkaTopic:              "rollboard-closures",
		RedisAddr:               "localhost:6379",
		RedisTTL:                30 * 24 * time.Hour,
		SkinDefault:             "classic",
	}
}
