package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Database DatabaseConfig
	Presence PresenceConfig
	Catalog  CatalogConfig
	Identity IdentityConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Addr     string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers []string
	Enabled bool
	Topics  TopicConfig
}

type TopicConfig struct {
	CheckedIn       string
	Archived        string
	ReportSubmitted string
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// PresenceConfig carries the tunables of the presence engine. TTLFloor and
// MinLead mirror the product rules: a check-in always lives at least a
// minute, and a planned departure must be at least ten minutes out.
type PresenceConfig struct {
	TTLFloor      time.Duration
	MinLead       time.Duration
	ReportTTL     time.Duration
	ShadowGrace   time.Duration
	SweepInterval time.Duration
}

type CatalogConfig struct {
	BaseURL string
	Timeout time.Duration
}

type IdentityConfig struct {
	BaseURL string
	Timeout time.Duration
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8086"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Kafka: KafkaConfig{
			Brokers: []string{getEnv("KAFKA_ADDR", "localhost:9092")},
			Enabled: getEnvBool("KAFKA_ENABLED", true),
			Topics: TopicConfig{
				CheckedIn:       getEnv("KAFKA_TOPIC_CHECKEDIN", "arcade.presence.checkedin"),
				Archived:        getEnv("KAFKA_TOPIC_ARCHIVED", "arcade.presence.archived"),
				ReportSubmitted: getEnv("KAFKA_TOPIC_REPORTS", "arcade.reports.submitted"),
			},
		},
		Database: DatabaseConfig{
			DSN:          getEnv("POSTGRES_DSN", ""),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
		},
		Presence: PresenceConfig{
			TTLFloor:      time.Duration(getEnvInt("PRESENCE_TTL_FLOOR_SECONDS", 60)) * time.Second,
			MinLead:       time.Duration(getEnvInt("PRESENCE_MIN_LEAD_MINUTES", 10)) * time.Minute,
			ReportTTL:     time.Duration(getEnvInt("REPORT_TTL_HOURS", 24)) * time.Hour,
			ShadowGrace:   time.Duration(getEnvInt("PRESENCE_SHADOW_GRACE_MINUTES", 30)) * time.Minute,
			SweepInterval: time.Duration(getEnvInt("PRESENCE_SWEEP_INTERVAL_MINUTES", 15)) * time.Minute,
		},
		Catalog: CatalogConfig{
			BaseURL: getEnv("CATALOG_SERVICE_URL", "http://localhost:8081"),
			Timeout: 10 * time.Second,
		},
		Identity: IdentityConfig{
			BaseURL: getEnv("IDENTITY_SERVICE_URL", "http://localhost:8082"),
			Timeout: 10 * time.Second,
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
