// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port           string `mapstructure:"PORT"`
	JWTSecret      string `mapstructure:"JWT_SECRET"`
	DBHost         string `mapstructure:"DB_HOST"`
	DBPort         string `mapstructure:"DB_PORT"`
	DBUser         string `mapstructure:"DB_USER"`
	DBPassword     string `mapstructure:"DB_PASSWORD"`
	DBName         string `mapstructure:"DB_NAME"`
	DBSSLMode      string `mapstructure:"DB_SSLMODE"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	Env            string `mapstructure:"APP_ENV"`

	// Media storage (MinIO / S3-compatible)
	MediaEndpoint  string `mapstructure:"MEDIA_ENDPOINT"`
	MediaAccessKey string `mapstructure:"MEDIA_ACCESS_KEY"`
	MediaSecretKey string `mapstructure:"MEDIA_SECRET_KEY"`
	MediaBucket    string `mapstructure:"MEDIA_BUCKET"`
	MediaUseSSL    bool   `mapstructure:"MEDIA_USE_SSL"`

	// Feed assembly tunables
	FeedPageSize       int           `mapstructure:"FEED_PAGE_SIZE"`
	EnrichTimeout      time.Duration `mapstructure:"ENRICH_TIMEOUT"`
	EnrichConcurrency  int           `mapstructure:"ENRICH_CONCURRENCY"`
	MediaURLTTL        time.Duration `mapstructure:"MEDIA_URL_TTL"`
	StalenessThreshold time.Duration `mapstructure:"STALENESS_THRESHOLD"`
	EventDedupWindow   int           `mapstructure:"EVENT_DEDUP_WINDOW"`

	// Feature flags, e.g. "live_events=on,media_rehydration=25%"
	FeatureFlags string `mapstructure:"FEATURE_FLAGS"`

	// Tracing
	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	SamplerRatio    float64 `mapstructure:"SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The config file is optional; environment variables and defaults cover
	// everything in development.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			log.Printf("No profile-specific config.%s.yml found, using environment and defaults", env)
		}
	}

	viper.SetDefault("PORT", "8480")
	viper.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "vantage")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	viper.SetDefault("APP_ENV", "development")

	viper.SetDefault("MEDIA_ENDPOINT", "localhost:9000")
	viper.SetDefault("MEDIA_ACCESS_KEY", "minioadmin")
	viper.SetDefault("MEDIA_SECRET_KEY", "minioadmin")
	viper.SetDefault("MEDIA_BUCKET", "vantage-media")
	viper.SetDefault("MEDIA_USE_SSL", false)

	viper.SetDefault("FEED_PAGE_SIZE", 20)
	viper.SetDefault("ENRICH_TIMEOUT", 10*time.Second)
	viper.SetDefault("ENRICH_CONCURRENCY", 8)
	viper.SetDefault("MEDIA_URL_TTL", 15*time.Minute)
	viper.SetDefault("STALENESS_THRESHOLD", 5*time.Minute)
	viper.SetDefault("EVENT_DEDUP_WINDOW", 512)

	viper.SetDefault("FEATURE_FLAGS", "live_events=on,media_rehydration=on")

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("SAMPLER_RATIO", 0.1)

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.FeedPageSize <= 0 {
		return errors.New("FEED_PAGE_SIZE must be positive")
	}
	if c.EnrichTimeout <= 0 {
		return errors.New("ENRICH_TIMEOUT must be positive")
	}
	if c.EnrichConcurrency <= 0 {
		return errors.New("ENRICH_CONCURRENCY must be positive")
	}
	if c.StalenessThreshold <= 0 {
		return errors.New("STALENESS_THRESHOLD must be positive")
	}

	isProduction := c.Env == "production" || c.Env == "prod"
	if isProduction {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			log.Println("WARNING: DB_SSLMODE is 'disable' in production. It is highly recommended to use SSL for database connections.")
		}
	}

	return nil
}
