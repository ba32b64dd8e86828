package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/enersight/peakline/internal/utils"
)

type Config struct {
	Environment string            `mapstructure:"environment"`
	LogLevel    string            `mapstructure:"log_level"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Classifier  ClassifierConfig  `mapstructure:"classifier"`
	Detection   DetectionConfig   `mapstructure:"detection"`
	Attribution AttributionConfig `mapstructure:"attribution"`
	Alerts      AlertsConfig      `mapstructure:"alerts"`
	Security    SecurityConfig    `mapstructure:"security"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// TriggerSecret authenticates the external cron caller on the
	// pipeline trigger endpoints.
	TriggerSecret string `mapstructure:"trigger_secret" json:"-" yaml:"-"`
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ClassifierConfig struct {
	ServiceURL string `mapstructure:"service_url"`
	APIKey     string `mapstructure:"api_key" json:"-" yaml:"-"`
	Timeout    int    `mapstructure:"timeout"`
}

type DetectionConfig struct {
	// MaxPeaksPerRun caps how many peaks one detection run may mark.
	MaxPeaksPerRun int `mapstructure:"max_peaks_per_run"`
	// SigmaFactor is the multiple of the windowed standard deviation a
	// reading must exceed the mean by to count as a peak.
	SigmaFactor float64 `mapstructure:"sigma_factor"`
}

type AttributionConfig struct {
	// MinConfidence is the threshold below which classifier candidates
	// are discarded.
	MinConfidence float64 `mapstructure:"min_confidence"`
}

type AlertsConfig struct {
	TelegramBotToken string `mapstructure:"telegram_bot_token" json:"-" yaml:"-"`
	TelegramChatID   int64  `mapstructure:"telegram_chat_id"`
	DedupTTLHours    int    `mapstructure:"dedup_ttl_hours"`
}

type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" json:"-" yaml:"-"`
	JWTExpiry string `mapstructure:"jwt_expiry"`
}

type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Bind the secrets that are only ever supplied via environment
	if err := viper.BindEnv("server.trigger_secret", "TRIGGER_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind TRIGGER_SECRET environment variable: %w", err)
	}
	if err := viper.BindEnv("classifier.api_key", "CLASSIFIER_API_KEY"); err != nil {
		return nil, fmt.Errorf("failed to bind CLASSIFIER_API_KEY environment variable: %w", err)
	}
	if err := viper.BindEnv("security.jwt_secret", "JWT_SECRET"); err != nil {
		return nil, fmt.Errorf("failed to bind JWT_SECRET environment variable: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	environment := strings.ToLower(config.Environment)

	if environment != "development" {
		if config.Server.TriggerSecret == "" {
			return nil, utils.NewValidationError("TRIGGER_SECRET environment variable is required in non-development environments")
		}
		if config.Security.JWTSecret == "" {
			return nil, utils.NewValidationError("JWT_SECRET environment variable is required in non-development environments")
		}
	}

	if config.Security.JWTExpiry != "" {
		if _, err := time.ParseDuration(config.Security.JWTExpiry); err != nil {
			return nil, fmt.Errorf("invalid JWT expiry duration: %w", err)
		}
	}

	if config.Detection.MaxPeaksPerRun <= 0 {
		return nil, utils.NewValidationErrorf("detection.max_peaks_per_run must be positive, got %d", config.Detection.MaxPeaksPerRun)
	}
	if config.Detection.SigmaFactor <= 0 {
		return nil, utils.NewValidationErrorf("detection.sigma_factor must be positive, got %g", config.Detection.SigmaFactor)
	}
	if config.Attribution.MinConfidence < 0 || config.Attribution.MinConfidence > 1 {
		return nil, utils.NewValidationErrorf("attribution.min_confidence must be within [0,1], got %g", config.Attribution.MinConfidence)
	}

	config.Environment = environment

	return &config, nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.trigger_secret", "")

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "peakline")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "300s")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Classifier
	viper.SetDefault("classifier.service_url", "http://localhost:3001")
	viper.SetDefault("classifier.api_key", "")
	viper.SetDefault("classifier.timeout", 120)

	// Detection
	viper.SetDefault("detection.max_peaks_per_run", 5)
	viper.SetDefault("detection.sigma_factor", 1.0)

	// Attribution
	viper.SetDefault("attribution.min_confidence", 0.90)

	// Alerts
	viper.SetDefault("alerts.telegram_bot_token", "")
	viper.SetDefault("alerts.telegram_chat_id", 0)
	viper.SetDefault("alerts.dedup_ttl_hours", 24)

	// Security
	viper.SetDefault("security.jwt_secret", "")
	viper.SetDefault("security.jwt_expiry", "24h")

	// Telemetry
	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.endpoint", "localhost:4318")
}
