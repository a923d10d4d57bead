/**
 * @description
 * Configuration management for the interbank service. Values come from the
 * process environment, optionally seeded by a local .env file, and are bound
 * to the Config struct through Viper.
 *
 * @dependencies
 * - github.com/spf13/viper: configuration binding and defaults.
 */

package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all the configuration variables for the interbank service.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseDriver             string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	DBMaxConns                 int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                 int32  `mapstructure:"DB_MIN_CONNS"`
	BankName                   string `mapstructure:"BANK_NAME"`
	PublicBaseURL              string `mapstructure:"PUBLIC_BASE_URL"`
	CentralBankURL             string `mapstructure:"CENTRAL_BANK_URL"`
	OwnerInfo                  string `mapstructure:"OWNER_INFO"`
	JWTKeyID                   string `mapstructure:"JWT_KEY_ID"`
	HTTPClientTimeoutSeconds   int    `mapstructure:"HTTP_CLIENT_TIMEOUT_SECONDS"`
	InternalAPIKey             string `mapstructure:"INTERNAL_API_KEY"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix             string `mapstructure:"REDIS_KEY_PREFIX"`
	RegistryCacheTTLSeconds    int    `mapstructure:"REGISTRY_CACHE_TTL_SECONDS"`
	B2BRateLimitPerMinute      int    `mapstructure:"B2B_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	EventsExchange             string `mapstructure:"EVENTS_EXCHANGE"`
	ReconcileSchedule          string `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileStaleAfterSeconds int    `mapstructure:"RECONCILE_STALE_AFTER_SECONDS"`
	ReconcileBatchSize         int    `mapstructure:"RECONCILE_BATCH_SIZE"`
	CORSAllowedOrigins         string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from the environment and an optional .env
// file in path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DATABASE_DRIVER", DriverSQLite)
	viper.SetDefault("DATABASE_URL", "file:interbank.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("DB_MIN_CONNS", 1)
	viper.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	viper.SetDefault("JWT_KEY_ID", "1")
	viper.SetDefault("HTTP_CLIENT_TIMEOUT_SECONDS", 10)
	viper.SetDefault("REDIS_KEY_PREFIX", "interbank")
	viper.SetDefault("REGISTRY_CACHE_TTL_SECONDS", 300)
	viper.SetDefault("B2B_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("EVENTS_EXCHANGE", "interbank.events")
	viper.SetDefault("RECONCILE_SCHEDULE", "@every 1m")
	viper.SetDefault("RECONCILE_STALE_AFTER_SECONDS", 300)
	viper.SetDefault("RECONCILE_BATCH_SIZE", 100)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	// Bind explicitly so keys without defaults still reach Unmarshal.
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_DRIVER")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("BANK_NAME")
	_ = viper.BindEnv("PUBLIC_BASE_URL")
	_ = viper.BindEnv("CENTRAL_BANK_URL", "CENTRAL_BANK_URL", "REGISTRY_URL")
	_ = viper.BindEnv("OWNER_INFO")
	_ = viper.BindEnv("JWT_KEY_ID")
	_ = viper.BindEnv("HTTP_CLIENT_TIMEOUT_SECONDS")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_KEY_PREFIX")
	_ = viper.BindEnv("REGISTRY_CACHE_TTL_SECONDS")
	_ = viper.BindEnv("B2B_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_STALE_AFTER_SECONDS")
	_ = viper.BindEnv("RECONCILE_BATCH_SIZE")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.normalize()
	return
}

func (c *Config) normalize() {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.ServerPort = port
	}

	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	switch c.DatabaseDriver {
	case "postgresql", "pgx":
		c.DatabaseDriver = DriverPostgres
	case DriverPostgres, DriverSQLite:
	default:
		log.Printf("level=warn component=config msg=\"unknown database driver; falling back to sqlite\" driver=%q", c.DatabaseDriver)
		c.DatabaseDriver = DriverSQLite
	}

	c.BankName = strings.TrimSpace(c.BankName)
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	c.CentralBankURL = strings.TrimRight(strings.TrimSpace(c.CentralBankURL), "/")
	c.InternalAPIKey = strings.TrimSpace(c.InternalAPIKey)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RabbitMQURL = strings.TrimSpace(c.RabbitMQURL)

	c.JWTKeyID = strings.TrimSpace(c.JWTKeyID)
	if c.JWTKeyID == "" {
		c.JWTKeyID = "1"
	}
	if c.HTTPClientTimeoutSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive http client timeout; using default\" value=%d", c.HTTPClientTimeoutSeconds)
		c.HTTPClientTimeoutSeconds = 10
	}
	if c.DBMaxConns <= 0 {
		c.DBMaxConns = 10
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		c.DBMinConns = 1
	}
	if strings.TrimSpace(c.RedisKeyPrefix) == "" {
		c.RedisKeyPrefix = "interbank"
	}
	if c.RegistryCacheTTLSeconds < 0 {
		c.RegistryCacheTTLSeconds = 0
	}
	if c.B2BRateLimitPerMinute < 0 {
		c.B2BRateLimitPerMinute = 0
	}
	if strings.TrimSpace(c.EventsExchange) == "" {
		c.EventsExchange = "interbank.events"
	}
	if strings.TrimSpace(c.ReconcileSchedule) == "" {
		c.ReconcileSchedule = "@every 1m"
	}
	if c.ReconcileStaleAfterSeconds <= 0 {
		c.ReconcileStaleAfterSeconds = 300
	}
	if c.ReconcileBatchSize <= 0 {
		c.ReconcileBatchSize = 100
	}
}

// HTTPClientTimeout is the timeout applied to registry and foreign bank calls.
func (c Config) HTTPClientTimeout() time.Duration {
	return time.Duration(c.HTTPClientTimeoutSeconds) * time.Second
}

func (c Config) RegistryCacheTTL() time.Duration {
	return time.Duration(c.RegistryCacheTTLSeconds) * time.Second
}

func (c Config) ReconcileStaleAfter() time.Duration {
	return time.Duration(c.ReconcileStaleAfterSeconds) * time.Second
}

// TransactionURL is the b2b delivery endpoint advertised to the registry.
func (c Config) TransactionURL() string {
	return c.PublicBaseURL + "/transactions/b2b"
}

// JWKSURL is the key discovery endpoint advertised to the registry.
func (c Config) JWKSURL() string {
	return c.PublicBaseURL + "/transactions/jwks"
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
