package config

import (
	"os"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server ServerConfig
	Mongo  MongoConfig
	JWT    JWTConfig
	Log    LogConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

type MongoConfig struct {
	URI      string
	Database string
	// OpTimeout bounds every store call; exceeding it surfaces as a
	// storage-unavailable error instead of hanging the caller.
	OpTimeout time.Duration
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

type LogConfig struct {
	Level string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	opTimeout, err := time.ParseDuration(getEnv("MONGO_OP_TIMEOUT", "5s"))
	if err != nil {
		opTimeout = 5 * time.Second
	}

	jwtExpiry, err := time.ParseDuration(getEnv("JWT_EXPIRY", "24h"))
	if err != nil {
		jwtExpiry = 24 * time.Hour
	}

	return &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Env:  getEnv("ENV", "development"),
		},
		Mongo: MongoConfig{
			URI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:  getEnv("MONGO_DATABASE", "alumnet"),
			OpTimeout: opTimeout,
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
			Expiry: jwtExpiry,
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "debug"),
		},
	}, nil
}

// getEnv gets an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
