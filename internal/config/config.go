package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBFile        string
	APIAddr       string
	AuthSecret    string
	TokenCacheTTL time.Duration
}

func Load() (*Config, error) {
	// Optional .env for local development; env vars win.
	_ = godotenv.Load()

	cacheTTL, err := time.ParseDuration(getEnv("TOKEN_CACHE_TTL", "1m"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DBFile:        getEnv("SHIPMATE_DB", "shipmate.db"),
		APIAddr:       getEnv("API_ADDR", ":8080"),
		AuthSecret:    os.Getenv("AUTH_SECRET"),
		TokenCacheTTL: cacheTTL,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required")
	}

	if c.TokenCacheTTL <= 0 {
		return fmt.Errorf("TOKEN_CACHE_TTL must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
