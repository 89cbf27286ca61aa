// internal/config/config.go

// Package config collects the environment-driven settings of the client
// runtime. Environment variables (optionally via a .env file loaded in the
// command entrypoint):
//
//	POOLSYNC_BACKEND_URL  base URL of the platform REST API
//	POOLSYNC_TOKEN        platform access token (JWT)
//	POOLSYNC_TRANSPORT    one of redis | nats | ws | mem (default redis)
//	REDIS_ADDR            default "localhost:6379"
//	REDIS_DB              default 0
//	NATS_URL              default nats default URL
//	POOLSYNC_RELAY_URL    websocket relay base URL
//	LOG_LEVEL             logrus level string (default "info")
package config

import (
	"os"
	"strconv"

	"github.com/nats-io/nats.go"
)

// Config is the resolved runtime configuration.
type Config struct {
	BackendURL  string
	AccessToken string
	Transport   string
	RedisAddr   string
	RedisDB     int
	NATSURL     string
	RelayURL    string
	LogLevel    string
}

// Load reads the environment, applying defaults.
func Load() Config {
	return Config{
		BackendURL:  getEnv("POOLSYNC_BACKEND_URL", "http://localhost:8080"),
		AccessToken: getEnv("POOLSYNC_TOKEN", ""),
		Transport:   getEnv("POOLSYNC_TRANSPORT", "redis"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getEnvInt("REDIS_DB", 0),
		NATSURL:     getEnv("NATS_URL", nats.DefaultURL),
		RelayURL:    getEnv("POOLSYNC_RELAY_URL", "ws://localhost:8081"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
