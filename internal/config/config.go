// Package config loads sync core configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// ServerURL is the base URL of the cloud REST API.
	ServerURL string
	// RealtimeURL is the websocket endpoint. Derived from ServerURL when unset.
	RealtimeURL string
	// Token is the bearer token presented on every remote call.
	Token string
	// UserID identifies the account the device belongs to.
	UserID string
	// DataDir holds the embedded database.
	DataDir string
	// RequestTimeout bounds every remote transport call.
	RequestTimeout time.Duration
	// PullWindow is the "recent N" window fetched per entity type on a pull.
	PullWindow int

	Server ServerConfig
}

// ServerConfig configures the embedded development server (`serve` command).
type ServerConfig struct {
	ListenAddr string
	JWTSecret  string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := os.Getenv("LITTLEFEED_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".littlefeed")
	}

	timeout := 10 * time.Second
	if v := os.Getenv("LITTLEFEED_REQUEST_TIMEOUT"); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LITTLEFEED_REQUEST_TIMEOUT: %w", err)
		}
		timeout = parsed
	}

	return &Config{
		ServerURL:      getEnv("LITTLEFEED_SERVER_URL", "http://localhost:8093"),
		RealtimeURL:    os.Getenv("LITTLEFEED_REALTIME_URL"),
		Token:          os.Getenv("LITTLEFEED_TOKEN"),
		UserID:         getEnv("LITTLEFEED_USER_ID", "default"),
		DataDir:        dataDir,
		RequestTimeout: timeout,
		PullWindow:     20,
		Server: ServerConfig{
			ListenAddr: getEnv("LITTLEFEED_LISTEN_ADDR", "localhost:8093"),
			JWTSecret:  os.Getenv("LITTLEFEED_JWT_SECRET"),
		},
	}, nil
}

// getEnv gets environment variable with default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
