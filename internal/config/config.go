package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds the participant configuration.
type Config struct {
	SignalURL  string // signaling relay base URL, e.g. ws://localhost:8000
	BackendURL string // REST backend for token/telemetry; optional
	Room       string
	UserID     string // optional; resolved from the backend or generated
	Role       string // instructor or cliente
}

// Load reads configuration from a .env file (if present) and environment
// variables. Environment variables take precedence over .env values.
func Load() (*Config, error) {
	// godotenv.Load does not overwrite existing env vars
	_ = godotenv.Load()

	signalURL := os.Getenv("CLIVOX_SIGNAL_URL")
	if signalURL == "" {
		return nil, fmt.Errorf("CLIVOX_SIGNAL_URL environment variable is required")
	}

	room := os.Getenv("CLIVOX_ROOM")
	if room == "" {
		return nil, fmt.Errorf("CLIVOX_ROOM environment variable is required")
	}

	role := os.Getenv("CLIVOX_ROLE")
	if role == "" {
		role = "cliente"
	}
	if role != "instructor" && role != "cliente" {
		return nil, fmt.Errorf("CLIVOX_ROLE must be instructor or cliente, got %q", role)
	}

	return &Config{
		SignalURL:  signalURL,
		BackendURL: os.Getenv("CLIVOX_BACKEND_URL"),
		Room:       room,
		UserID:     os.Getenv("CLIVOX_USER"),
		Role:       role,
	}, nil
}
