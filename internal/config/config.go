// Package config loads process configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the server's environment surface. Room limits are fixed for
// the life of the process.
type Config struct {
	// Port the HTTP/WebSocket listener binds.
	Port int `env:"PORT" envDefault:"3001"`
	// MaxRooms caps concurrently live rooms; 0 disables the cap.
	MaxRooms int `env:"MAX_ROOMS" envDefault:"50"`
	// MaxRoomSize caps participants per room; 0 disables the cap.
	MaxRoomSize int `env:"MAX_ROOM_SIZE" envDefault:"6"`
	// PhaseConfigPath optionally points at a YAML phase-duration override.
	PhaseConfigPath string `env:"PHASE_CONFIG"`
	// NATSURL enables the lifecycle event mirror when set.
	NATSURL string `env:"NATS_URL"`
	// AllowedOrigins restricts CORS and WebSocket origins; empty allows all.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	// LogLevel is a zerolog level name.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
