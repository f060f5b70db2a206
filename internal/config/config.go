package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the endpoints and client tuning the session core needs.
// Values come from an optional YAML file with environment overrides on
// top; defaults point at local development services.
type Config struct {
	LogLevel             string `yaml:"log_level"`
	GameServiceURL       string `yaml:"game_service_url"`
	ProfileServiceURL    string `yaml:"profile_service_url"`
	GatewayURL           string `yaml:"gateway_url"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
}

// Default returns the local-development configuration.
func Default() Config {
	return Config{
		LogLevel:             "info",
		GameServiceURL:       "http://localhost:5002/games",
		ProfileServiceURL:    "http://localhost:5004/profiles",
		GatewayURL:           "ws://localhost:5005/ws",
		MaxReconnectAttempts: 5,
	}
}

// Load reads the YAML file at path (skipped when path is empty or the file
// does not exist) and then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.GameServiceURL = getEnv("GAME_SERVICE_URL", cfg.GameServiceURL)
	cfg.ProfileServiceURL = getEnv("PROFILE_SERVICE_URL", cfg.ProfileServiceURL)
	cfg.GatewayURL = getEnv("WS_URL", cfg.GatewayURL)
	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", cfg.MaxReconnectAttempts)

	return &cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
