// Package config loads the messaging service configuration from YAML with
// environment overrides for the values that differ per deployment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"databaseURL"`
	RedisAddr   string `yaml:"redisAddr"`
	RedisPass   string `yaml:"redisPassword"`
	JWTSecret   string `yaml:"jwtSecret"`
	LogLevel    string `yaml:"logLevel"`

	// Per-sender send quota. Zero limit disables rate limiting.
	SendRateLimit         int `yaml:"sendRateLimit"`
	SendRateWindowSeconds int `yaml:"sendRateWindowSeconds"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPass = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SEND_RATE_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("parse SEND_RATE_LIMIT: %w", err)
		}
		cfg.SendRateLimit = n
	}
	if cfg.SendRateWindowSeconds == 0 {
		cfg.SendRateWindowSeconds = 60
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.JWTSecret == "" {
		return errors.New("config: jwtSecret is required (set in config.yaml or JWT_SECRET)")
	}
	// DatabaseURL may be empty: the service then runs on the in-memory
	// store, which only suits local development.
	if cfg.SendRateLimit > 0 && cfg.RedisAddr == "" {
		return errors.New("config: sendRateLimit requires redisAddr (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.SendRateWindowSeconds < 0 {
		return errors.New("config: sendRateWindowSeconds must not be negative")
	}
	return nil
}
