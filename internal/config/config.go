// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ashureev/wotd-bot/internal/domain"
)

// DefaultPath is read when WOTD_CONFIG is not set.
const DefaultPath = "./config.yaml"

// Config holds all application configuration. Values come from the YAML
// file first and are then overridden by environment variables.
type Config struct {
	TelegramToken        string        `yaml:"telegram_token"`
	DBPath               string        `yaml:"db_path"`
	Port                 string        `yaml:"port"`
	AdminToken           string        `yaml:"admin_token"`
	CORSOrigins          []string      `yaml:"cors_origins"`
	LogLevel             string        `yaml:"log_level"`
	DefaultSendTime      string        `yaml:"default_send_time"`
	DefaultUTCOffset     string        `yaml:"default_utc_offset"`
	DefaultRetentionDays int           `yaml:"default_retention_days"`
	TransitionTimeout    time.Duration `yaml:"transition_timeout"`
	PendingInputTTL      time.Duration `yaml:"pending_input_ttl"`
	MaxWordLength        int           `yaml:"max_word_length"`

	// Parsed by Validate.
	SendTime  domain.Clock  `yaml:"-"`
	UTCOffset domain.Offset `yaml:"-"`
}

func defaults() *Config {
	return &Config{
		DBPath:               "./data/wotd.db",
		Port:                 "8080",
		LogLevel:             "info",
		DefaultSendTime:      "09:00",
		DefaultUTCOffset:     "+03:00",
		DefaultRetentionDays: domain.DefaultRetentionDays,
		TransitionTimeout:    30 * time.Second,
		PendingInputTTL:      5 * time.Minute,
		MaxWordLength:        domain.DefaultMaxWordLength,
	}
}

// Load reads the optional YAML file named by WOTD_CONFIG, applies environment
// overrides and validates the result.
func Load() (*Config, error) {
	path := getEnv("WOTD_CONFIG", DefaultPath)
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.TelegramToken = getEnv("TELEGRAM_TOKEN", c.TelegramToken)
	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.Port = getEnv("PORT", c.Port)
	c.AdminToken = getEnv("ADMIN_TOKEN", c.AdminToken)
	c.CORSOrigins = getEnvList("CORS_ORIGINS", c.CORSOrigins)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.DefaultSendTime = getEnv("DEFAULT_SEND_TIME", c.DefaultSendTime)
	c.DefaultUTCOffset = getEnv("DEFAULT_UTC_OFFSET", c.DefaultUTCOffset)
	c.DefaultRetentionDays = getEnvInt("DEFAULT_RETENTION_DAYS", c.DefaultRetentionDays)
	c.TransitionTimeout = getEnvDuration("TRANSITION_TIMEOUT", c.TransitionTimeout)
	c.PendingInputTTL = getEnvDuration("PENDING_INPUT_TTL", c.PendingInputTTL)
	c.MaxWordLength = getEnvInt("MAX_WORD_LENGTH", c.MaxWordLength)
}

// Validate checks every field and parses the subscriber defaults with the
// same parsers the chat commands use.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	at, err := domain.ParseClock(c.DefaultSendTime)
	if err != nil {
		return fmt.Errorf("DEFAULT_SEND_TIME: %w", err)
	}
	offset, err := domain.ParseOffset(c.DefaultUTCOffset)
	if err != nil {
		return fmt.Errorf("DEFAULT_UTC_OFFSET: %w", err)
	}
	if err := domain.ValidateRetention(c.DefaultRetentionDays); err != nil {
		return fmt.Errorf("DEFAULT_RETENTION_DAYS: %w", err)
	}
	if c.TransitionTimeout <= 0 {
		return fmt.Errorf("TRANSITION_TIMEOUT must be > 0")
	}
	if c.PendingInputTTL <= 0 {
		return fmt.Errorf("PENDING_INPUT_TTL must be > 0")
	}
	if c.MaxWordLength <= 0 {
		return fmt.Errorf("MAX_WORD_LENGTH must be > 0")
	}

	c.SendTime = at
	c.UTCOffset = offset
	return nil
}

// TelegramEnabled reports whether the chat transport should start.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramToken != ""
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", s)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
