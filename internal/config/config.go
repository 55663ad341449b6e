// Package config loads the storefront service configuration.
//
// Values come from three layers, later ones winning:
//
//  1. Default()
//  2. an optional YAML file (path in STOREFRONT_CONFIG)
//  3. environment variables (PORT, DB_PATH, BACKEND_URL, BACKEND_TIMEOUT,
//     ALLOWED_ORIGINS, COOKIE_SECURE, SESSION_IDLE_TIMEOUT, LOG_LEVEL)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of the service.
type Config struct {
	Port   int    `yaml:"port"`
	DBPath string `yaml:"dbPath"`

	BackendURL     string        `yaml:"backendUrl"`
	BackendTimeout time.Duration `yaml:"backendTimeout"`

	AllowedOrigins []string `yaml:"allowedOrigins"`
	CookieSecure   bool     `yaml:"cookieSecure"`

	SessionIdleTimeout time.Duration `yaml:"sessionIdleTimeout"`
	SweepInterval      time.Duration `yaml:"sweepInterval"`

	LogLevel string `yaml:"logLevel"`
}

// Default returns the settings used for local development.
func Default() Config {
	return Config{
		Port:               8081,
		DBPath:             "data/storefront.db",
		BackendURL:         "http://localhost:8080",
		BackendTimeout:     10 * time.Second,
		AllowedOrigins:     []string{"http://localhost:3000"},
		SessionIdleTimeout: 30 * time.Minute,
		SweepInterval:      time.Minute,
		LogLevel:           "info",
	}
}

// Load builds the configuration from the file at path (skipped when empty)
// and the environment read through getenv.
func Load(path string, getenv func(string) string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid PORT %q: %w", v, err)
		}
		c.Port = port
	}
	if v := getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := getenv("BACKEND_URL"); v != "" {
		c.BackendURL = v
	}
	if v := getenv("BACKEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid BACKEND_TIMEOUT %q: %w", v, err)
		}
		c.BackendTimeout = d
	}
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = splitList(v)
	}
	if v := getenv("COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: invalid COOKIE_SECURE %q: %w", v, err)
		}
		c.CookieSecure = b
	}
	if v := getenv("SESSION_IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid SESSION_IDLE_TIMEOUT %q: %w", v, err)
		}
		c.SessionIdleTimeout = d
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("dbPath is required"))
	}
	if u, err := url.Parse(c.BackendURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("backendUrl %q must be an absolute http(s) URL", c.BackendURL))
	}
	if c.BackendTimeout <= 0 {
		errs = append(errs, errors.New("backendTimeout must be positive"))
	}
	if c.SessionIdleTimeout <= 0 {
		errs = append(errs, errors.New("sessionIdleTimeout must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("sweepInterval must be positive"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	l, _ := parseLevel(c.LogLevel)
	return l
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("logLevel %q: %w", s, err)
	}
	return l, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
