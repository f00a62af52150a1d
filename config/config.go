// Package config resolves rednext settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppName names the configuration directory.
const AppName = "rednext"

// Config holds every setting of the CLI and the server.
type Config struct {
	Backend string        `yaml:"backend"`
	DataDir string        `yaml:"data_dir"`
	Driver  string        `yaml:"driver"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Dir returns the per-user configuration directory of rednext. It is also
// the default location of the SQLite collections.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, AppName), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	dir, err := Dir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Default returns the built-in settings.
func Default() Config {
	dataDir, err := Dir()
	if err != nil {
		dataDir = "./data"
	}
	return Config{
		Backend: "sqlite",
		DataDir: dataDir,
		Driver:  "sqlite3",
		URL:     "http://localhost:8080",
		Timeout: 10 * time.Second,
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and applies environment overrides.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Save writes cfg as YAML, creating the parent directory.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	env := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	env("STORE_BACKEND", &c.Backend)
	env("DATA_DIR", &c.DataDir)
	env("SQLITE_DRIVER", &c.Driver)
	env("REDNEXT_URL", &c.URL)
	env("HOST", &c.Server.Host)
	env("LOG_LEVEL", &c.Log.Level)
	env("LOG_FORMAT", &c.Log.Format)
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q", v)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}
	return nil
}

// Validate rejects unknown backends, drivers and log settings.
func (c Config) Validate() error {
	switch c.Backend {
	case "sqlite", "http", "memory":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Driver {
	case "sqlite3", "sqlite":
	default:
		return fmt.Errorf("unknown sqlite driver %q", c.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Location returns the catalog location for the configured backend.
func (c Config) Location() string {
	if c.Backend == "http" {
		return c.URL
	}
	return c.DataDir
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// NewLogger builds a slog logger writing to w.
func NewLogger(lc LogConfig, w io.Writer) *slog.Logger {
	level, err := parseLevel(lc.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if lc.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}
