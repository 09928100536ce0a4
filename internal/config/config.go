// Package config loads the server configuration from an optional YAML file
// and environment variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shared-code-editor/backend/internal/session"
)

// Defaults.
const (
	DefaultPort           = "8080"
	DefaultMaxMessageSize = 64 << 20
	DefaultSendBuffer     = 256
	DefaultDBPath         = "data/sessions.db"
	DefaultLogDir         = "data/logs"
	DefaultSweepInterval  = 60 * time.Second
	DefaultIdleThreshold  = 60 * DefaultSweepInterval
)

// Config is the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
}

// ServerConfig configures the HTTP and WebSocket listener.
type ServerConfig struct {
	Port           string   `yaml:"port"`
	MaxMessageSize int64    `yaml:"max_message_size"`
	SendBuffer     int      `yaml:"send_buffer"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig configures the history database and activity recordings.
type StorageConfig struct {
	DBPath         string `yaml:"db_path"`
	LogDir         string `yaml:"log_dir"`
	RecordSessions bool   `yaml:"record_sessions"`
}

// SessionConfig configures new sessions and idle eviction.
type SessionConfig struct {
	DefaultLanguage string        `yaml:"default_language"`
	InitialContent  string        `yaml:"initial_content"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	IdleThreshold   time.Duration `yaml:"idle_threshold"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{
		Storage: StorageConfig{RecordSessions: true},
	}
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML file at path, if path is not empty, then applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{RecordSessions: true},
	}

	if path != "" {
		// #nosec G304 -- path is from CLI args, controlled by admin
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		data = []byte(expandEnvVars(string(data)))

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyEnv overrides file values with environment variables.
func applyEnv(cfg *Config) error {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Storage.DBPath = getEnv("DB_PATH", cfg.Storage.DBPath)
	cfg.Storage.LogDir = getEnv("LOG_DIR", cfg.Storage.LogDir)

	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("MAX_MESSAGE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing MAX_MESSAGE_SIZE: %w", err)
		}
		cfg.Server.MaxMessageSize = n
	}
	if v := os.Getenv("RECORD_SESSIONS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing RECORD_SESSIONS: %w", err)
		}
		cfg.Storage.RecordSessions = b
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing SWEEP_INTERVAL: %w", err)
		}
		cfg.Session.SweepInterval = d
	}
	if v := os.Getenv("IDLE_THRESHOLD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing IDLE_THRESHOLD: %w", err)
		}
		cfg.Session.IdleThreshold = d
	}
	return nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.MaxMessageSize == 0 {
		cfg.Server.MaxMessageSize = DefaultMaxMessageSize
	}
	if cfg.Server.SendBuffer == 0 {
		cfg.Server.SendBuffer = DefaultSendBuffer
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = DefaultDBPath
	}
	if cfg.Storage.LogDir == "" {
		cfg.Storage.LogDir = DefaultLogDir
	}
	if cfg.Session.DefaultLanguage == "" {
		cfg.Session.DefaultLanguage = session.DefaultLanguage
	}
	if cfg.Session.InitialContent == "" {
		cfg.Session.InitialContent = session.DefaultInitialContent
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = DefaultSweepInterval
	}
	if cfg.Session.IdleThreshold == 0 {
		cfg.Session.IdleThreshold = DefaultIdleThreshold
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		errs = append(errs, fmt.Sprintf("server.port %q is not a number", c.Server.Port))
	}
	if c.Server.MaxMessageSize <= 0 {
		errs = append(errs, "server.max_message_size must be positive")
	}
	if c.Server.SendBuffer <= 0 {
		errs = append(errs, "server.send_buffer must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, "session.sweep_interval must be positive")
	}
	if c.Session.IdleThreshold <= 0 {
		errs = append(errs, "session.idle_threshold must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// OriginAllowed reports whether a browser origin may open a WebSocket.
// An empty allow list admits every origin.
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.Server.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	for _, allowed := range c.Server.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
