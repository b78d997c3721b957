// Package config provides configuration parsing and validation for the udpev
// server.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Loop      LoopConfig      `yaml:"loop"`
	Sockets   []SocketConfig  `yaml:"sockets"`
	Sessions  SessionConfig   `yaml:"sessions"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Stats     StatsConfig     `yaml:"stats"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Service string `yaml:"service"` // value of the "service" field on every entry
	Level   string `yaml:"level"`   // debug, info, warn, error
	Dir     string `yaml:"dir"`     // daily files are written here when set
}

// LoopConfig sizes the event loop.
type LoopConfig struct {
	InboxSize  int           `yaml:"inbox_size"`
	BufferSize int           `yaml:"buffer_size"`
	ExitAfter  time.Duration `yaml:"exit_after"` // 0 runs until signalled
}

// SocketConfig defines one bound socket.
type SocketConfig struct {
	Name int    `yaml:"name"`
	IP   string `yaml:"ip"` // empty for every interface
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // echo, discard
}

// SessionConfig sizes the per-peer session timer used by the server handlers.
// The first four bytes of every session hold its datagram count.
type SessionConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	Size    int           `yaml:"size"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// StatsConfig configures periodic snapshot publishing.
type StatsConfig struct {
	Interval       time.Duration `yaml:"interval"` // 0 disables
	QueueDepth     int           `yaml:"queue_depth"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	Redis          RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the Redis snapshot publisher. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Key      string        `yaml:"key"`
	TTL      time.Duration `yaml:"ttl"`
}

// RateLimitConfig configures per-peer throttling.
type RateLimitConfig struct {
	Enabled   bool          `yaml:"enabled"`
	PerSecond float64       `yaml:"per_second"`
	Burst     int           `yaml:"burst"`
	IdleTTL   time.Duration `yaml:"idle_ttl"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Service: "udpev",
			Level:   "info",
		},
		Loop: LoopConfig{
			InboxSize:  1024,
			BufferSize: 65535,
		},
		Sockets: []SocketConfig{},
		Sessions: SessionConfig{
			Timeout: 30 * time.Second,
			Size:    64,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9100",
		},
		Stats: StatsConfig{
			Interval:       10 * time.Second,
			QueueDepth:     16,
			PublishTimeout: 2 * time.Second,
			Redis: RedisConfig{
				Key: "udpev:stats",
				TTL: time.Minute,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:   false,
			PerSecond: 100,
			Burst:     200,
			IdleTTL:   time.Minute,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes on top of the defaults.
// ${VAR} and ${VAR:-default} references are expanded first.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]

		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	if c.Loop.InboxSize < 1 {
		errs = append(errs, "loop.inbox_size must be positive")
	}
	if c.Loop.BufferSize < 1 || c.Loop.BufferSize > 65535 {
		errs = append(errs, "loop.buffer_size must be between 1 and 65535")
	}
	if c.Loop.ExitAfter < 0 {
		errs = append(errs, "loop.exit_after must not be negative")
	}

	names := make(map[int]bool)
	addrs := make(map[string]bool)
	for i, s := range c.Sockets {
		if err := validateSocket(s); err != nil {
			errs = append(errs, fmt.Sprintf("sockets[%d]: %v", i, err))
			continue
		}

		if names[s.Name] {
			errs = append(errs, fmt.Sprintf("sockets[%d]: duplicate name %d", i, s.Name))
		}
		names[s.Name] = true

		addr := net.JoinHostPort(s.IP, fmt.Sprint(s.Port))
		if addrs[addr] {
			errs = append(errs, fmt.Sprintf("sockets[%d]: duplicate address %s", i, addr))
		}
		addrs[addr] = true
	}

	if c.Sessions.Timeout <= 0 {
		errs = append(errs, "sessions.timeout must be positive")
	}
	if c.Sessions.Size < 4 {
		errs = append(errs, "sessions.size must be at least 4")
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, "metrics.address is required when enabled")
	}

	if c.Stats.Interval < 0 {
		errs = append(errs, "stats.interval must not be negative")
	}
	if c.Stats.Redis.Addr != "" && c.Stats.Redis.Key == "" {
		errs = append(errs, "stats.redis.key is required when stats.redis.addr is set")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.PerSecond <= 0 {
			errs = append(errs, "rate_limit.per_second must be positive")
		}
		if c.RateLimit.Burst < 1 {
			errs = append(errs, "rate_limit.burst must be at least 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func isValidMode(mode string) bool {
	switch mode {
	case "echo", "discard":
		return true
	}
	return false
}

func validateSocket(s SocketConfig) error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port %d must be between 1 and 65535", s.Port)
	}
	if s.IP != "" && net.ParseIP(s.IP) == nil {
		return fmt.Errorf("ip %q is not a numeric address", s.IP)
	}
	if !isValidMode(s.Mode) {
		return fmt.Errorf("invalid mode: %s (must be echo or discard)", s.Mode)
	}
	return nil
}

// String returns the configuration as YAML with the Redis password masked.
func (c *Config) String() string {
	redacted := *c
	if redacted.Stats.Redis.Password != "" {
		redacted.Stats.Redis.Password = "********"
	}

	data, err := yaml.Marshal(&redacted)
	if err != nil {
		return fmt.Sprintf("error marshaling config: %v", err)
	}
	return string(data)
}
