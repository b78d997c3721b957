package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 65535, cfg.Loop.BufferSize)
	assert.Equal(t, 30*time.Second, cfg.Sessions.Timeout)
	assert.Empty(t, cfg.Sockets)
	assert.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	t.Run("overrides defaults", func(t *testing.T) {
		cfg, err := Parse([]byte(`
log:
  level: debug
loop:
  exit_after: 5s
sockets:
  - name: 1
    ip: 127.0.0.1
    port: 9000
    mode: echo
  - name: 2
    port: 9001
    mode: discard
sessions:
  timeout: 2s
  size: 16
rate_limit:
  enabled: true
  per_second: 10
  burst: 20
`))
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, "udpev", cfg.Log.Service)
		assert.Equal(t, 5*time.Second, cfg.Loop.ExitAfter)
		assert.Equal(t, 1024, cfg.Loop.InboxSize)
		require.Len(t, cfg.Sockets, 2)
		assert.Equal(t, SocketConfig{Name: 1, IP: "127.0.0.1", Port: 9000, Mode: "echo"}, cfg.Sockets[0])
		assert.Equal(t, "", cfg.Sockets[1].IP)
		assert.Equal(t, 2*time.Second, cfg.Sessions.Timeout)
		assert.True(t, cfg.RateLimit.Enabled)
		assert.Equal(t, 20, cfg.RateLimit.Burst)
		assert.Equal(t, time.Minute, cfg.RateLimit.IdleTTL)
	})

	t.Run("expands environment variables", func(t *testing.T) {
		t.Setenv("UDPEV_TEST_REDIS", "10.0.0.5:6379")
		cfg, err := Parse([]byte(`
stats:
  redis:
    addr: ${UDPEV_TEST_REDIS}
    password: ${UDPEV_TEST_UNSET:-fallback}
`))
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.5:6379", cfg.Stats.Redis.Addr)
		assert.Equal(t, "fallback", cfg.Stats.Redis.Password)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Parse([]byte("sockets: [\n"))
		assert.ErrorContains(t, err, "failed to parse config")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "trace" }, "invalid log.level"},
		{"zero port", func(c *Config) {
			c.Sockets = []SocketConfig{{Name: 1, Port: 0, Mode: "echo"}}
		}, "port 0"},
		{"host name", func(c *Config) {
			c.Sockets = []SocketConfig{{Name: 1, IP: "localhost", Port: 9000, Mode: "echo"}}
		}, "not a numeric address"},
		{"bad mode", func(c *Config) {
			c.Sockets = []SocketConfig{{Name: 1, Port: 9000, Mode: "forward"}}
		}, "invalid mode"},
		{"duplicate name", func(c *Config) {
			c.Sockets = []SocketConfig{{Name: 1, Port: 9000, Mode: "echo"}, {Name: 1, Port: 9001, Mode: "echo"}}
		}, "duplicate name 1"},
		{"duplicate address", func(c *Config) {
			c.Sockets = []SocketConfig{{Name: 1, Port: 9000, Mode: "echo"}, {Name: 2, Port: 9000, Mode: "echo"}}
		}, "duplicate address"},
		{"buffer too large", func(c *Config) { c.Loop.BufferSize = 70000 }, "loop.buffer_size"},
		{"session timeout", func(c *Config) { c.Sessions.Timeout = 0 }, "sessions.timeout"},
		{"session size", func(c *Config) { c.Sessions.Size = 2 }, "sessions.size"},
		{"metrics address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Address = "" }, "metrics.address"},
		{"redis key", func(c *Config) { c.Stats.Redis.Addr = "x:1"; c.Stats.Redis.Key = "" }, "stats.redis.key"},
		{"rate limit", func(c *Config) { c.RateLimit.Enabled = true; c.RateLimit.PerSecond = 0 }, "rate_limit.per_second"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "udpev.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "warn", cfg.Log.Level)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})
}

func TestString_MasksPassword(t *testing.T) {
	cfg := Default()
	cfg.Stats.Redis.Password = "hunter2"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "********")
	assert.Equal(t, "hunter2", cfg.Stats.Redis.Password)
}
