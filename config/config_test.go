package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyberinferno/frame-ingest/tcpserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, tcpserver.DefaultConfig(), cfg.Server)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Empty(t, cfg.LogDir)
	assert.False(t, cfg.Redis.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad server section", func(c *Config) { c.Server.Backlog = 0 }},
		{"unknown log level", func(c *Config) { c.LogLevel = "loud" }},
		{"unknown log format", func(c *Config) { c.LogFormat = "xml" }},
		{"negative report interval", func(c *Config) { c.ReportInterval = -time.Second }},
		{"redis without key", func(c *Config) { c.Redis.Addr = "localhost:6379"; c.Redis.Key = " " }},
		{"redis without flush interval", func(c *Config) { c.Redis.Addr = "localhost:6379"; c.Redis.FlushInterval = 0 }},
	}

	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("server errors keep their sentinel", func(t *testing.T) {
		cfg := Default()
		cfg.Server.WorkerPoolSize = 0
		assert.ErrorIs(t, cfg.Validate(), tcpserver.ErrInvalidConfig)
	})
}

func TestLoad_TOML(t *testing.T) {
	t.Run("overlays defined keys on defaults", func(t *testing.T) {
		path := writeFile(t, "ingest.toml", `
log_level = "debug"
report_interval = "2s"
log_dir = "/var/log/ingest"

[server]
port = 4000
dispatch = "conn"
stats_retention = "1m"

[redis]
addr = "localhost:6379"
`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, 4000, cfg.Server.Port)
		assert.Equal(t, tcpserver.DispatchPerConn, cfg.Server.Dispatch)
		assert.Equal(t, time.Minute, cfg.Server.StatsRetention)
		assert.Equal(t, 3000, cfg.Server.MaxFrameSize, "undefined keys keep defaults")
		assert.Equal(t, 1000, cfg.Server.Backlog)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, 2*time.Second, cfg.ReportInterval)
		assert.Equal(t, "/var/log/ingest", cfg.LogDir)
		assert.True(t, cfg.Redis.Enabled())
		assert.Equal(t, "frame-ingest:count", cfg.Redis.Key)
	})

	t.Run("reactor keys apply when server keys are absent", func(t *testing.T) {
		path := writeFile(t, "ingest.toml", `
[reactor]
port = 3100
dispatcher = "ringBuffer"
`)

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 3100, cfg.Server.Port)
		assert.Equal(t, tcpserver.DispatchPool, cfg.Server.Dispatch)
	})

	t.Run("server keys win over reactor keys", func(t *testing.T) {
		path := writeFile(t, "ingest.toml", `
[server]
port = 4000

[reactor]
port = 3100
dispatcher = "threadPoolExecutor"
`)

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 4000, cfg.Server.Port)
		assert.Equal(t, tcpserver.DispatchPerConn, cfg.Server.Dispatch)
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		path := writeFile(t, "ingest.toml", "[server]\nprot = 1\n")

		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.prot")
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		path := writeFile(t, "ingest.toml", "[server]\ndispatch = \"eventLoop\"\n")

		_, err := Load(path)
		assert.ErrorIs(t, err, tcpserver.ErrInvalidConfig)
	})

	t.Run("reports parse errors", func(t *testing.T) {
		path := writeFile(t, "ingest.toml", "[server\n")

		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestLoad_YAML(t *testing.T) {
	t.Run("overlays keys on defaults", func(t *testing.T) {
		path := writeFile(t, "ingest.yaml", `
log_format: json
log_dir: logs
server:
  host: 127.0.0.1
  worker_pool_size: 32
  rcv_buf: 2097152
redis:
  addr: redis:6379
  key: counts
  flush_interval: 250ms
`)

		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 32, cfg.Server.WorkerPoolSize)
		assert.Equal(t, 2097152, cfg.Server.ReceiveBufferSize)
		assert.Equal(t, 1048576, cfg.Server.SendBufferSize)
		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "json", cfg.LogFormat)
		assert.Equal(t, "logs", cfg.LogDir)
		assert.Equal(t, "counts", cfg.Redis.Key)
		assert.Equal(t, 250*time.Millisecond, cfg.Redis.FlushInterval)
	})

	t.Run("yml extension and reactor keys", func(t *testing.T) {
		path := writeFile(t, "ingest.yml", "reactor:\n  port: 3200\n  dispatcher: sync\n")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 3200, cfg.Server.Port)
		assert.Equal(t, tcpserver.DispatchPerConn, cfg.Server.Dispatch)
	})

	t.Run("server port set to the default still wins", func(t *testing.T) {
		path := writeFile(t, "ingest.yaml", "server:\n  port: 3000\nreactor:\n  port: 3200\n")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 3000, cfg.Server.Port)
	})

	t.Run("empty file yields defaults", func(t *testing.T) {
		path := writeFile(t, "ingest.yaml", "")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		path := writeFile(t, "ingest.yaml", "server:\n  prot: 1\n")

		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestLoad_errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeFile(t, "ingest.json", "{}")

		_, err := Load(path)
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
}
