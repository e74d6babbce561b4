// Package config loads the ingest server's application configuration from a
// TOML or YAML file layered over the built-in defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cyberinferno/frame-ingest/logger"
	"github.com/cyberinferno/frame-ingest/tcpserver"
	"gopkg.in/yaml.v3"
)

// ErrUnsupportedFormat is returned by Load for file extensions other than
// .toml, .yaml and .yml.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// Config is the full application configuration.
type Config struct {
	Server tcpserver.Config `yaml:"server" toml:"server"`
	// LogLevel is a zerolog level name.
	LogLevel string `yaml:"log_level" toml:"log_level"`
	// LogFormat is "console" or "json".
	LogFormat string `yaml:"log_format" toml:"log_format"`
	// LogDir, when set, also writes JSON lines to daily files in this directory.
	LogDir string `yaml:"log_dir" toml:"log_dir"`
	// ReportInterval is the throughput log period; 0 disables reporting.
	ReportInterval time.Duration `yaml:"report_interval" toml:"report_interval"`
	Redis          Redis         `yaml:"redis" toml:"redis"`
}

// Redis configures the optional shared counter. An empty Addr disables it.
type Redis struct {
	Addr          string        `yaml:"addr" toml:"addr"`
	Password      string        `yaml:"password" toml:"password"`
	DB            int           `yaml:"db" toml:"db"`
	Key           string        `yaml:"key" toml:"key"`
	FlushInterval time.Duration `yaml:"flush_interval" toml:"flush_interval"`
}

// Enabled reports whether a Redis address is configured.
func (r Redis) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// legacy holds the property names used by earlier deployments.
type legacy struct {
	Port       *int    `yaml:"port" toml:"port"`
	Dispatcher *string `yaml:"dispatcher" toml:"dispatcher"`
}

type fileConfig struct {
	Config  `yaml:",inline"`
	Reactor *legacy `yaml:"reactor" toml:"reactor"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server:         tcpserver.DefaultConfig(),
		LogLevel:       "info",
		LogFormat:      "console",
		ReportInterval: 10 * time.Second,
		Redis: Redis{
			Key:           "frame-ingest:count",
			FlushInterval: time.Second,
		},
	}
}

// Validate checks the server section and the application settings.
//
// Returns:
//   - An error describing the first invalid setting, or nil
func (c Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("config: log_format must be console or json, got %q", c.LogFormat)
	}

	if c.ReportInterval < 0 {
		return fmt.Errorf("config: report_interval must not be negative, got %s", c.ReportInterval)
	}

	if c.Redis.Enabled() {
		if strings.TrimSpace(c.Redis.Key) == "" {
			return errors.New("config: redis.key is required when redis.addr is set")
		}

		if c.Redis.FlushInterval <= 0 {
			return fmt.Errorf("config: redis.flush_interval must be positive, got %s", c.Redis.FlushInterval)
		}
	}

	return nil
}

// Load reads path, overlays it on Default and validates the result. The
// decoder is chosen by extension. Keys under a top-level reactor table
// (port, dispatcher) are honoured when the matching server key is absent.
//
// Parameters:
//   - path: A .toml, .yaml or .yml file
//
// Returns:
//   - The merged configuration
//   - An error if the file cannot be read, parsed or validated
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		cfg, err = decodeTOML(data)
	case ".yaml", ".yml":
		cfg, err = decodeYAML(data)
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}

	return cfg, nil
}

func decodeTOML(data []byte) (Config, error) {
	raw := fileConfig{Config: Default()}
	meta, err := toml.Decode(string(data), &raw)
	if err != nil {
		return Config{}, err
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown key %q", undecoded[0].String())
	}

	applyLegacy(&raw.Config, raw.Reactor, !meta.IsDefined("server", "port"), !meta.IsDefined("server", "dispatch"))
	return raw.Config, nil
}

func decodeYAML(data []byte) (Config, error) {
	raw := fileConfig{Config: Default()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}

	// A second pass tells keys that were absent from keys set to the default.
	var present struct {
		Server struct {
			Port     *int    `yaml:"port"`
			Dispatch *string `yaml:"dispatch"`
		} `yaml:"server"`
	}
	if err := yaml.Unmarshal(data, &present); err != nil {
		return Config{}, err
	}

	applyLegacy(&raw.Config, raw.Reactor, present.Server.Port == nil, present.Server.Dispatch == nil)
	return raw.Config, nil
}

func applyLegacy(cfg *Config, old *legacy, port, dispatch bool) {
	if old == nil {
		return
	}

	if port && old.Port != nil {
		cfg.Server.Port = *old.Port
	}

	if dispatch && old.Dispatcher != nil {
		cfg.Server.Dispatch = legacyDispatch(*old.Dispatcher)
	}
}

// legacyDispatch maps the old dispatcher names onto dispatch modes. Unknown
// names pass through and fail validation.
func legacyDispatch(name string) tcpserver.DispatchMode {
	switch name {
	case "ringBuffer", "workQueue":
		return tcpserver.DispatchPool
	case "threadPoolExecutor", "sync":
		return tcpserver.DispatchPerConn
	default:
		return tcpserver.DispatchMode(name)
	}
}
