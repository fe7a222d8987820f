// Package config loads node configuration from file, .env and environment.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Environment variables use the prefix DAQ and `.`/`-` become `_`,
// e.g. DAQ_TRANSPORT_INPUT_QUEUE=16.

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root node configuration.
type Config struct {
	NodeName  string          `mapstructure:"node_name"`
	Log       LogConfig       `mapstructure:"log"`
	Threads   []ThreadConfig  `mapstructure:"threads"`
	Pools     []PoolConfig    `mapstructure:"pools"`
	Transport TransportConfig `mapstructure:"transport"`
	Net       NetConfig       `mapstructure:"net"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// ThreadConfig describes one event-loop thread. CPU < 0 leaves it unpinned.
type ThreadConfig struct {
	Name string `mapstructure:"name"`
	CPU  int    `mapstructure:"cpu"`
}

// PoolConfig describes one named memory pool.
type PoolConfig struct {
	Name      string `mapstructure:"name"`
	BlockSize int    `mapstructure:"block_size"`
	NumBlocks int    `mapstructure:"num_blocks"`
	MaxBlocks int    `mapstructure:"max_blocks"`
}

// TransportConfig mirrors transport.Config plus the pool and thread it runs on.
type TransportConfig struct {
	Pool           string `mapstructure:"pool"`
	Thread         string `mapstructure:"thread"`
	InputQueue     int    `mapstructure:"input_queue"`
	OutputQueue    int    `mapstructure:"output_queue"`
	InlineDataSize int    `mapstructure:"inline_data_size"`
	UseAckn        bool   `mapstructure:"use_ackn"`
	BufferSize     int    `mapstructure:"buffer_size"`
}

// NetConfig selects the socket endpoint. Exactly one of Listen/Connect is used,
// depending on Role.
type NetConfig struct {
	Role    string `mapstructure:"role"`
	Listen  string `mapstructure:"listen"`
	Connect string `mapstructure:"connect"`
}

// MetricsConfig configures the Prometheus-text endpoint; empty disables it.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		NodeName: "daq-node",
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stdout"},
			Rotation: RotationConfig{
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Threads: []ThreadConfig{{Name: "main", CPU: -1}},
		Pools:   []PoolConfig{{Name: "pool", BlockSize: 64 * 1024, NumBlocks: 256}},
		Transport: TransportConfig{
			Pool:           "pool",
			Thread:         "main",
			InputQueue:     8,
			OutputQueue:    8,
			InlineDataSize: 128,
			UseAckn:        true,
			BufferSize:     64 * 1024,
		},
		Net: NetConfig{Role: "receiver", Listen: "0.0.0.0:9500"},
	}
}

// SetDefaults seeds v with Default() so env-only configs work.
func SetDefaults(v *viper.Viper) {
	cfg := Default()
	v.SetDefault("node_name", cfg.NodeName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("threads", cfg.Threads)
	v.SetDefault("pools", cfg.Pools)
	v.SetDefault("transport.pool", cfg.Transport.Pool)
	v.SetDefault("transport.thread", cfg.Transport.Thread)
	v.SetDefault("transport.input_queue", cfg.Transport.InputQueue)
	v.SetDefault("transport.output_queue", cfg.Transport.OutputQueue)
	v.SetDefault("transport.inline_data_size", cfg.Transport.InlineDataSize)
	v.SetDefault("transport.use_ackn", cfg.Transport.UseAckn)
	v.SetDefault("transport.buffer_size", cfg.Transport.BufferSize)
	v.SetDefault("net.role", cfg.Net.Role)
	v.SetDefault("net.listen", cfg.Net.Listen)
	v.SetDefault("net.connect", cfg.Net.Connect)
	v.SetDefault("metrics.listen", cfg.Metrics.Listen)
}

// NewViper returns a viper instance with defaults and DAQ_ env binding.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DAQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration from path (if non-empty, or DAQ_CONFIG), a .env
// file in the working directory, and the environment.
func Load(path string) (*Config, error) {
	return LoadViper(NewViper(), path)
}

// LoadViper is Load on a caller-prepared viper, e.g. one with command-line
// flags bound.
func LoadViper(v *viper.Viper, path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if path == "" {
		path = os.Getenv("DAQ_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates a Config from v.
func FromViper(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes fields and rejects inconsistent capacities.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if len(c.Threads) == 0 {
		return errors.New("at least one thread must be configured")
	}
	for _, p := range c.Pools {
		if p.Name == "" || p.BlockSize <= 0 || p.NumBlocks <= 0 {
			return fmt.Errorf("invalid pool %q: block_size and num_blocks must be positive", p.Name)
		}
		if p.MaxBlocks != 0 && p.MaxBlocks < p.NumBlocks {
			return fmt.Errorf("invalid pool %q: max_blocks below num_blocks", p.Name)
		}
	}
	t := c.Transport
	if t.InputQueue <= 0 || t.OutputQueue <= 0 {
		return fmt.Errorf("transport queues must be positive (input=%d, output=%d)", t.InputQueue, t.OutputQueue)
	}
	if t.InlineDataSize < 0 || t.BufferSize <= 0 {
		return fmt.Errorf("invalid transport sizes (inline=%d, buffer=%d)", t.InlineDataSize, t.BufferSize)
	}
	c.Net.Role = strings.ToLower(strings.TrimSpace(c.Net.Role))
	switch c.Net.Role {
	case "sender", "receiver":
	default:
		return fmt.Errorf("invalid net.role: %q (expected sender or receiver)", c.Net.Role)
	}
	return nil
}

// Pool returns the named pool config.
func (c *Config) Pool(name string) (PoolConfig, bool) {
	for _, p := range c.Pools {
		if p.Name == name {
			return p, true
		}
	}
	return PoolConfig{}, false
}
