package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/segtree"
)

// Config holds the settings segtool applies when opening and creating trees.
type Config struct {
	BlockSize          int    `yaml:"block_size"`
	Compression        string `yaml:"compression"`
	LoadMode           string `yaml:"load_mode"`
	LoadConcurrency    int    `yaml:"load_concurrency"`
	MemoryLimitBytes   int64  `yaml:"memory_limit_bytes"`
	IOLimitBytesPerSec int64  `yaml:"io_limit_bytes_per_sec"`
	LogLevel           string `yaml:"log_level"`
	LogFormat          string `yaml:"log_format"`
	Metrics            bool   `yaml:"metrics"`
}

func defaultConfig() *Config {
	return &Config{
		BlockSize:       segtree.DefaultBlockSize,
		Compression:     "zstd",
		LoadMode:        "clean",
		LoadConcurrency: 4,
		LogLevel:        "warn",
		LogFormat:       "text",
	}
}

// LoadConfig reads a YAML config file on top of the defaults. An empty path
// returns the defaults. The result is validated by the caller once flag
// overrides are applied.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.BlockSize < segtree.MinBlockSize {
		return fmt.Errorf("block_size %d below minimum %d", c.BlockSize, segtree.MinBlockSize)
	}
	if _, err := segtree.ParseCompression(c.Compression); err != nil {
		return err
	}
	if _, err := c.loadMode(); err != nil {
		return err
	}
	if _, err := c.level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	if c.LoadConcurrency < 1 {
		return fmt.Errorf("load_concurrency must be positive, got %d", c.LoadConcurrency)
	}
	return nil
}

func (c *Config) loadMode() (segtree.LoadMode, error) {
	switch strings.ToLower(c.LoadMode) {
	case "lazy":
		return segtree.OpenLazy, nil
	case "clean", "":
		return segtree.OpenClean, nil
	}
	return 0, fmt.Errorf("unknown load_mode %q", c.LoadMode)
}

func (c *Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return l, nil
}

// Options translates the config into tree options. Logs go to logOut.
func (c *Config) Options(logOut io.Writer, mc segtree.MetricsCollector) ([]segtree.Option, error) {
	codec, err := segtree.ParseCompression(c.Compression)
	if err != nil {
		return nil, err
	}
	level, err := c.level()
	if err != nil {
		return nil, err
	}
	logger := segtree.NewWriterLogger(logOut, level, c.LogFormat == "json")

	opts := []segtree.Option{
		segtree.WithBlockSize(c.BlockSize),
		segtree.WithCompression(codec),
		segtree.WithLogger(logger),
		segtree.WithLoadConcurrency(c.LoadConcurrency),
		segtree.WithMetricsCollector(mc),
	}
	if c.MemoryLimitBytes > 0 || c.IOLimitBytesPerSec > 0 {
		opts = append(opts, segtree.WithResourceController(segtree.NewResourceController(segtree.ResourceConfig{
			MemoryLimitBytes:   c.MemoryLimitBytes,
			IOLimitBytesPerSec: c.IOLimitBytesPerSec,
		})))
	}
	return opts, nil
}
