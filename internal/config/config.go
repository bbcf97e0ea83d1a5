// Package config handles service configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/multierr"
)

// Config holds all service settings.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bake    BakeConfig    `yaml:"bake"`
	Paths   PathsConfig   `yaml:"paths"`
	Remote  RemoteConfig  `yaml:"remote"`
	Queue   QueueConfig   `yaml:"queue"`
	Watch   WatchConfig   `yaml:"watch"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port for net.Listen.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// BakeConfig holds AO kernel and post-process settings.
type BakeConfig struct {
	Resolution   int     `yaml:"resolution"`
	Samples      int     `yaml:"samples"`
	MaxDistance  float32 `yaml:"max_distance"` // 0 = scene diagonal
	Bias         float32 `yaml:"bias"`
	Supersample  int     `yaml:"supersample"`
	SmoothRadius float64 `yaml:"smooth_radius"`
	Workers      int     `yaml:"workers"` // 0 = GOMAXPROCS
}

// PathsConfig holds output and cache directories.
type PathsConfig struct {
	OutputDir string `yaml:"output_dir"`
	CacheDir  string `yaml:"cache_dir"`
}

// RemoteConfig holds settings for fetching remote documents and geometry.
type RemoteConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// QueueConfig holds job worker settings.
type QueueConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// WatchConfig holds drop-folder settings. An empty Dir disables watching.
type WatchConfig struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Bake: BakeConfig{
			Resolution:   1024,
			Samples:      32,
			MaxDistance:  0,
			Bias:         1e-4,
			Supersample:  1,
			SmoothRadius: 0,
			Workers:      0,
		},
		Paths: PathsConfig{
			OutputDir: "out",
			CacheDir:  "cache",
		},
		Remote: RemoteConfig{
			Timeout:   60 * time.Second,
			UserAgent: "aobake/1.0",
		},
		Queue: QueueConfig{
			PollInterval: 500 * time.Millisecond,
		},
		Watch: WatchConfig{
			Pattern: "*.igxc",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate reports settings that would make a bake fail.
func (c *Config) Validate() error {
	var errs []error
	if c.Bake.Resolution <= 0 {
		errs = append(errs, fmt.Errorf("bake.resolution must be positive, got %d", c.Bake.Resolution))
	}
	if c.Bake.Samples <= 0 {
		errs = append(errs, fmt.Errorf("bake.samples must be positive, got %d", c.Bake.Samples))
	}
	if c.Bake.Supersample < 1 {
		errs = append(errs, fmt.Errorf("bake.supersample must be at least 1, got %d", c.Bake.Supersample))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Queue.PollInterval <= 0 {
		errs = append(errs, errors.New("queue.poll_interval must be positive"))
	}
	return multierr.Combine(errs...)
}
