// Package config loads the engine's YAML configuration: the queues to
// run, where the SQLite store and per-job logs live, and whether
// consumers start automatically on boot.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// QueueConfig describes one consumer-backed queue.
type QueueConfig struct {
	Name           string `yaml:"name"`
	ConsumerBinary string `yaml:"consumer_binary"`
	BufferSize     int    `yaml:"buffer_size"`
}

// Config is the top-level engine configuration, loaded from a
// config.yaml the way internal/config loads .choo.yaml in the original.
type Config struct {
	SocketPath    string        `yaml:"socket_path"`
	PIDFile       string        `yaml:"pid_file"`
	DBPath        string        `yaml:"db_path"`
	LogDir        string        `yaml:"log_dir"`
	WebAddr       string        `yaml:"web_addr"`
	Queues        []QueueConfig `yaml:"queues"`
	// StartOnBoot spawns an out-of-process consumer for every configured
	// queue on engine startup. Every configured queue already gets an
	// in-process Worker Runtime, so the Supervisor refuses these by
	// default (see supervisor.SetInProcessQueues) -- this only does
	// something useful once a deployment has a queue the engine does
	// not run in-process. Defaults to false for that reason.
	StartOnBoot   bool          `yaml:"start_jobqueue_consumers_on_start"`
	ReaperEvery   time.Duration `yaml:"reaper_interval"`
	CheckEvery    time.Duration `yaml:"check_and_process_interval"`
	SchedulerTick time.Duration `yaml:"scheduler_tick_interval"`
}

const (
	DefaultReaperInterval   = 30 * time.Second
	DefaultCheckInterval    = 1 * time.Minute
	DefaultSchedulerTick    = 10 * time.Second
	DefaultQueueBufferSize  = 64
)

// DefaultConfig returns a Config with sensible defaults, paths resolved
// relative to the user's home directory, and the two queues the
// original hard-coded (default, reserved) preserved as the out-of-box
// queue list.
func DefaultConfig() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	dir := filepath.Join(home, ".jobqueue")

	return &Config{
		SocketPath: filepath.Join(dir, "engine.sock"),
		PIDFile:    filepath.Join(dir, "engine.pid"),
		DBPath:     filepath.Join(dir, "jobqueue.db"),
		LogDir:     filepath.Join(dir, "logs"),
		WebAddr:    ":8080",
		Queues: []QueueConfig{
			{Name: "default", BufferSize: DefaultQueueBufferSize},
			{Name: "reserved", BufferSize: DefaultQueueBufferSize},
		},
		StartOnBoot:   false,
		ReaperEvery:   DefaultReaperInterval,
		CheckEvery:    DefaultCheckInterval,
		SchedulerTick: DefaultSchedulerTick,
	}, nil
}

// Load reads and parses a config.yaml at path, overlaying it on
// DefaultConfig the way the original's LoadConfig overlays file values
// onto its defaults. A missing file is not an error -- the defaults
// stand alone.
func Load(path string) (*Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if !filepath.IsAbs(c.SocketPath) {
		return fmt.Errorf("socket_path must be absolute, got %s", c.SocketPath)
	}
	if !filepath.IsAbs(c.DBPath) {
		return fmt.Errorf("db_path must be absolute, got %s", c.DBPath)
	}
	if !filepath.IsAbs(c.LogDir) {
		return fmt.Errorf("log_dir must be absolute, got %s", c.LogDir)
	}
	if len(c.Queues) == 0 {
		return fmt.Errorf("queues must not be empty")
	}
	seen := make(map[string]bool, len(c.Queues))
	for _, q := range c.Queues {
		if q.Name == "" {
			return fmt.Errorf("queue name must not be empty")
		}
		if seen[q.Name] {
			return fmt.Errorf("duplicate queue name %q", q.Name)
		}
		seen[q.Name] = true
	}
	return nil
}

// QueueNames returns the configured queue names in order, the slice
// maintenance.New and the supervisor both iterate over.
func (c *Config) QueueNames() []string {
	names := make([]string, len(c.Queues))
	for i, q := range c.Queues {
		names[i] = q.Name
	}
	return names
}

// EnsureDirectories creates the parent directories for the socket, pid
// file, database, and log directory.
func (c *Config) EnsureDirectories() error {
	dirs := map[string]bool{
		filepath.Dir(c.SocketPath): true,
		filepath.Dir(c.PIDFile):    true,
		filepath.Dir(c.DBPath):     true,
		c.LogDir:                   true,
	}
	for dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
