// Package config loads DFMS configuration from an optional YAML file and
// environment variable overrides, following the same load order the
// teacher service uses: defaults, then file, then environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls a manager's REST listener.
type ServerConfig struct {
	Host string `json:"host" yaml:"host" env:"SERVER_HOST"`
	Port int    `json:"port" yaml:"port" env:"SERVER_PORT"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" yaml:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// ExecutionConfig controls the execution engine's app-firing concurrency.
type ExecutionConfig struct {
	// MaxPoolSize bounds the number of concurrently running apps.
	// Zero disables pooling: apps run synchronously on the event thread.
	// Negative means one goroutine per app (unbounded).
	MaxPoolSize int `json:"max_pool_size" yaml:"max_pool_size" env:"EXECUTION_MAX_POOL_SIZE"`
}

// DLMConfig controls the data lifecycle manager's background sweeper.
type DLMConfig struct {
	SweepInterval   time.Duration `json:"sweep_interval" yaml:"sweep_interval" env:"DLM_SWEEP_INTERVAL"`
	DefaultReplicas int           `json:"default_replicas" yaml:"default_replicas" env:"DLM_DEFAULT_REPLICAS"`
	// CronSchedule optionally overrides SweepInterval with a standard
	// 5-field cron expression; see dlm.Config.CronSchedule.
	CronSchedule string `json:"cron_schedule" yaml:"cron_schedule" env:"DLM_CRON_SCHEDULE"`
}

// DaemonConfig controls the manager-process supervisor.
type DaemonConfig struct {
	Host            string        `json:"host" yaml:"host" env:"DAEMON_HOST"`
	Port            int           `json:"port" yaml:"port" env:"DAEMON_PORT"`
	PIDDir          string        `json:"pid_dir" yaml:"pid_dir" env:"DAEMON_PID_DIR"`
	LogDir          string        `json:"log_dir" yaml:"log_dir" env:"DAEMON_LOG_DIR"`
	GraceTimeout    time.Duration `json:"grace_timeout" yaml:"grace_timeout" env:"DAEMON_GRACE_TIMEOUT"`
	DisableZeroconf bool          `json:"disable_zeroconf" yaml:"disable_zeroconf" env:"DAEMON_DISABLE_ZEROCONF"`
	StartMaster     bool          `json:"start_master" yaml:"start_master" env:"DAEMON_START_MASTER"`
	StartNodeMgr    bool          `json:"start_node_manager" yaml:"start_node_manager" env:"DAEMON_START_NODE_MANAGER"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Execution ExecutionConfig `json:"execution" yaml:"execution"`
	DLM       DLMConfig       `json:"dlm" yaml:"dlm"`
	Daemon    DaemonConfig    `json:"daemon" yaml:"daemon"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "dfms",
		},
		Execution: ExecutionConfig{
			MaxPoolSize: 8,
		},
		DLM: DLMConfig{
			SweepInterval:   10 * time.Second,
			DefaultReplicas: 0,
		},
		Daemon: DaemonConfig{
			Host:         "0.0.0.0",
			Port:         9000,
			PIDDir:       "run",
			LogDir:       "logs",
			GraceTimeout: 10 * time.Second,
			StartNodeMgr: true,
		},
	}
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode errors out when no tagged field has a matching
		// environment variable set; treat that as "no overrides" so
		// local runs work without exporting anything.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) normalize() {
	if c == nil {
		return
	}
	if c.DLM.SweepInterval <= 0 {
		c.DLM.SweepInterval = 10 * time.Second
	}
	if c.Daemon.GraceTimeout <= 0 {
		c.Daemon.GraceTimeout = 10 * time.Second
	}
	if c.Daemon.PIDDir == "" {
		c.Daemon.PIDDir = filepath.Join(DefaultHomeDir(), "run")
	}
	if c.Daemon.LogDir == "" {
		c.Daemon.LogDir = filepath.Join(DefaultHomeDir(), "logs")
	}
}

// DefaultHomeDir returns `~/.dfms`, resolving the user's home directory via
// go-homedir so it also works under $HOME-less service accounts; normalize
// uses it as the base for empty daemon PID and log directories. Falls back
// to "./.dfms" when the home directory can't be resolved.
func DefaultHomeDir() string {
	home, err := homedir.Dir()
	if err != nil || home == "" {
		return filepath.Join(".", ".dfms")
	}
	return filepath.Join(home, ".dfms")
}
