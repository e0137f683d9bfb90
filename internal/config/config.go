// Package config loads and validates replayrelay's server configuration.
//
// Configuration is layered the way the teacher's LoadConfig is: environment
// variables name the required inputs (RS_CONFIG_FILE, RS_DB_PASSWORD), an
// optional .env file provides local-development convenience, and the bulk of
// the tunables live in a YAML file pointed to by RS_CONFIG_FILE.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// envVars holds the two required environment variables (§6 CLI / env).
type envVars struct {
	ConfigFile string `env:"RS_CONFIG_FILE,required"`
	DBPassword string `env:"RS_DB_PASSWORD,required"`
}

// Config is the fully resolved, validated server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Replay   ReplayConfig   `yaml:"replay"`
}

type ServerConfig struct {
	Port                     int `yaml:"port"`
	MetricsPort              int `yaml:"metrics_port"`
	WorkerThreads            int `yaml:"worker_threads"`
	ConnectionAcceptTimeoutS int `yaml:"connection_accept_timeout_s"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // never read from file; comes from RS_DB_PASSWORD
	Name     string `yaml:"name"`
}

type StorageConfig struct {
	VaultPath string `yaml:"vault_path"`
}

type ReplayConfig struct {
	ForcedTimeoutS                   int `yaml:"forced_timeout_s"`
	TimeWithZeroWritersToEndReplayS  int `yaml:"time_with_zero_writers_to_end_replay_s"`
	DelayS                           int `yaml:"delay_s"`
	UpdateIntervalMs                 int `yaml:"update_interval_ms"`
	MergeQuorumSize                  int `yaml:"merge_quorum_size"`
	StreamComparisonDistanceB        int `yaml:"stream_comparison_distance_b"`
}

func (r ReplayConfig) ForcedTimeout() time.Duration {
	return time.Duration(r.ForcedTimeoutS) * time.Second
}

func (r ReplayConfig) IdleWriterWindow() time.Duration {
	return time.Duration(r.TimeWithZeroWritersToEndReplayS) * time.Second
}

func (r ReplayConfig) Delay() time.Duration {
	return time.Duration(r.DelayS) * time.Second
}

func (r ReplayConfig) UpdateInterval() time.Duration {
	return time.Duration(r.UpdateIntervalMs) * time.Millisecond
}

func (s ServerConfig) ConnectionAcceptTimeout() time.Duration {
	return time.Duration(s.ConnectionAcceptTimeoutS) * time.Second
}

// Load reads RS_CONFIG_FILE / RS_DB_PASSWORD, parses the YAML config file,
// and validates the result. logger may be nil; when set it is used the same
// way the teacher's LoadConfig uses its optional logger.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		}
	}

	var ev envVars
	if err := env.Parse(&ev); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	data, err := os.ReadFile(ev.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", ev.ConfigFile, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", ev.ConfigFile, err)
	}
	cfg.Database.Password = ev.DBPassword

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if logger != nil {
		logger.Info().Msg("configuration loaded and validated successfully")
	}
	return cfg, nil
}

// defaults mirrors the teacher's envDefault tags, expressed as config
// defaults since this spec's tunables live in a file, not env vars.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                     7070,
			MetricsPort:              7071,
			WorkerThreads:            4,
			ConnectionAcceptTimeoutS: 10,
		},
		Replay: ReplayConfig{
			ForcedTimeoutS:                  3600,
			TimeWithZeroWritersToEndReplayS: 30,
			DelayS:                          10,
			UpdateIntervalMs:                500,
			MergeQuorumSize:                 2,
			StreamComparisonDistanceB:       4096,
		},
	}
}

// Validate checks configuration for errors, matching the teacher's
// Config.Validate shape: range checks with descriptive errors, no panics.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("server.metrics_port must be 1-65535, got %d", c.Server.MetricsPort)
	}
	if c.Server.MetricsPort == c.Server.Port {
		return fmt.Errorf("server.metrics_port must differ from server.port, got %d", c.Server.MetricsPort)
	}
	if c.Server.WorkerThreads < 1 {
		return fmt.Errorf("server.worker_threads must be > 0, got %d", c.Server.WorkerThreads)
	}
	if c.Server.ConnectionAcceptTimeoutS < 1 {
		return fmt.Errorf("server.connection_accept_timeout_s must be > 0, got %d", c.Server.ConnectionAcceptTimeoutS)
	}
	if c.Storage.VaultPath == "" {
		return fmt.Errorf("storage.vault_path is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Replay.ForcedTimeoutS < 1 {
		return fmt.Errorf("replay.forced_timeout_s must be > 0, got %d", c.Replay.ForcedTimeoutS)
	}
	if c.Replay.TimeWithZeroWritersToEndReplayS < 1 {
		return fmt.Errorf("replay.time_with_zero_writers_to_end_replay_s must be > 0, got %d", c.Replay.TimeWithZeroWritersToEndReplayS)
	}
	if c.Replay.DelayS < 0 {
		return fmt.Errorf("replay.delay_s must be >= 0, got %d", c.Replay.DelayS)
	}
	if c.Replay.UpdateIntervalMs < 1 {
		return fmt.Errorf("replay.update_interval_ms must be > 0, got %d", c.Replay.UpdateIntervalMs)
	}
	if c.Replay.MergeQuorumSize < 1 {
		return fmt.Errorf("replay.merge_quorum_size must be > 0, got %d", c.Replay.MergeQuorumSize)
	}
	if c.Replay.StreamComparisonDistanceB < 1 {
		return fmt.Errorf("replay.stream_comparison_distance_b must be > 0, got %d", c.Replay.StreamComparisonDistanceB)
	}
	return nil
}

// LogConfig logs the resolved configuration using structured logging,
// matching the teacher's Config.LogConfig. The database password is never
// logged.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Int("port", c.Server.Port).
		Int("metrics_port", c.Server.MetricsPort).
		Int("worker_threads", c.Server.WorkerThreads).
		Int("connection_accept_timeout_s", c.Server.ConnectionAcceptTimeoutS).
		Str("db_host", c.Database.Host).
		Int("db_port", c.Database.Port).
		Str("db_name", c.Database.Name).
		Str("vault_path", c.Storage.VaultPath).
		Int("forced_timeout_s", c.Replay.ForcedTimeoutS).
		Int("idle_writer_window_s", c.Replay.TimeWithZeroWritersToEndReplayS).
		Int("delay_s", c.Replay.DelayS).
		Int("update_interval_ms", c.Replay.UpdateIntervalMs).
		Int("merge_quorum_size", c.Replay.MergeQuorumSize).
		Int("stream_comparison_distance_b", c.Replay.StreamComparisonDistanceB).
		Msg("server configuration loaded")
}
