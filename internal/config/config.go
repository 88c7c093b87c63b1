// Package config loads the settings of the local geoingest server from an
// optional YAML file, an optional .env file and the process environment, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Job store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds the full server configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	DataDir  string         `yaml:"data_dir"`
	JobStore JobStoreConfig `yaml:"job_store"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	LogLevel string         `yaml:"log_level"`
}

// JobStoreConfig selects where job records live.
type JobStoreConfig struct {
	Driver string `yaml:"driver"` // memory | sqlite | postgres
	DSN    string `yaml:"dsn"`
}

// PipelineConfig tunes processing.
type PipelineConfig struct {
	MaxFileMB   int  `yaml:"max_file_mb"`
	MaxFiles    int  `yaml:"max_files"`
	Parallelism int  `yaml:"parallelism"`
	AutoFix     bool `yaml:"auto_fix"`
	StrictRows  bool `yaml:"strict_rows"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Listen:  ":8080",
		DataDir: "data",
		JobStore: JobStoreConfig{
			Driver: StoreSQLite,
		},
		Pipeline: PipelineConfig{
			MaxFileMB:   100,
			MaxFiles:    50,
			Parallelism: 8,
			AutoFix:     true,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration. configPath and envPath may be empty; a
// missing .env file is not an error.
func Load(configPath, envPath string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", configPath, err)
		}
	}
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", envPath, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.JobStore.Driver == StoreSQLite && cfg.JobStore.DSN == "" {
		cfg.JobStore.DSN = strings.TrimSuffix(cfg.DataDir, "/") + "/jobs.db"
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	str("GEOINGEST_LISTEN", &c.Listen)
	str("GEOINGEST_DATA_DIR", &c.DataDir)
	str("GEOINGEST_JOB_STORE", &c.JobStore.Driver)
	str("GEOINGEST_JOB_STORE_DSN", &c.JobStore.DSN)
	str("GEOINGEST_LOG_LEVEL", &c.LogLevel)

	ints := map[string]*int{
		"GEOINGEST_MAX_FILE_MB": &c.Pipeline.MaxFileMB,
		"GEOINGEST_MAX_FILES":   &c.Pipeline.MaxFiles,
		"GEOINGEST_PARALLELISM": &c.Pipeline.Parallelism,
	}
	for key, dst := range ints {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	bools := map[string]*bool{
		"GEOINGEST_AUTO_FIX":    &c.Pipeline.AutoFix,
		"GEOINGEST_STRICT_ROWS": &c.Pipeline.StrictRows,
	}
	for key, dst := range bools {
		if v, ok := os.LookupEnv(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	switch c.JobStore.Driver {
	case StoreMemory:
	case StoreSQLite, StorePostgres:
		if c.JobStore.DSN == "" {
			return fmt.Errorf("job_store.dsn is required for driver %s", c.JobStore.Driver)
		}
	default:
		return fmt.Errorf("unsupported job_store.driver %q (use memory, sqlite or postgres)", c.JobStore.Driver)
	}
	if c.Pipeline.MaxFileMB <= 0 {
		return fmt.Errorf("pipeline.max_file_mb must be > 0")
	}
	if c.Pipeline.MaxFiles <= 0 {
		return fmt.Errorf("pipeline.max_files must be > 0")
	}
	if c.Pipeline.Parallelism <= 0 {
		return fmt.Errorf("pipeline.parallelism must be > 0")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q", c.LogLevel)
	}
	return nil
}

// MaxFileBytes returns the per-file size limit in bytes.
func (c *Config) MaxFileBytes() int64 { return int64(c.Pipeline.MaxFileMB) * 1024 * 1024 }

// Level returns the slog level named by LogLevel.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
