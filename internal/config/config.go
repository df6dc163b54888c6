// Package config handles anchorstore configuration via YAML files and
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Command-line flags (--port, --data, etc.)
//  2. Environment variables (ANCHORSTORE_*)
//  3. Config file (anchorstore.yaml)
//  4. Built-in defaults
//
// Environment variables:
//   - ANCHORSTORE_STORAGE_ENGINE="badger", "sqlite" or "memory"
//   - ANCHORSTORE_STORAGE_PATH="./data/anchorstore"
//   - ANCHORSTORE_STORAGE_SYNC_WRITES=true
//   - ANCHORSTORE_JOURNAL_ENABLED=true
//   - ANCHORSTORE_JOURNAL_PATH="./data/anchorstore.journal"
//   - ANCHORSTORE_MAX_PAGE_SIZE=500
//   - ANCHORSTORE_GRPC_PORT=50051
//   - ANCHORSTORE_METRICS_PORT=9090
//   - ANCHORSTORE_LOG_LEVEL="info"
//   - ANCHORSTORE_LOG_PRETTY=false
//   - ANCHORSTORE_LOG_FILE="/var/log/anchorstore.log"
//   - ANCHORSTORE_TYPE_PACKS="types/finance.yaml,types/ops.yaml"
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nainya/anchorstore/pkg/storage"
	"github.com/nainya/anchorstore/pkg/typedef"
)

// Config is the complete server configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Journal JournalConfig `yaml:"journal"`
	Query   QueryConfig   `yaml:"query"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Types   TypesConfig   `yaml:"types"`
}

type StorageConfig struct {
	Engine     string `yaml:"engine"`
	Path       string `yaml:"path"`
	SyncWrites bool   `yaml:"sync_writes"`
}

type JournalConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	MaxFileSize int64  `yaml:"max_file_size"`
}

type QueryConfig struct {
	MaxPageSize int `yaml:"max_page_size"`
}

type ServerConfig struct {
	GRPCPort    int `yaml:"grpc_port"`
	MetricsPort int `yaml:"metrics_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Pretty     bool   `yaml:"pretty"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TypesConfig lists extra YAML type packs loaded after the built-in pack.
type TypesConfig struct {
	Packs []string `yaml:"packs"`
}

// LoadDefaults returns the built-in defaults.
func LoadDefaults() *Config {
	return &Config{
		Storage: StorageConfig{Engine: storage.EngineBadger, Path: "./data/anchorstore"},
		Journal: JournalConfig{Enabled: true, Path: "./data/anchorstore.journal", MaxFileSize: 16 << 20},
		Query:   QueryConfig{MaxPageSize: 500},
		Server:  ServerConfig{GRPCPort: 50051, MetricsPort: 9090},
		Logging: LoggingConfig{Level: "info", MaxSizeMB: 128, MaxBackups: 5, MaxAgeDays: 16},
	}
}

// LoadFromFile reads configPath over the defaults, then applies environment
// variables. A missing file is not an error.
func LoadFromFile(configPath string) (*Config, error) {
	config := LoadDefaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	ApplyEnvVars(config)
	return config, nil
}

// ApplyEnvVars overrides config with ANCHORSTORE_* environment variables.
func ApplyEnvVars(config *Config) {
	config.Storage.Engine = getEnv("ANCHORSTORE_STORAGE_ENGINE", config.Storage.Engine)
	config.Storage.Path = getEnv("ANCHORSTORE_STORAGE_PATH", config.Storage.Path)
	config.Storage.SyncWrites = getEnvBool("ANCHORSTORE_STORAGE_SYNC_WRITES", config.Storage.SyncWrites)

	config.Journal.Enabled = getEnvBool("ANCHORSTORE_JOURNAL_ENABLED", config.Journal.Enabled)
	config.Journal.Path = getEnv("ANCHORSTORE_JOURNAL_PATH", config.Journal.Path)

	config.Query.MaxPageSize = getEnvInt("ANCHORSTORE_MAX_PAGE_SIZE", config.Query.MaxPageSize)

	config.Server.GRPCPort = getEnvInt("ANCHORSTORE_GRPC_PORT", config.Server.GRPCPort)
	config.Server.MetricsPort = getEnvInt("ANCHORSTORE_METRICS_PORT", config.Server.MetricsPort)

	config.Logging.Level = getEnv("ANCHORSTORE_LOG_LEVEL", config.Logging.Level)
	config.Logging.Pretty = getEnvBool("ANCHORSTORE_LOG_PRETTY", config.Logging.Pretty)
	config.Logging.File = getEnv("ANCHORSTORE_LOG_FILE", config.Logging.File)

	config.Types.Packs = getEnvStringSlice("ANCHORSTORE_TYPE_PACKS", config.Types.Packs)
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case storage.EngineBadger, storage.EngineSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage engine %s needs a path", c.Storage.Engine)
		}
	case storage.EngineMemory:
	default:
		return fmt.Errorf("unknown storage engine: %q", c.Storage.Engine)
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		return errors.New("journal enabled but no path provided")
	}
	if c.Query.MaxPageSize <= 0 {
		return fmt.Errorf("invalid max page size: %d", c.Query.MaxPageSize)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port: %d", c.Server.GRPCPort)
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.GRPCPort {
		return fmt.Errorf("grpc and metrics ports must differ, both are %d", c.Server.GRPCPort)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	return nil
}

// String returns a one-line summary suitable for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Storage: %s:%s, Journal: %v, gRPC: %d, Metrics: %d, MaxPageSize: %d}",
		c.Storage.Engine, c.Storage.Path,
		c.Journal.Enabled,
		c.Server.GRPCPort, c.Server.MetricsPort,
		c.Query.MaxPageSize,
	)
}

// StorageConfig converts the storage section into an engine configuration.
func (c *Config) StorageConfig() storage.Config {
	return storage.Config{
		Engine:     c.Storage.Engine,
		Path:       c.Storage.Path,
		SyncWrites: c.Storage.SyncWrites,
	}
}

// LoadTypes returns the built-in type registry extended with the configured
// type packs.
func (c *Config) LoadTypes() (*typedef.Registry, error) {
	reg, err := typedef.Default()
	if err != nil {
		return nil, err
	}
	for _, pack := range c.Types.Packs {
		f, err := os.Open(pack)
		if err != nil {
			return nil, fmt.Errorf("open type pack: %w", err)
		}
		err = reg.LoadYAML(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("load type pack %s: %w", pack, err)
		}
	}
	return reg, nil
}

// FindConfigFile returns the first existing candidate config file, or "".
func FindConfigFile() string {
	var candidates []string

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".anchorstore", "config.yaml"))
	}
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "anchorstore.yaml"))
	}
	candidates = append(candidates, "anchorstore.yaml", "config.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return defaultVal
}
