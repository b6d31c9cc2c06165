package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/phillip-england/ccmetrics/internal/envutil"
	"gopkg.in/yaml.v3"
)

const (
	BackendAzure = "azure"
	BackendFile  = "file"
)

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SecretKey       string        `yaml:"secret_key"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"`
}

// StorageConfig says where the workbook lives
type StorageConfig struct {
	Backend          string `yaml:"backend"`
	ConnectionString string `yaml:"connection_string"`
	AccountURL       string `yaml:"account_url"`
	Container        string `yaml:"container"`
	Blob             string `yaml:"blob"`
	FilePath         string `yaml:"file_path"`
	MaxRetries       int32  `yaml:"max_retries"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":5000",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			MetricsEnabled:  true,
		},
		Storage: StorageConfig{
			Backend:    BackendAzure,
			Blob:       "CareerCenterMetrics.xlsx",
			FilePath:   "CareerCenterMetrics.xlsx",
			MaxRetries: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the optional YAML file at path and then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.Server.Addr = envutil.String("ADDR", c.Server.Addr)
	c.Server.SecretKey = envutil.String("SECRET_KEY", c.Server.SecretKey)
	c.Server.ReadTimeout = envutil.Duration("READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = envutil.Duration("WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.MetricsEnabled = envutil.Bool("METRICS_ENABLED", c.Server.MetricsEnabled)

	c.Storage.ConnectionString = envutil.String("AZURE_STORAGE_CONNECTION_STRING", c.Storage.ConnectionString)
	c.Storage.AccountURL = envutil.String("AZURE_STORAGE_ACCOUNT_URL", c.Storage.AccountURL)
	c.Storage.Container = envutil.String("AZURE_CONTAINER_NAME", c.Storage.Container)
	c.Storage.Blob = envutil.String("AZURE_BLOB_NAME", c.Storage.Blob)
	c.Storage.FilePath = envutil.String("WORKBOOK_PATH", c.Storage.FilePath)
	c.Storage.Backend = strings.ToLower(envutil.String("STORAGE_BACKEND", c.Storage.Backend))

	c.Logging.Level = envutil.String("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envutil.String("LOG_FORMAT", c.Logging.Format)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server address is required")
	}
	if c.Server.SecretKey != "" && len(c.Server.SecretKey) < 16 {
		return errors.New("SECRET_KEY must be at least 16 characters")
	}
	switch c.Storage.Backend {
	case BackendAzure:
		if c.Storage.ConnectionString == "" && c.Storage.AccountURL == "" {
			return errors.New("AZURE_STORAGE_CONNECTION_STRING or AZURE_STORAGE_ACCOUNT_URL is required")
		}
		if c.Storage.Container == "" {
			return errors.New("AZURE_CONTAINER_NAME is required")
		}
		if c.Storage.Blob == "" {
			return errors.New("AZURE_BLOB_NAME is required")
		}
	case BackendFile:
		if c.Storage.FilePath == "" {
			return errors.New("WORKBOOK_PATH is required for the file backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}
