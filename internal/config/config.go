package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type StorageConfig struct {
	DataDir   string `mapstructure:"data_dir"`
	OutputDir string `mapstructure:"output_dir"`
	TempDir   string `mapstructure:"temp_dir"`
}

type PipelineConfig struct {
	Workers           int           `mapstructure:"workers"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	SaveIntermediates bool          `mapstructure:"save_intermediates"`
	CleanupTemp       bool          `mapstructure:"cleanup_temp"`
	Simulate          bool          `mapstructure:"simulate"`
}

type QueueConfig struct {
	Workers    int           `mapstructure:"workers"`
	MaxRetries int           `mapstructure:"max_retries"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

type SchedulerConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type SecurityConfig struct {
	TokenHash    string `mapstructure:"token_hash"`
	DefaultToken string `mapstructure:"default_token"`
}

type LoggingConfig struct {
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// LoadConfig reads config.yaml from the usual locations, applying
// defaults and CONTENTPIPE_* environment overrides.
func LoadConfig() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.contentpipe")
	v.AddConfigPath("/etc/contentpipe")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadConfigFrom reads an explicit config file.
func LoadConfigFrom(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8090)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.output_dir", "./output")
	v.SetDefault("storage.temp_dir", "./temp")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.default_timeout", "10m")
	v.SetDefault("pipeline.save_intermediates", true)
	v.SetDefault("pipeline.cleanup_temp", true)
	v.SetDefault("pipeline.simulate", false)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.stale_after", "30m")
	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("security.token_hash", "")
	v.SetDefault("security.default_token", "contentpipe-default-token")
	v.SetDefault("logging.dir", "")
	v.SetDefault("logging.console", true)

	v.SetEnvPrefix("CONTENTPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := os.MkdirAll(config.Storage.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return config, nil
}

// RedisAddr returns the host:port for the Redis connection.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// ListenAddr returns the host:port the API server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// RunDir returns the directory holding artifacts for one run.
func (c *Config) RunDir(runID string) string {
	return filepath.Join(c.Storage.OutputDir, runID)
}

// ArchiveDir returns the directory exported run archives land in.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.Storage.DataDir, "archives")
}
