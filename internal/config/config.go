// Package config loads Torrin's runtime configuration via viper: defaults,
// an optional YAML file, and TORRIN_-prefixed environment overrides.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration for torrind.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Chunk   ChunkConfig   `mapstructure:"chunk"`
	Cleanup CleanupConfig `mapstructure:"cleanup"`
	Local   LocalConfig   `mapstructure:"local"`
	S3      S3Config      `mapstructure:"s3"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains HTTP surface settings.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	BasePath     string        `mapstructure:"base_path"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	AllowOrigins []string      `mapstructure:"allow_origins"`
}

// ChunkConfig holds chunk-size bounds and a default session TTL. torrind
// loads these values but does not pass them on: the service always uses the
// fixed chunk-size limits in package ids, and sessions created over HTTP
// carry no TTL.
type ChunkConfig struct {
	DefaultSize int64         `mapstructure:"default_size"`
	MinSize     int64         `mapstructure:"min_size"`
	MaxSize     int64         `mapstructure:"max_size"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
}

// CleanupConfig controls the background sweep cadence.
type CleanupConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	StaleMaxAge time.Duration `mapstructure:"stale_max_age"`
}

// LocalConfig configures the local filesystem StorageDriver.
type LocalConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	TempDir          string `mapstructure:"temp_dir"`
	BaseDir          string `mapstructure:"base_dir"`
	PreserveFileName bool   `mapstructure:"preserve_file_name"`
}

// S3Config configures the S3-compatible multipart StorageDriver.
type S3Config struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	Bucket         string `mapstructure:"bucket"`
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	KeyPrefix      string `mapstructure:"key_prefix"`
	UsePathStyle   bool   `mapstructure:"use_path_style"`
}

// LoggingConfig controls the zap/lumberjack logger construction.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "json" or "console"
	File       string `mapstructure:"file"`   // empty disables file rotation
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load builds a Config from defaults, an optional file at configPath (may
// be empty), and TORRIN_-prefixed environment variables, in that order of
// increasing precedence.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TORRIN")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.base_path", "/torrin/uploads")
	v.SetDefault("server.read_timeout", "5m")  // large chunk bodies
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("chunk.default_size", 1024*1024)       // 1 MiB
	v.SetDefault("chunk.min_size", 256*1024)            // 256 KiB
	v.SetDefault("chunk.max_size", 100*1024*1024)       // 100 MiB
	v.SetDefault("chunk.default_ttl", "24h")

	v.SetDefault("cleanup.interval", "5m")
	v.SetDefault("cleanup.stale_max_age", "2h")

	v.SetDefault("local.enabled", true)
	v.SetDefault("local.temp_dir", "./data/staging")
	v.SetDefault("local.base_dir", "./data/uploads")
	v.SetDefault("local.preserve_file_name", false)

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "uploads")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.key_prefix", "uploads/")
	v.SetDefault("s3.use_path_style", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
}
