package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Service   ServiceConfig   `mapstructure:"service"`
	Benchmark BenchmarkConfig `mapstructure:"benchmark"`
	Results   ResultsConfig   `mapstructure:"results"`
	Status    StatusConfig    `mapstructure:"status"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BuildConfig identifies one server build variant under test
type BuildConfig struct {
	Label  string `mapstructure:"label" validate:"required"`
	Binary string `mapstructure:"binary" validate:"required"`
}

// ServiceConfig holds inference server launch and probing configuration
type ServiceConfig struct {
	Builds      []BuildConfig `mapstructure:"builds" validate:"min=1,dive"`
	Model       string        `mapstructure:"model" validate:"required"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port" validate:"min=1,max=65535"`
	ContextSize int           `mapstructure:"context_size" validate:"min=1"`
	Threads     int           `mapstructure:"threads" validate:"min=1"`
	BatchSize   int           `mapstructure:"batch_size" validate:"min=1"`
	Widths      []int         `mapstructure:"widths" validate:"min=1,dive,min=1"`

	// Readiness probing
	ProbeAttempts int           `mapstructure:"probe_attempts" validate:"min=1"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	SettleDelay   time.Duration `mapstructure:"settle_delay"`
	StopGrace     time.Duration `mapstructure:"stop_grace"`
}

// BenchmarkConfig holds dataset replay configuration
type BenchmarkConfig struct {
	Datasets         []string      `mapstructure:"datasets" validate:"min=1"`
	RetryLimit       int           `mapstructure:"retry_limit" validate:"min=1"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	RetryOnTransport bool          `mapstructure:"retry_on_transport"`
	DefaultMaxTokens int           `mapstructure:"default_max_tokens" validate:"min=1"`
	DropCaches       bool          `mapstructure:"drop_caches"`
}

// ResultsConfig holds result artifact configuration
type ResultsConfig struct {
	Dir          string `mapstructure:"dir" validate:"required"`
	DatabasePath string `mapstructure:"database_path"`
}

// StatusConfig holds the live inspection server configuration
type StatusConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the status server
}

// UploadConfig holds the optional SFTP artifact publishing configuration
type UploadConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	KeyPath   string `mapstructure:"key_path"`
	RemoteDir string `mapstructure:"remote_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from config file; without an explicit path, look for
	// tokenbench.yaml in the working directory
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("tokenbench")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// Default config file is optional, env vars may carry everything
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	// Read from environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("TOKENBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific environment variables
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service.host", "127.0.0.1")
	v.SetDefault("service.port", 8080)
	v.SetDefault("service.context_size", 4096)
	v.SetDefault("service.threads", 8)
	v.SetDefault("service.batch_size", 512)
	v.SetDefault("service.widths", []int{1})
	v.SetDefault("service.probe_attempts", 60)
	v.SetDefault("service.probe_interval", time.Second)
	v.SetDefault("service.settle_delay", 30*time.Second)
	v.SetDefault("service.stop_grace", 5*time.Second)

	// Benchmark defaults
	v.SetDefault("benchmark.retry_limit", 3)
	v.SetDefault("benchmark.request_timeout", 10*time.Minute)
	v.SetDefault("benchmark.retry_on_transport", false)
	v.SetDefault("benchmark.default_max_tokens", 128)
	v.SetDefault("benchmark.drop_caches", true)

	// Results defaults
	v.SetDefault("results.dir", "./results")
	v.SetDefault("results.database_path", "./results/tokenbench.db")

	// Status server defaults (empty = disabled)
	v.SetDefault("status.addr", "")

	// Upload defaults
	v.SetDefault("upload.enabled", false)
	v.SetDefault("upload.port", 22)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnvVars(v *viper.Viper) {
	// Helper to bind and log errors (BindEnv errors are non-fatal but should be logged)
	bindEnv := func(key string, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			slog.Warn("failed to bind environment variable",
				slog.String("key", key),
				slog.String("env_var", envVar),
				slog.String("error", err.Error()))
		}
	}

	bindEnv("service.model", "TOKENBENCH_MODEL")
	bindEnv("service.port", "TOKENBENCH_PORT")
	bindEnv("results.dir", "TOKENBENCH_RESULTS_DIR")
	bindEnv("results.database_path", "TOKENBENCH_DATABASE_PATH")
	bindEnv("status.addr", "TOKENBENCH_STATUS_ADDR")
	bindEnv("upload.host", "TOKENBENCH_UPLOAD_HOST")
	bindEnv("upload.user", "TOKENBENCH_UPLOAD_USER")
	bindEnv("upload.key_path", "TOKENBENCH_UPLOAD_KEY")
	bindEnv("logging.level", "LOG_LEVEL")
	bindEnv("logging.format", "LOG_FORMAT")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c.Service); err != nil {
		return fmt.Errorf("service config: %w", err)
	}
	if err := validate.Struct(c.Benchmark); err != nil {
		return fmt.Errorf("benchmark config: %w", err)
	}
	if err := validate.Struct(c.Results); err != nil {
		return fmt.Errorf("results config: %w", err)
	}

	if c.Upload.Enabled {
		if c.Upload.Host == "" || c.Upload.User == "" || c.Upload.KeyPath == "" {
			return fmt.Errorf("upload requires host, user and key_path when enabled")
		}
	}

	return nil
}
