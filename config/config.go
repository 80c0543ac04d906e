package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Import   ImportConfig   `mapstructure:"import"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// CatalogConfig holds settings for the remote digital-library API client
type CatalogConfig struct {
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialBackoffMs  int           `mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int           `mapstructure:"max_backoff_ms"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	CountWorkers      int           `mapstructure:"count_workers"`
}

// ImportConfig holds the asset import and image-integrity pipeline settings
type ImportConfig struct {
	// MaxRetries bounds application-level re-downloads after image failures.
	MaxRetries int `mapstructure:"max_retries"`
	// RetryDelayMinutes is the countdown before a re-download attempt.
	// Zero disables application-level retries entirely.
	RetryDelayMinutes int `mapstructure:"retry_delay_minutes"`
	// StrictChecksum makes an ETag/MD5 mismatch after upload a hard failure.
	// Off by default: some object-store front-ends compute multipart ETags
	// that never match a plain content hash.
	StrictChecksum      bool `mapstructure:"strict_checksum"`
	VerifyConcurrency   int  `mapstructure:"verify_concurrency"`
	DownloadConcurrency int  `mapstructure:"download_concurrency"`
	BatchChunkSize      int  `mapstructure:"batch_chunk_size"`
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Type      string `mapstructure:"type"` // "local" or "minio"
	BasePath  string `mapstructure:"base_path"`
	Endpoint  string `mapstructure:"endpoint"`
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// WorkerConfig holds task worker pool configuration
type WorkerConfig struct {
	NumWorkers int           `mapstructure:"num_workers"`
	MaxTasks   int           `mapstructure:"max_tasks"`
	PollDelay  time.Duration `mapstructure:"poll_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

var globalConfig *Config

// Load loads the configuration from file, .env, and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := loadEnvFile(); err != nil {
		// .env is optional, log but don't fail
		log.Warn().Err(err).Msg("Warning: .env file not loaded")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("CONCORDIA")

	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// loadEnvFile loads a .env file by parsing KEY=VALUE lines and setting them
// as environment variables
func loadEnvFile() error {
	envPaths := []string{
		".",
		"./config",
	}

	for _, path := range envPaths {
		envFile := fmt.Sprintf("%s/.env", path)
		if _, err := os.Stat(envFile); err == nil {
			if err := loadDotEnvFile(envFile); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("no .env file found")
}

// loadDotEnvFile reads a .env file and sets environment variables
func loadDotEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			value = strings.Trim(value, "\"'")
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// bindEnvVars binds environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("database.url", "DATABASE_URL")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.host", "HOST")

	v.BindEnv("logging.level", "LOG_LEVEL")

	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.base_path", "STORAGE_PATH")
	v.BindEnv("storage.endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.bucket", "MINIO_BUCKET")
	v.BindEnv("storage.access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "MINIO_SECRET_KEY")

	v.BindEnv("import.max_retries", "ASSET_IMAGE_IMPORT_MAX_RETRIES")
	v.BindEnv("import.retry_delay_minutes", "ASSET_IMAGE_IMPORT_RETRY_DELAY")
	v.BindEnv("import.strict_checksum", "IMPORT_IMAGE_CHECKSUM")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_connections", 5)
	v.SetDefault("database.max_conn_lifetime", 1*time.Hour)
	v.SetDefault("database.max_conn_idle_time", 30*time.Minute)

	v.SetDefault("catalog.requests_per_second", 2)
	v.SetDefault("catalog.max_retries", 3)
	v.SetDefault("catalog.initial_backoff_ms", 100)
	v.SetDefault("catalog.max_backoff_ms", 30000)
	v.SetDefault("catalog.cache_ttl", 24*time.Hour)
	v.SetDefault("catalog.count_workers", 25)

	v.SetDefault("import.max_retries", 2)
	v.SetDefault("import.retry_delay_minutes", 30)
	v.SetDefault("import.strict_checksum", false)
	v.SetDefault("import.verify_concurrency", 2)
	v.SetDefault("import.download_concurrency", 10)
	v.SetDefault("import.batch_chunk_size", 1000)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.base_path", "./data/assets")
	v.SetDefault("storage.bucket", "concordia-assets")
	v.SetDefault("storage.use_ssl", true)

	v.SetDefault("worker.num_workers", 4)
	v.SetDefault("worker.max_tasks", 5)
	v.SetDefault("worker.poll_delay", 2*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.no_color", false)
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

// GetDatabaseURL returns the database URL from config or environment
func GetDatabaseURL() string {
	if cfg := Get(); cfg != nil && cfg.Database.URL != "" {
		return cfg.Database.URL
	}
	return os.Getenv("DATABASE_URL")
}
