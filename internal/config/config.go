package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Environment string         `mapstructure:"environment" validate:"required,oneof=development staging production test"`
	Server      ServerConfig   `mapstructure:"server"`
	Backend     BackendConfig  `mapstructure:"backend"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Batch       BatchConfig    `mapstructure:"batch"`
	Redis       RedisConfig    `mapstructure:"redis"`
	Kafka       KafkaConfig    `mapstructure:"kafka"`
	Logging     LoggingConfig  `mapstructure:"logging"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
	Security    SecurityConfig `mapstructure:"security"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// HTTPConfig contains HTTP server settings
type HTTPConfig struct {
	Port         int `mapstructure:"port" validate:"required,min=1,max=65535"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
	IdleTimeout  int `mapstructure:"idle_timeout"`
}

// WebSocketConfig contains WebSocket settings
type WebSocketConfig struct {
	ReadBufferSize  int  `mapstructure:"read_buffer_size"`
	WriteBufferSize int  `mapstructure:"write_buffer_size"`
	CheckOrigin     bool `mapstructure:"check_origin"`
}

// BackendConfig contains the analysis backend connection settings
type BackendConfig struct {
	BaseURL    string `mapstructure:"base_url" validate:"required,url"`
	Timeout    int    `mapstructure:"timeout" validate:"min=1"`
	MaxRetries int    `mapstructure:"max_retries" validate:"min=0"`
	RateLimit  int    `mapstructure:"rate_limit" validate:"min=0"`
	RateBurst  int    `mapstructure:"rate_burst" validate:"min=0"`
}

// TimeoutDuration returns the per-request timeout
func (b BackendConfig) TimeoutDuration() time.Duration {
	return time.Duration(b.Timeout) * time.Second
}

// CacheConfig contains derived-view cache settings
type CacheConfig struct {
	StaleTime       int    `mapstructure:"stale_time"`
	RefreshDebounce int    `mapstructure:"refresh_debounce"`
	ServeStale      bool   `mapstructure:"serve_stale"`
	Backend         string `mapstructure:"backend" validate:"oneof=memory redis"`
}

// StaleDuration returns the staleness window
func (c CacheConfig) StaleDuration() time.Duration {
	return time.Duration(c.StaleTime) * time.Second
}

// DebounceDuration returns the refresh debounce window
func (c CacheConfig) DebounceDuration() time.Duration {
	return time.Duration(c.RefreshDebounce) * time.Millisecond
}

// BatchConfig contains batch analysis settings
type BatchConfig struct {
	PollInterval       int    `mapstructure:"poll_interval" validate:"min=100"`
	DefaultReportLevel string `mapstructure:"default_report_level" validate:"oneof=summary full"`
}

// PollDuration returns the batch status poll interval
func (b BatchConfig) PollDuration() time.Duration {
	return time.Duration(b.PollInterval) * time.Millisecond
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	Database     int    `mapstructure:"database"`
	MaxRetries   int    `mapstructure:"max_retries"`
	DialTimeout  int    `mapstructure:"dial_timeout"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	PoolSize     int    `mapstructure:"pool_size"`
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Brokers      []string          `mapstructure:"brokers"`
	Topics       KafkaTopicsConfig `mapstructure:"topics"`
	WriteTimeout int               `mapstructure:"write_timeout"`
}

// KafkaTopicsConfig contains Kafka topic names
type KafkaTopicsConfig struct {
	WorkflowEvents string `mapstructure:"workflow_events"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig contains metrics and monitoring configuration
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// SecurityConfig contains security configuration
type SecurityConfig struct {
	APIAuth APIAuthConfig `mapstructure:"api_auth"`
}

// APIAuthConfig contains API authentication settings
type APIAuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret" validate:"required_if=Enabled true"`
}

// Load loads configuration from file and environment variables. A missing
// config file is not an error; defaults and environment still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Set environment variable prefix
	v.SetEnvPrefix("DISCOVERY_CONSOLE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if !os.IsNotExist(err) {
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("failed to read config file: %w", err)
				}
			}
		}
	}

	overrideWithEnvVars(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", 30)
	v.SetDefault("server.http.write_timeout", 30)
	v.SetDefault("server.http.idle_timeout", 120)
	v.SetDefault("server.websocket.read_buffer_size", 1024)
	v.SetDefault("server.websocket.write_buffer_size", 1024)
	v.SetDefault("server.websocket.check_origin", false)

	// Backend defaults
	v.SetDefault("backend.base_url", "http://localhost:3011/api/v1")
	v.SetDefault("backend.timeout", 30)
	v.SetDefault("backend.max_retries", 0)
	v.SetDefault("backend.rate_limit", 20)
	v.SetDefault("backend.rate_burst", 10)

	// Cache defaults
	v.SetDefault("cache.stale_time", 30)
	v.SetDefault("cache.refresh_debounce", 300)
	v.SetDefault("cache.serve_stale", false)
	v.SetDefault("cache.backend", "memory")

	// Batch defaults
	v.SetDefault("batch.poll_interval", 2000)
	v.SetDefault("batch.default_report_level", "summary")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)
	v.SetDefault("redis.pool_size", 10)

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topics.workflow_events", "discovery-console.workflow")
	v.SetDefault("kafka.write_timeout", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("security.api_auth.enabled", false)
}

// overrideWithEnvVars overrides configuration with environment variables
func overrideWithEnvVars(v *viper.Viper) {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		v.Set("environment", env)
	}

	if baseURL := os.Getenv("BACKEND_BASE_URL"); baseURL != "" {
		v.Set("backend.base_url", baseURL)
	}

	// Redis environment variables
	if host := os.Getenv("REDIS_HOST"); host != "" {
		v.Set("redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		v.Set("redis.port", port)
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		v.Set("redis.password", password)
	}

	// Kafka environment variables
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		v.Set("kafka.brokers", strings.Split(brokers, ","))
	}

	// Security environment variables
	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		v.Set("security.api_auth.jwt_secret", jwtSecret)
	}
}
