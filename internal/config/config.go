package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config represents the entire application configuration
type Config struct {
	Env      string         `json:"env"`
	Port     int            `json:"port"`
	AppName  string         `json:"app_name"`
	MongoDB  MongoDBConfig  `json:"mongodb"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	S3       S3Config       `json:"s3"`
	Parser   ParserConfig   `json:"parser"`
	Import   ImportConfig   `json:"import"`
	Logging  LoggingConfig  `json:"logging"`
	CORS     CORSConfig     `json:"cors"`
}

// MongoDBConfig contains MongoDB connection details
type MongoDBConfig struct {
	URI      string                 `json:"uri"`
	Username string                 `json:"username"`
	Password string                 `json:"password"`
	DB       string                 `json:"db"`
	Options  map[string]interface{} `json:"options"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// RabbitMQConfig contains the invoke-queue connection details
type RabbitMQConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	VHost         string `json:"vhost"`
	ExchangeName  string `json:"exchange_name"`
	QueueName     string `json:"queue_name"`
	RoutingKey    string `json:"routing_key"`
	PrefetchCount int    `json:"prefetch_count"`
}

// S3Config contains the document store bucket details
type S3Config struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	KeyPrefix string `json:"key_prefix"`
}

// ParserConfig contains the external CV extraction API details
type ParserConfig struct {
	APIKey            string `json:"api_key"`
	BaseURL           string `json:"base_url"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	TimeoutSeconds    int    `json:"timeout_seconds"`
}

// ImportConfig contains import orchestration tunables
type ImportConfig struct {
	StaleThresholdMs     int `json:"stale_threshold_ms"`
	DefaultBatchSize     int `json:"default_batch_size"`
	HeartbeatIntervalMs  int `json:"heartbeat_interval_ms"`
	InvokeTimeoutMs      int `json:"invoke_timeout_ms"`
	ProgressCacheTTLSecs int `json:"progress_cache_ttl_secs"`
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	Directory string `json:"directory"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"` // Optional, seconds that preflight requests can be cached
}

// Defaults applied when the config file leaves import tunables unset
const (
	DefaultStaleThresholdMs    = 60_000
	DefaultBatchSize           = 5
	DefaultHeartbeatIntervalMs = 10_000
	DefaultInvokeTimeoutMs     = 5_000
	DefaultProgressCacheTTL    = 3
)

// LoadConfig reads configuration from the specified file path
func LoadConfig(filePath string) (*Config, error) {
	// Read the configuration file
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Create a new Config struct
	var config Config

	// Unmarshal the JSON data into the Config struct
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if config.Import.StaleThresholdMs <= 0 {
		config.Import.StaleThresholdMs = DefaultStaleThresholdMs
	}
	if config.Import.DefaultBatchSize <= 0 {
		config.Import.DefaultBatchSize = DefaultBatchSize
	}
	if config.Import.HeartbeatIntervalMs <= 0 {
		config.Import.HeartbeatIntervalMs = DefaultHeartbeatIntervalMs
	}
	if config.Import.InvokeTimeoutMs <= 0 {
		config.Import.InvokeTimeoutMs = DefaultInvokeTimeoutMs
	}
	if config.Import.ProgressCacheTTLSecs <= 0 {
		config.Import.ProgressCacheTTLSecs = DefaultProgressCacheTTL
	}

	return &config, nil
}
