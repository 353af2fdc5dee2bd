// Package config provides unified configuration for the Eventmill pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full pipeline configuration.
type Config struct {
	// DynamoDB is the source table configuration
	DynamoDB DynamoDBConfig `json:"dynamodb" yaml:"dynamodb"`

	// S3 is the destination bucket configuration
	S3 S3Config `json:"s3" yaml:"s3"`

	// Processing holds concurrency and window settings
	Processing ProcessingConfig `json:"processing" yaml:"processing"`

	// Metrics holds the metrics sink configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Ledger holds the local run-history configuration
	Ledger LedgerConfig `json:"ledger" yaml:"ledger"`

	// Logging holds logger configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// DynamoDBConfig holds source table configuration.
type DynamoDBConfig struct {
	// TableName is the DynamoDB table to scan
	TableName string `json:"table_name" yaml:"table_name"`

	// Region is the AWS region of the table
	Region string `json:"region" yaml:"region"`

	// ParallelSegments is the number of parallel scan segments
	ParallelSegments int `json:"parallel_segments" yaml:"parallel_segments"`
}

// S3Config holds destination bucket configuration.
type S3Config struct {
	// BucketPrefix is the per-tenant bucket name prefix ({prefix}-{clientId})
	BucketPrefix string `json:"bucket_prefix" yaml:"bucket_prefix"`

	// Region is the AWS region of the destination buckets
	Region string `json:"region" yaml:"region"`

	// Endpoint is an optional custom endpoint (for MinIO, LocalStack, etc.)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// OutputFormat is the artifact format: json, csv
	OutputFormat string `json:"output_format" yaml:"output_format"`

	// Compression is the artifact compression: none, snappy
	Compression string `json:"compression" yaml:"compression"`
}

// ProcessingConfig holds concurrency and window settings.
type ProcessingConfig struct {
	// Window is the trailing time window to extract (default 1h)
	Window time.Duration `json:"window" yaml:"window"`

	// MaxConcurrentUploads caps in-flight per-tenant uploads
	MaxConcurrentUploads int `json:"max_concurrent_uploads" yaml:"max_concurrent_uploads"`
}

// MetricsConfig holds the metrics sink configuration.
type MetricsConfig struct {
	// EnableCloudWatch controls whether run metrics are published
	EnableCloudWatch bool `json:"enable_cloudwatch" yaml:"enable_cloudwatch"`

	// Namespace is the CloudWatch metrics namespace
	Namespace string `json:"namespace" yaml:"namespace"`
}

// LedgerConfig holds the local run-history configuration.
type LedgerConfig struct {
	// Path is the SQLite database path; empty disables the ledger
	Path string `json:"path" yaml:"path"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is the log level: debug, info, warn, error
	Level string `json:"level" yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DynamoDB: DynamoDBConfig{
			TableName:        "events",
			Region:           "us-east-1",
			ParallelSegments: 8,
		},
		S3: S3Config{
			BucketPrefix: "client-events",
			Region:       "us-east-1",
			OutputFormat: "json",
			Compression:  "none",
		},
		Processing: ProcessingConfig{
			Window:               time.Hour,
			MaxConcurrentUploads: 10,
		},
		Metrics: MetricsConfig{
			EnableCloudWatch: false,
			Namespace:        "Eventmill",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DynamoDB.TableName == "" {
		return fmt.Errorf("dynamodb.table_name is required")
	}
	if c.S3.BucketPrefix == "" {
		return fmt.Errorf("s3.bucket_prefix is required")
	}
	if c.DynamoDB.ParallelSegments < 1 {
		return fmt.Errorf("dynamodb.parallel_segments must be at least 1, got %d", c.DynamoDB.ParallelSegments)
	}
	if c.Processing.MaxConcurrentUploads < 1 {
		return fmt.Errorf("processing.max_concurrent_uploads must be at least 1, got %d", c.Processing.MaxConcurrentUploads)
	}
	if c.Processing.Window <= 0 {
		return fmt.Errorf("processing.window must be positive, got %s", c.Processing.Window)
	}

	switch c.S3.OutputFormat {
	case "json", "csv":
	default:
		return fmt.Errorf("invalid output format: %s (must be json or csv)", c.S3.OutputFormat)
	}

	switch c.S3.Compression {
	case "", "none", "snappy":
	default:
		return fmt.Errorf("invalid compression: %s (must be none or snappy)", c.S3.Compression)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the EVENTMILL_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("EVENTMILL_TABLE_NAME"); v != "" {
		cfg.DynamoDB.TableName = v
	}
	if v := os.Getenv("EVENTMILL_DYNAMODB_REGION"); v != "" {
		cfg.DynamoDB.Region = v
	}
	if v := os.Getenv("EVENTMILL_PARALLEL_SEGMENTS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.DynamoDB.ParallelSegments)
	}

	if v := os.Getenv("EVENTMILL_BUCKET_PREFIX"); v != "" {
		cfg.S3.BucketPrefix = v
	}
	if v := os.Getenv("EVENTMILL_S3_REGION"); v != "" {
		cfg.S3.Region = v
	}
	if v := os.Getenv("EVENTMILL_S3_ENDPOINT"); v != "" {
		cfg.S3.Endpoint = v
	}
	if v := os.Getenv("EVENTMILL_OUTPUT_FORMAT"); v != "" {
		cfg.S3.OutputFormat = v
	}
	if v := os.Getenv("EVENTMILL_COMPRESSION"); v != "" {
		cfg.S3.Compression = v
	}

	if v := os.Getenv("EVENTMILL_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Processing.Window = d
		}
	}
	if v := os.Getenv("EVENTMILL_MAX_CONCURRENT_UPLOADS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Processing.MaxConcurrentUploads)
	}

	if v := os.Getenv("EVENTMILL_ENABLE_CLOUDWATCH"); v != "" {
		cfg.Metrics.EnableCloudWatch = v == "true" || v == "1"
	}
	if v := os.Getenv("EVENTMILL_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}

	if v := os.Getenv("EVENTMILL_LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}
	if v := os.Getenv("EVENTMILL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// AWS_DEFAULT_REGION fills in any region left unset, matching the SDK's
	// own resolution order.
	if v := os.Getenv("AWS_DEFAULT_REGION"); v != "" {
		if cfg.DynamoDB.Region == "" {
			cfg.DynamoDB.Region = v
		}
		if cfg.S3.Region == "" {
			cfg.S3.Region = v
		}
	}
}
