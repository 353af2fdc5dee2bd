package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "events", cfg.DynamoDB.TableName)
	assert.Equal(t, 8, cfg.DynamoDB.ParallelSegments)
	assert.Equal(t, "client-events", cfg.S3.BucketPrefix)
	assert.Equal(t, "json", cfg.S3.OutputFormat)
	assert.Equal(t, time.Hour, cfg.Processing.Window)
	assert.Equal(t, 10, cfg.Processing.MaxConcurrentUploads)
	assert.False(t, cfg.Metrics.EnableCloudWatch)
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
dynamodb:
  table_name: prod-events
  parallel_segments: 16
s3:
  bucket_prefix: acme-events
  output_format: csv
  compression: snappy
processing:
  window: 2h
  max_concurrent_uploads: 4
metrics:
  enable_cloudwatch: true
  namespace: Acme
ledger:
  path: /var/lib/eventmill/runs.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "prod-events", cfg.DynamoDB.TableName)
	assert.Equal(t, 16, cfg.DynamoDB.ParallelSegments)
	assert.Equal(t, "acme-events", cfg.S3.BucketPrefix)
	assert.Equal(t, "csv", cfg.S3.OutputFormat)
	assert.Equal(t, "snappy", cfg.S3.Compression)
	assert.Equal(t, 2*time.Hour, cfg.Processing.Window)
	assert.Equal(t, 4, cfg.Processing.MaxConcurrentUploads)
	assert.True(t, cfg.Metrics.EnableCloudWatch)
	assert.Equal(t, "Acme", cfg.Metrics.Namespace)
	assert.Equal(t, "/var/lib/eventmill/runs.db", cfg.Ledger.Path)

	// Keys the file does not set keep their defaults.
	assert.Equal(t, "us-east-1", cfg.DynamoDB.Region)
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"dynamodb": {"table_name": "json-events"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "json-events", cfg.DynamoDB.TableName)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EVENTMILL_TABLE_NAME", "env-events")
	t.Setenv("EVENTMILL_PARALLEL_SEGMENTS", "32")
	t.Setenv("EVENTMILL_BUCKET_PREFIX", "env-prefix")
	t.Setenv("EVENTMILL_OUTPUT_FORMAT", "csv")
	t.Setenv("EVENTMILL_WINDOW", "30m")
	t.Setenv("EVENTMILL_MAX_CONCURRENT_UPLOADS", "3")
	t.Setenv("EVENTMILL_ENABLE_CLOUDWATCH", "true")
	t.Setenv("EVENTMILL_LEDGER_PATH", "/tmp/runs.db")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	assert.Equal(t, "env-events", cfg.DynamoDB.TableName)
	assert.Equal(t, 32, cfg.DynamoDB.ParallelSegments)
	assert.Equal(t, "env-prefix", cfg.S3.BucketPrefix)
	assert.Equal(t, "csv", cfg.S3.OutputFormat)
	assert.Equal(t, 30*time.Minute, cfg.Processing.Window)
	assert.Equal(t, 3, cfg.Processing.MaxConcurrentUploads)
	assert.True(t, cfg.Metrics.EnableCloudWatch)
	assert.Equal(t, "/tmp/runs.db", cfg.Ledger.Path)
}

func TestLoadFromEnv_AWSRegionFallback(t *testing.T) {
	t.Setenv("AWS_DEFAULT_REGION", "eu-west-1")

	cfg := DefaultConfig()
	cfg.DynamoDB.Region = ""
	cfg.S3.Region = "us-west-2"
	LoadFromEnv(cfg)

	assert.Equal(t, "eu-west-1", cfg.DynamoDB.Region)
	// An explicitly set region is never overridden.
	assert.Equal(t, "us-west-2", cfg.S3.Region)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing table", func(c *Config) { c.DynamoDB.TableName = "" }},
		{"missing bucket prefix", func(c *Config) { c.S3.BucketPrefix = "" }},
		{"zero segments", func(c *Config) { c.DynamoDB.ParallelSegments = 0 }},
		{"zero uploads", func(c *Config) { c.Processing.MaxConcurrentUploads = 0 }},
		{"negative window", func(c *Config) { c.Processing.Window = -time.Minute }},
		{"bad format", func(c *Config) { c.S3.OutputFormat = "parquet" }},
		{"bad compression", func(c *Config) { c.S3.Compression = "zstd" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
