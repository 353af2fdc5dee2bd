// Package main implements the eventmill command-line entrypoint. It runs one
// extraction of the trailing window and exits 0 on success, 1 on failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/eventmill/eventmill/internal/app"
	"github.com/eventmill/eventmill/internal/config"
	"github.com/eventmill/eventmill/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile   string
		tableName    string
		bucketPrefix string
		region       string
		format       string
		segments     int
		windowFlag   time.Duration
		logLevel     string
		showVersion  bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&tableName, "table", "", "Source DynamoDB table name")
	flag.StringVar(&bucketPrefix, "bucket-prefix", "", "Destination bucket name prefix")
	flag.StringVar(&region, "region", "", "AWS region for source and destination")
	flag.StringVar(&format, "format", "", "Artifact format: json or csv")
	flag.IntVar(&segments, "segments", 0, "Number of parallel scan segments")
	flag.DurationVar(&windowFlag, "window", 0, "Trailing time window to extract (e.g. 1h)")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Eventmill - windowed DynamoDB to S3 tenant export\n\n")
		fmt.Fprintf(os.Stderr, "Usage: eventmill [options]\n\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  EVENTMILL_TABLE_NAME              Source table name\n")
		fmt.Fprintf(os.Stderr, "  EVENTMILL_BUCKET_PREFIX           Destination bucket prefix\n")
		fmt.Fprintf(os.Stderr, "  EVENTMILL_OUTPUT_FORMAT           Artifact format (json, csv)\n")
		fmt.Fprintf(os.Stderr, "  EVENTMILL_PARALLEL_SEGMENTS       Parallel scan segments\n")
		fmt.Fprintf(os.Stderr, "  EVENTMILL_MAX_CONCURRENT_UPLOADS  Upload concurrency cap\n")
		fmt.Fprintf(os.Stderr, "  EVENTMILL_LOG_LEVEL               Log level\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("eventmill version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	// Local .env files are a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := loadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Flags override file and environment settings.
	if tableName != "" {
		cfg.DynamoDB.TableName = tableName
	}
	if bucketPrefix != "" {
		cfg.S3.BucketPrefix = bucketPrefix
	}
	if region != "" {
		cfg.DynamoDB.Region = region
		cfg.S3.Region = region
	}
	if format != "" {
		cfg.S3.OutputFormat = format
	}
	if segments > 0 {
		cfg.DynamoDB.ParallelSegments = segments
	}
	if windowFlag > 0 {
		cfg.Processing.Window = windowFlag
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logging.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to build pipeline", zap.Error(err))
		os.Exit(1)
	}
	defer application.Close()

	log.Info("starting eventmill",
		zap.String("version", version),
		zap.String("table", cfg.DynamoDB.TableName),
		zap.String("bucket_prefix", cfg.S3.BucketPrefix))

	result := application.Pipeline.Run(ctx)
	if !result.Success {
		log.Error("processing failed")
		os.Exit(1)
	}
	log.Info("processing completed successfully")
}

func loadConfig(configFile string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}
