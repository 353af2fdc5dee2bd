// Package app assembles the pipeline from configuration. It is shared by
// the CLI and Lambda entrypoints.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eventmill/eventmill/internal/config"
	"github.com/eventmill/eventmill/internal/ledger"
	"github.com/eventmill/eventmill/internal/metrics"
	"github.com/eventmill/eventmill/internal/pipeline"
	"github.com/eventmill/eventmill/internal/process"
	"github.com/eventmill/eventmill/internal/sink"
	"github.com/eventmill/eventmill/internal/source"
)

// App owns the assembled pipeline and the resources it must release.
type App struct {
	Pipeline *pipeline.Pipeline

	ledger *ledger.Ledger
	log    *zap.Logger
}

// New builds the pipeline and its collaborators from configuration.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := source.NewDynamoStore(ctx, cfg.DynamoDB.TableName, cfg.DynamoDB.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to create source store: %w", err)
	}
	coordinator := source.NewCoordinator(store, cfg.DynamoDB.ParallelSegments, cfg.Processing.Window, log)

	processor := process.NewProcessor(log)

	bucketStore, err := sink.NewS3BucketStore(ctx, cfg.S3.Region, cfg.S3.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create destination store: %w", err)
	}
	serializer := sink.NewSerializer(sink.Format(cfg.S3.OutputFormat), sink.Compression(cfg.S3.Compression))
	publisher := sink.NewPublisher(bucketStore, serializer, cfg.S3.BucketPrefix,
		cfg.Processing.MaxConcurrentUploads, log)

	app := &App{
		Pipeline: pipeline.New(coordinator, processor, publisher, log),
		log:      log,
	}

	if cfg.Metrics.EnableCloudWatch {
		cw, err := metrics.NewCloudWatchPublisher(ctx, cfg.DynamoDB.Region, cfg.Metrics.Namespace, log)
		if err != nil {
			// Metrics are observability only; a missing sink never blocks runs.
			log.Warn("failed to create metrics sink", zap.Error(err))
		} else {
			app.Pipeline.Sink = cw
		}
	}

	if cfg.Ledger.Path != "" {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			log.Warn("failed to open run ledger", zap.Error(err))
		} else {
			app.ledger = l
			app.Pipeline.Ledger = l
		}
	}

	return app, nil
}

// Close releases the app's resources.
func (a *App) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.log.Warn("failed to close run ledger", zap.Error(err))
		}
	}
}
