// Package pipeline drives one extraction run: scan the source window,
// partition by client, publish per-client artifacts, and report the result.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eventmill/eventmill/internal/metrics"
	"github.com/eventmill/eventmill/internal/sink"
	"github.com/eventmill/eventmill/pkg/types"
)

// Stage names used for timing and metrics.
const (
	StageScan      = "scan"
	StagePartition = "partition"
	StagePublish   = "publish"
)

// WindowScanner extracts all records in the trailing time window.
type WindowScanner interface {
	ScanTrailingWindow(ctx context.Context) ([]types.Record, error)
	EstimateScanSeconds(ctx context.Context) float64
}

// RecordProcessor partitions records into per-client ordered groups.
type RecordProcessor interface {
	Process(records []types.Record) (map[string][]types.Record, *types.ProcessingStats)
}

// GroupPublisher uploads per-client artifacts.
type GroupPublisher interface {
	PublishAll(ctx context.Context, groups map[string][]types.Record) *sink.PublishResult
}

// RunLedger persists finished run results.
type RunLedger interface {
	RecordRun(ctx context.Context, result *types.RunResult) error
}

// MetricsSink publishes the run summary to an external time-series system.
type MetricsSink interface {
	Publish(ctx context.Context, s *metrics.Summary) error
}

// Pipeline wires the scan, partition, and publish stages into one run.
// Ledger and Sink are optional; when set, both are best-effort at the end
// of every run and never affect the run's outcome.
type Pipeline struct {
	scanner   WindowScanner
	processor RecordProcessor
	publisher GroupPublisher
	collector *metrics.Collector
	log       *zap.Logger

	// Ledger, when set, records every finished run.
	Ledger RunLedger

	// Sink, when set, receives the run's metric summary.
	Sink MetricsSink
}

// New creates a pipeline over the given stages.
func New(scanner WindowScanner, processor RecordProcessor, publisher GroupPublisher, log *zap.Logger) *Pipeline {
	return &Pipeline{
		scanner:   scanner,
		processor: processor,
		publisher: publisher,
		collector: metrics.NewCollector(),
		log:       log,
	}
}

// Run executes one extraction run and always returns a populated result,
// including partial statistics on failure. Scan retry exhaustion aborts the
// run; per-client publish failures are recorded and mark the run
// unsuccessful without aborting the other clients.
func (p *Pipeline) Run(ctx context.Context) *types.RunResult {
	result := &types.RunResult{
		RunID:     uuid.NewString(),
		StartTime: time.Now().UTC(),
		Errors:    []string{},
	}
	p.collector.StartRun()
	defer p.finish(ctx, result)

	p.log.Info("starting extraction run", zap.String("run_id", result.RunID))
	p.log.Info("estimated processing time",
		zap.Float64("seconds", p.scanner.EstimateScanSeconds(ctx)))

	p.collector.StartStage(StageScan)
	records, err := p.scanner.ScanTrailingWindow(ctx)
	p.collector.EndStage(StageScan)
	if err != nil {
		p.collector.RecordError()
		result.Errors = append(result.Errors, fmt.Sprintf("failed to read source table: %v", err))
		p.log.Error("extraction failed", zap.Error(err))
		return result
	}
	result.EventsProcessed = len(records)

	if len(records) == 0 {
		p.log.Warn("no events found in the window")
		result.Success = true
		result.Message = "no events to process"
		return result
	}

	p.collector.StartStage(StagePartition)
	groups, stats := p.processor.Process(records)
	p.collector.EndStage(StagePartition)
	result.ClientsProcessed = len(groups)
	result.ProcessingStats = stats

	p.collector.StartStage(StagePublish)
	published := p.publisher.PublishAll(ctx, groups)
	p.collector.EndStage(StagePublish)

	result.UploadResults = published.Results
	result.UploadStats = &published.Stats
	for _, outcome := range published.Outcomes {
		p.collector.RecordUpload(outcome)
	}

	failed := result.FailedClients()
	if len(failed) > 0 {
		sort.Strings(failed)
		p.collector.RecordError()
		result.Errors = append(result.Errors,
			fmt.Sprintf("failed to upload events for clients: %s", strings.Join(failed, ", ")))
		return result
	}

	result.Success = true
	return result
}

// finish closes out timing, logs the summary, and hands the result to the
// optional ledger and metrics sink.
func (p *Pipeline) finish(ctx context.Context, result *types.RunResult) {
	result.EndTime = time.Now().UTC()
	result.ProcessingSeconds = result.EndTime.Sub(result.StartTime).Seconds()
	result.StageDurations = p.collector.StageDurations()

	p.collector.EndRun(result.EventsProcessed)
	summary := p.collector.Summary()

	p.log.Info("run summary",
		zap.String("run_id", result.RunID),
		zap.Bool("success", result.Success),
		zap.Int("events_processed", result.EventsProcessed),
		zap.Int("clients_processed", result.ClientsProcessed),
		zap.Float64("processing_seconds", result.ProcessingSeconds),
		zap.Int("successful_uploads", summary.SuccessfulUploads),
		zap.Int("failed_uploads", summary.FailedUploads),
		zap.Strings("errors", result.Errors))

	if p.Sink != nil {
		if err := p.Sink.Publish(ctx, summary); err != nil {
			p.log.Warn("metrics publish failed", zap.Error(err))
		}
	}
	if p.Ledger != nil {
		if err := p.Ledger.RecordRun(ctx, result); err != nil {
			p.log.Warn("run ledger write failed", zap.Error(err))
		}
	}
}
