package source

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eventmill/eventmill/pkg/types"
)

// defaultScanEstimateSeconds is reported when the store cannot provide an
// item count.
const defaultScanEstimateSeconds = 60.0

// Coordinator fans a time-windowed table scan out across parallel segments
// and merges the results.
type Coordinator struct {
	store    PageScanner
	scanner  *SegmentScanner
	segments int
	window   time.Duration
	log      *zap.Logger
}

// NewCoordinator creates a scan coordinator running the given number of
// parallel segments over a trailing window.
func NewCoordinator(store PageScanner, segments int, window time.Duration, log *zap.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		scanner:  NewSegmentScanner(store, log),
		segments: segments,
		window:   window,
		log:      log,
	}
}

// ScanTrailingWindow scans the configured trailing window ending now. Window
// endpoints are computed once and shared by all segments, so every segment
// sees the same snapshot boundary even while the table keeps mutating.
func (c *Coordinator) ScanTrailingWindow(ctx context.Context) ([]types.Record, error) {
	end := time.Now().UTC()
	start := end.Add(-c.window)
	return c.ScanWindow(ctx, start, end)
}

// ScanWindow scans [start, end] with all segments running concurrently.
// Segment results are appended in completion order, which is nondeterministic
// across runs; downstream partitioning re-sorts within each tenant. The first
// segment failure is returned. In-flight sibling segments are not cancelled;
// their output is simply discarded with the failed run.
func (c *Coordinator) ScanWindow(ctx context.Context, start, end time.Time) ([]types.Record, error) {
	c.log.Info("fetching events",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("segments", c.segments))

	var (
		mu  sync.Mutex
		all []types.Record
		g   errgroup.Group
	)

	for segment := 0; segment < c.segments; segment++ {
		seg := segment
		g.Go(func() error {
			records, err := c.scanner.Scan(ctx, seg, c.segments, start, end)
			if err != nil {
				return err
			}
			mu.Lock()
			all = append(all, records...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.log.Info("scan window complete", zap.Int("records", len(all)))
	return all, nil
}

// EstimateScanSeconds estimates the full-scan duration from the store's item
// count, assuming each segment sustains one page of 1000 items per second.
// Best effort only; estimation failures fall back to a fixed default.
func (c *Coordinator) EstimateScanSeconds(ctx context.Context) float64 {
	count, err := c.store.EstimateItemCount(ctx)
	if err != nil {
		c.log.Warn("could not estimate scan time", zap.Error(err))
		return defaultScanEstimateSeconds
	}

	itemsPerSecond := float64(scanPageLimit * c.segments)
	estimate := float64(count) / itemsPerSecond
	c.log.Info("scan time estimated",
		zap.Int64("item_count", count),
		zap.Float64("estimated_seconds", estimate))
	return estimate
}
