package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eventmill/eventmill/pkg/types"
)

const (
	// maxScanRetries bounds consecutive throttled retries of one page request.
	maxScanRetries = 3

	// scanPageLimit is the fixed page size for segment scans.
	scanPageLimit = 1000

	// segmentJitter staggers backoff sleeps across segments so throttled
	// segments do not retry in lockstep.
	segmentJitter = 100 * time.Millisecond
)

// SegmentScanner scans one segment of a parallel table scan, paginating
// through the store and backing off on throttling.
type SegmentScanner struct {
	store PageScanner
	log   *zap.Logger

	// sleep is replaceable so backoff behavior is testable without real time.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSegmentScanner creates a segment scanner over the given store.
func NewSegmentScanner(store PageScanner, log *zap.Logger) *SegmentScanner {
	return &SegmentScanner{
		store: store,
		log:   log,
		sleep: sleepContext,
	}
}

// Scan fetches every record in the segment whose timestamp falls within
// [start, end], concatenating pages in store order. On throttling it retries
// the same page request after sleeping 2^retry seconds plus a segment-indexed
// jitter; the retry counter resets after each successfully fetched page.
// Exhausting the retries returns an error wrapping ErrScanExhausted. Any
// non-throttling error fails the segment immediately.
func (s *SegmentScanner) Scan(ctx context.Context, segment, totalSegments int, start, end time.Time) ([]types.Record, error) {
	var (
		records []types.Record
		token   PageToken
		retries int
	)

	for {
		page, err := s.store.ScanPage(ctx, ScanRequest{
			Segment:       segment,
			TotalSegments: totalSegments,
			Start:         start,
			End:           end,
			Limit:         scanPageLimit,
			StartToken:    token,
		})
		if err != nil {
			if !errors.Is(err, ErrRateExceeded) {
				s.log.Error("segment scan failed",
					zap.Int("segment", segment),
					zap.Error(err))
				return nil, err
			}

			retries++
			if retries > maxScanRetries {
				s.log.Error("max retries exceeded for segment",
					zap.Int("segment", segment))
				return nil, fmt.Errorf("segment %d: %w", segment, ErrScanExhausted)
			}

			wait := time.Duration(1<<uint(retries))*time.Second + time.Duration(segment)*segmentJitter
			s.log.Warn("rate limited on segment",
				zap.Int("segment", segment),
				zap.Int("retry", retries),
				zap.Duration("backoff", wait))
			if err := s.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		records = append(records, page.Records...)
		retries = 0

		if page.NextToken == nil {
			break
		}
		token = page.NextToken
	}

	s.log.Debug("segment completed",
		zap.Int("segment", segment),
		zap.Int("records", len(records)))
	return records, nil
}
