// Package source reads records out of the keyed event store using a
// segmented parallel scan with rate-limit backoff.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/eventmill/eventmill/pkg/types"
)

// Common errors for source scan operations.
var (
	// ErrRateExceeded marks a store throttling response. Scans retry it with
	// backoff; every other error class fails the segment immediately.
	ErrRateExceeded = errors.New("rate exceeded")

	// ErrScanExhausted is returned when a segment runs out of retries. It
	// aborts the whole extraction.
	ErrScanExhausted = errors.New("scan retries exhausted")
)

// PageToken is an opaque continuation cursor returned by a paginated scan
// call and passed back to retrieve the next page. A nil token means the scan
// is complete.
type PageToken interface{}

// ScanRequest describes one page request against the store.
type ScanRequest struct {
	Segment       int
	TotalSegments int
	Start         time.Time
	End           time.Time
	Limit         int32
	StartToken    PageToken
}

// ScanPage is one page of scan results.
type ScanPage struct {
	Records   []types.Record
	NextToken PageToken
}

// PageScanner abstracts the segment-scannable source store.
// Implementations must be safe for concurrent use across segments.
type PageScanner interface {
	// ScanPage fetches one page of records matching the request's time range
	// and segment. Throttling is reported as an error wrapping ErrRateExceeded.
	ScanPage(ctx context.Context, req ScanRequest) (*ScanPage, error)

	// EstimateItemCount returns the store's approximate item count.
	EstimateItemCount(ctx context.Context) (int64, error)
}

// sleepContext sleeps for the given duration or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
