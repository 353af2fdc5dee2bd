// Package sink serializes per-tenant record groups and publishes them to
// durable object storage under a bounded concurrency cap.
package sink

import (
	"context"
	"errors"
	"time"
)

// Common errors for sink operations.
var (
	// ErrRateLimited marks a transient destination throttling or timeout
	// response. Uploads retry it with backoff.
	ErrRateLimited = errors.New("rate limited")

	// ErrBucketNotFound marks a missing destination bucket. Destination
	// existence is not self-healing, so this is never retried.
	ErrBucketNotFound = errors.New("bucket not found")
)

// BucketStore abstracts the destination object store. Implementations must
// be safe for concurrent use across upload workers.
type BucketStore interface {
	// BucketExists reports whether the bucket exists. A "not found" response
	// returns (false, nil); anything else returns the verification error.
	BucketExists(ctx context.Context, bucket string) (bool, error)

	// Put writes the object. Throttling and timeout responses are reported
	// as errors wrapping ErrRateLimited.
	Put(ctx context.Context, bucket, key string, body []byte, contentType string, metadata map[string]string) error
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
