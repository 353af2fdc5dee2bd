package sink

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/eventmill/eventmill/pkg/types"
)

// maxUploadRetries bounds retries of one artifact upload on throttling.
const maxUploadRetries = 3

// PublishResult is the outcome of publishing all tenant groups in one run.
type PublishResult struct {
	// Results maps each client to whether its upload succeeded.
	Results map[string]bool

	// Outcomes holds the per-tenant upload details for observability.
	Outcomes []types.UploadOutcome

	// Stats aggregates the run-level upload counters.
	Stats types.UploadStats
}

// Publisher uploads per-tenant artifacts under a global concurrency cap.
type Publisher struct {
	store        BucketStore
	serializer   *Serializer
	bucketPrefix string
	concurrency  int
	log          *zap.Logger

	// now and sleep are replaceable so key derivation and backoff are
	// testable without real time.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPublisher creates a publisher writing to buckets named
// {bucketPrefix}-{clientId} with at most concurrency uploads in flight.
func NewPublisher(store BucketStore, serializer *Serializer, bucketPrefix string, concurrency int, log *zap.Logger) *Publisher {
	return &Publisher{
		store:        store,
		serializer:   serializer,
		bucketPrefix: bucketPrefix,
		concurrency:  concurrency,
		log:          log,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// PublishAll uploads every tenant group concurrently under the configured
// cap. One wall-clock timestamp taken at call start derives every artifact
// key, so all tenants land in the same hourly slot. A tenant's failure is
// recorded in the result and never aborts the other tenants; nothing is
// raised to the caller.
func (p *Publisher) PublishAll(ctx context.Context, groups map[string][]types.Record) *PublishResult {
	result := &PublishResult{Results: make(map[string]bool)}
	if len(groups) == 0 {
		return result
	}

	runTime := p.now().UTC()
	p.log.Info("starting upload for client groups", zap.Int("clients", len(groups)))

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = semaphore.NewWeighted(int64(p.concurrency))
	)

	record := func(outcome types.UploadOutcome) {
		mu.Lock()
		defer mu.Unlock()
		result.Results[outcome.ClientID] = outcome.Success
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.Success {
			result.Stats.SuccessfulUploads++
			result.Stats.TotalSizeBytes += outcome.SizeBytes
		} else {
			result.Stats.FailedUploads++
		}
	}

	for clientID, records := range groups {
		if err := sem.Acquire(ctx, 1); err != nil {
			record(types.UploadOutcome{
				ClientID: clientID,
				Error:    fmt.Sprintf("acquire upload slot: %v", err),
			})
			continue
		}

		wg.Add(1)
		go func(clientID string, records []types.Record) {
			defer sem.Release(1)
			defer wg.Done()
			record(p.publishClient(ctx, clientID, records, runTime))
		}(clientID, records)
	}

	wg.Wait()

	p.log.Info("upload statistics",
		zap.Int("successful_uploads", result.Stats.SuccessfulUploads),
		zap.Int("failed_uploads", result.Stats.FailedUploads),
		zap.Int64("total_size_bytes", result.Stats.TotalSizeBytes))
	return result
}

// publishClient runs the per-tenant publish steps: verify the destination
// bucket, serialize the group, and upload with bounded retry.
func (p *Publisher) publishClient(ctx context.Context, clientID string, records []types.Record, runTime time.Time) types.UploadOutcome {
	started := time.Now()
	outcome := types.UploadOutcome{ClientID: clientID}
	defer func() {
		outcome.DurationSeconds = time.Since(started).Seconds()
	}()

	bucket := p.bucketPrefix + "-" + clientID

	exists, err := p.store.BucketExists(ctx, bucket)
	if err != nil {
		outcome.Error = fmt.Sprintf("verify bucket %s: %v", bucket, err)
		p.log.Error("bucket verification failed",
			zap.String("client_id", clientID),
			zap.String("bucket", bucket),
			zap.Error(err))
		return outcome
	}
	if !exists {
		outcome.Error = fmt.Sprintf("%v: %s", ErrBucketNotFound, bucket)
		p.log.Error("bucket does not exist",
			zap.String("client_id", clientID),
			zap.String("bucket", bucket))
		return outcome
	}

	artifact, err := p.serializer.Serialize(records, runTime)
	if err != nil {
		outcome.Error = fmt.Sprintf("serialize events for %s: %v", clientID, err)
		p.log.Error("serialization failed",
			zap.String("client_id", clientID),
			zap.Error(err))
		return outcome
	}

	metadata := map[string]string{
		"processing-timestamp": time.Now().UTC().Format(time.RFC3339),
		"event-count":          strconv.Itoa(len(records)),
		"content-hash":         artifact.ContentHash(),
	}

	err = p.uploadWithRetry(ctx, bucket, artifact, metadata, &outcome)
	if err != nil {
		outcome.Error = err.Error()
		p.log.Error("upload failed",
			zap.String("client_id", clientID),
			zap.String("bucket", bucket),
			zap.String("key", artifact.Key),
			zap.Error(err))
		return outcome
	}

	outcome.Success = true
	outcome.SizeBytes = int64(len(artifact.Body))
	p.log.Info("uploaded client events",
		zap.String("client_id", clientID),
		zap.String("bucket", bucket),
		zap.String("key", artifact.Key),
		zap.Int("events", len(records)),
		zap.Int64("size_bytes", outcome.SizeBytes))
	return outcome
}

// uploadWithRetry puts the artifact, retrying throttled attempts with
// exponential backoff. The key never changes between attempts, so retries
// overwrite rather than duplicate.
func (p *Publisher) uploadWithRetry(ctx context.Context, bucket string, artifact *Artifact, metadata map[string]string, outcome *types.UploadOutcome) error {
	var err error
	for attempt := 0; attempt <= maxUploadRetries; attempt++ {
		err = p.store.Put(ctx, bucket, artifact.Key, artifact.Body, artifact.ContentType, metadata)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRateLimited) || attempt == maxUploadRetries {
			return err
		}

		outcome.RetryCount++
		wait := time.Duration(1<<uint(attempt)) * time.Second
		p.log.Warn("destination rate limited, retrying",
			zap.String("bucket", bucket),
			zap.String("key", artifact.Key),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait))
		if serr := p.sleep(ctx, wait); serr != nil {
			return serr
		}
	}
	return err
}
