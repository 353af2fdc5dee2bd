package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eventmill/eventmill/pkg/types"
)

// fakeBucketStore is a scriptable in-memory destination store.
type fakeBucketStore struct {
	mu sync.Mutex

	missing   map[string]bool
	verifyErr map[string]error
	// rateLimits counts how many Put calls per bucket fail with
	// ErrRateLimited before succeeding.
	rateLimits map[string]int
	putErr     map[string]error
	putDelay   time.Duration

	puts        []putCall
	inflight    int
	maxInflight int
}

type putCall struct {
	bucket      string
	key         string
	contentType string
	body        []byte
	metadata    map[string]string
}

func (f *fakeBucketStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.verifyErr[bucket]; err != nil {
		return false, err
	}
	return !f.missing[bucket], nil
}

func (f *fakeBucketStore) Put(ctx context.Context, bucket, key string, body []byte, contentType string, metadata map[string]string) error {
	f.mu.Lock()
	f.inflight++
	if f.inflight > f.maxInflight {
		f.maxInflight = f.inflight
	}
	f.mu.Unlock()

	if f.putDelay > 0 {
		time.Sleep(f.putDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inflight--

	if err := f.putErr[bucket]; err != nil {
		return err
	}
	if f.rateLimits[bucket] > 0 {
		f.rateLimits[bucket]--
		return fmt.Errorf("%w: slow down", ErrRateLimited)
	}
	f.puts = append(f.puts, putCall{bucket, key, contentType, body, metadata})
	return nil
}

func groupFor(clientIDs ...string) map[string][]types.Record {
	groups := make(map[string][]types.Record)
	for i, clientID := range clientIDs {
		groups[clientID] = []types.Record{{
			EventID:  fmt.Sprintf("evt-%d", i),
			ClientID: clientID,
			Time:     "2025-03-01T14:00:00+00:00",
		}}
	}
	return groups
}

func newTestPublisher(store BucketStore) (*Publisher, *[]time.Duration) {
	p := NewPublisher(store, NewSerializer(FormatJSON, CompressionNone), "client-events", 4, zap.NewNop())
	p.now = func() time.Time { return time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC) }
	var sleeps []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return p, &sleeps
}

func TestPublishAll_Success(t *testing.T) {
	store := &fakeBucketStore{}
	p, _ := newTestPublisher(store)

	result := p.PublishAll(context.Background(), groupFor("client-001", "client-002"))

	if !result.Results["client-001"] || !result.Results["client-002"] {
		t.Fatalf("expected both clients to succeed: %v", result.Results)
	}
	if result.Stats.SuccessfulUploads != 2 || result.Stats.FailedUploads != 0 {
		t.Errorf("stats = %+v", result.Stats)
	}
	if result.Stats.TotalSizeBytes == 0 {
		t.Error("expected nonzero uploaded bytes")
	}

	for _, call := range store.puts {
		if call.key != "events-2025-03-01-14.json" {
			t.Errorf("unexpected key %s", call.key)
		}
		if call.metadata["event-count"] != "1" {
			t.Errorf("event-count = %s", call.metadata["event-count"])
		}
		if call.metadata["content-hash"] == "" {
			t.Error("missing content-hash metadata")
		}
	}
}

func TestPublishAll_MissingBucketFailsWithoutRetry(t *testing.T) {
	store := &fakeBucketStore{missing: map[string]bool{"client-events-client-B": true}}
	p, sleeps := newTestPublisher(store)

	result := p.PublishAll(context.Background(), groupFor("client-A", "client-B"))

	if !result.Results["client-A"] {
		t.Error("client-A should succeed")
	}
	if result.Results["client-B"] {
		t.Error("client-B should fail: its bucket does not exist")
	}
	if len(*sleeps) != 0 {
		t.Errorf("missing destination must not be retried, slept %d times", len(*sleeps))
	}
	if result.Stats.SuccessfulUploads != 1 || result.Stats.FailedUploads != 1 {
		t.Errorf("stats = %+v", result.Stats)
	}

	var outcome types.UploadOutcome
	for _, o := range result.Outcomes {
		if o.ClientID == "client-B" {
			outcome = o
		}
	}
	if outcome.Error == "" {
		t.Error("failed outcome should carry an error detail")
	}
	if outcome.SizeBytes != 0 {
		t.Error("failed uploads contribute zero bytes")
	}
}

func TestPublishAll_VerificationErrorFailsWithoutRetry(t *testing.T) {
	store := &fakeBucketStore{
		verifyErr: map[string]error{"client-events-client-A": errors.New("access denied")},
	}
	p, sleeps := newTestPublisher(store)

	result := p.PublishAll(context.Background(), groupFor("client-A"))

	if result.Results["client-A"] {
		t.Error("verification errors must fail the client")
	}
	if len(*sleeps) != 0 {
		t.Error("verification errors must not be retried")
	}
}

func TestPublishAll_RetriesOnRateLimit(t *testing.T) {
	store := &fakeBucketStore{rateLimits: map[string]int{"client-events-client-A": 2}}
	p, sleeps := newTestPublisher(store)

	result := p.PublishAll(context.Background(), groupFor("client-A"))

	if !result.Results["client-A"] {
		t.Fatal("expected upload to succeed after retries")
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("expected %d backoff sleeps, got %d", len(want), len(*sleeps))
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Errorf("sleep %d: got %s, want %s", i, (*sleeps)[i], d)
		}
	}

	if result.Outcomes[0].RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", result.Outcomes[0].RetryCount)
	}
}

func TestPublishAll_RetryExhaustion(t *testing.T) {
	store := &fakeBucketStore{rateLimits: map[string]int{"client-events-client-A": 10}}
	p, sleeps := newTestPublisher(store)

	result := p.PublishAll(context.Background(), groupFor("client-A"))

	if result.Results["client-A"] {
		t.Fatal("expected upload to fail after exhausting retries")
	}
	// Backoff runs 2^attempt seconds for attempts 0..2; the final attempt
	// fails without sleeping.
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("expected %d sleeps, got %d", len(want), len(*sleeps))
	}
	if result.Outcomes[0].RetryCount != 3 {
		t.Errorf("retry count = %d, want 3", result.Outcomes[0].RetryCount)
	}
}

func TestPublishAll_NonRetryableUploadError(t *testing.T) {
	store := &fakeBucketStore{
		putErr: map[string]error{"client-events-client-A": errors.New("access denied")},
	}
	p, sleeps := newTestPublisher(store)

	result := p.PublishAll(context.Background(), groupFor("client-A"))

	if result.Results["client-A"] {
		t.Fatal("expected upload to fail")
	}
	if len(*sleeps) != 0 {
		t.Error("non-throttling errors must not be retried")
	}
}

func TestPublishAll_OneClientFailureDoesNotBlockOthers(t *testing.T) {
	store := &fakeBucketStore{missing: map[string]bool{"client-events-client-B": true}}
	p, _ := newTestPublisher(store)

	result := p.PublishAll(context.Background(), groupFor("client-A", "client-B", "client-C"))

	if !result.Results["client-A"] || !result.Results["client-C"] {
		t.Errorf("siblings of a failed client must still publish: %v", result.Results)
	}
}

func TestPublishAll_RespectsConcurrencyCap(t *testing.T) {
	store := &fakeBucketStore{putDelay: 5 * time.Millisecond}
	p, _ := newTestPublisher(store)

	clients := make([]string, 20)
	for i := range clients {
		clients[i] = fmt.Sprintf("client-%03d", i)
	}
	p.PublishAll(context.Background(), groupFor(clients...))

	if store.maxInflight > p.concurrency {
		t.Errorf("observed %d concurrent uploads, cap is %d", store.maxInflight, p.concurrency)
	}
}

func TestPublishAll_Empty(t *testing.T) {
	p, _ := newTestPublisher(&fakeBucketStore{})
	result := p.PublishAll(context.Background(), nil)
	if len(result.Results) != 0 {
		t.Errorf("expected empty results, got %v", result.Results)
	}
}
