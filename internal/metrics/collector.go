// Package metrics collects stage timings and upload outcomes for one
// pipeline run and publishes them to an external time-series sink.
package metrics

import (
	"sync"
	"time"

	"github.com/eventmill/eventmill/pkg/types"
)

// Collector accumulates run metrics. All methods are safe for concurrent use;
// upload workers record outcomes while the driver times stages.
type Collector struct {
	mu          sync.Mutex
	runStart    time.Time
	runEnd      time.Time
	events      int
	stageStarts map[string]time.Time
	stages      map[string]time.Duration
	uploads     []types.UploadOutcome
	errorCount  int
}

// Summary is the aggregated view of one run, handed to the metrics sink.
type Summary struct {
	DurationSeconds   time.Duration
	EventsProcessed   int
	EventsPerSecond   float64
	StageDurations    map[string]time.Duration
	TotalUploads      int
	SuccessfulUploads int
	FailedUploads     int
	TotalUploadBytes  int64
	TotalRetries      int
	AvgUploadSeconds  float64
	ErrorCount        int
}

// NewCollector creates a metrics collector.
func NewCollector() *Collector {
	return &Collector{
		stageStarts: make(map[string]time.Time),
		stages:      make(map[string]time.Duration),
	}
}

// StartRun marks the beginning of the run.
func (c *Collector) StartRun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runStart = time.Now()
}

// EndRun marks the end of the run with the number of events processed.
func (c *Collector) EndRun(events int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runEnd = time.Now()
	c.events = events
}

// StartStage starts timing a named stage.
func (c *Collector) StartStage(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stageStarts[name] = time.Now()
}

// EndStage finishes timing a named stage. Unmatched calls are ignored.
func (c *Collector) EndStage(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start, ok := c.stageStarts[name]
	if !ok {
		return
	}
	c.stages[name] = time.Since(start)
	delete(c.stageStarts, name)
}

// StageDurations returns a copy of the finished stage timings in seconds.
func (c *Collector) StageDurations() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.stages))
	for name, d := range c.stages {
		out[name] = d.Seconds()
	}
	return out
}

// RecordUpload records one finished per-tenant upload.
func (c *Collector) RecordUpload(outcome types.UploadOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads = append(c.uploads, outcome)
}

// RecordError counts one processing error.
func (c *Collector) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorCount++
}

// Summary aggregates everything recorded so far.
func (c *Collector) Summary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	end := c.runEnd
	if end.IsZero() {
		end = time.Now()
	}
	duration := end.Sub(c.runStart)

	s := &Summary{
		DurationSeconds: duration,
		EventsProcessed: c.events,
		StageDurations:  make(map[string]time.Duration, len(c.stages)),
		TotalUploads:    len(c.uploads),
		ErrorCount:      c.errorCount,
	}
	for name, d := range c.stages {
		s.StageDurations[name] = d
	}
	if duration > 0 {
		s.EventsPerSecond = float64(c.events) / duration.Seconds()
	}

	var totalUploadSeconds float64
	for _, u := range c.uploads {
		totalUploadSeconds += u.DurationSeconds
		s.TotalRetries += u.RetryCount
		if u.Success {
			s.SuccessfulUploads++
			s.TotalUploadBytes += u.SizeBytes
		} else {
			s.FailedUploads++
		}
	}
	if len(c.uploads) > 0 {
		s.AvgUploadSeconds = totalUploadSeconds / float64(len(c.uploads))
	}

	return s
}
