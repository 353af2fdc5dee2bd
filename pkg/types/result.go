package types

import "time"

// UploadOutcome is the per-tenant result of one artifact upload. It is
// created when the upload task starts and finalized when it completes.
type UploadOutcome struct {
	ClientID        string  `json:"client_id"`
	Success         bool    `json:"success"`
	SizeBytes       int64   `json:"size_bytes"`
	RetryCount      int     `json:"retry_count"`
	DurationSeconds float64 `json:"duration_seconds"`
	Error           string  `json:"error,omitempty"`
}

// UploadStats aggregates upload outcomes across one run. Failed uploads
// contribute zero bytes.
type UploadStats struct {
	SuccessfulUploads int   `json:"successful_uploads"`
	FailedUploads     int   `json:"failed_uploads"`
	TotalSizeBytes    int64 `json:"total_size_bytes"`
}

// ProcessingStats describes what the partitioner saw in one run.
type ProcessingStats struct {
	TotalEvents     int            `json:"total_events"`
	ValidEvents     int            `json:"valid_events"`
	InvalidEvents   int            `json:"invalid_events"`
	UniqueClients   int            `json:"unique_clients"`
	EventsPerClient map[string]int `json:"events_per_client"`
}

// RunResult is the structured outcome of one pipeline run. It is always
// populated, including partial statistics on failure, so partial progress
// is observable.
type RunResult struct {
	RunID             string             `json:"run_id"`
	Success           bool               `json:"success"`
	StartTime         time.Time          `json:"start_time"`
	EndTime           time.Time          `json:"end_time"`
	EventsProcessed   int                `json:"events_processed"`
	ClientsProcessed  int                `json:"clients_processed"`
	Errors            []string           `json:"errors"`
	Message           string             `json:"message,omitempty"`
	UploadResults     map[string]bool    `json:"upload_results,omitempty"`
	UploadStats       *UploadStats       `json:"upload_stats,omitempty"`
	ProcessingStats   *ProcessingStats   `json:"processing_stats,omitempty"`
	StageDurations    map[string]float64 `json:"stage_durations,omitempty"`
	ProcessingSeconds float64            `json:"processing_time_seconds"`
}

// FailedClients returns the tenants whose upload did not succeed, in no
// particular order.
func (r *RunResult) FailedClients() []string {
	var failed []string
	for clientID, ok := range r.UploadResults {
		if !ok {
			failed = append(failed, clientID)
		}
	}
	return failed
}
