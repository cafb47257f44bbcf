package storage

import "time"

// RecordSummary is a record listing entry without sample data.
type RecordSummary struct {
	ID          string
	Name        string
	SampleRate  float64
	SampleCount int
	MarkerCount int
	HasCF       bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Duration returns the record length in seconds.
func (r RecordSummary) Duration() float64 {
	if r.SampleRate <= 0 {
		return 0
	}
	return float64(r.SampleCount) / r.SampleRate
}

// Run statuses.
const (
	RunCommitted = "committed"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// Run is one detection or refinement attempt against a record.
type Run struct {
	ID          string
	RecordID    string
	Kind        string // "detection", "refinement"
	Status      string
	MarkerCount int
	Duration    time.Duration
	Detail      string
	StartedAt   time.Time
}

// Stats holds aggregate statistics about the onset database.
type Stats struct {
	TotalRecords      int64
	TotalMarkers      int64
	TotalRuns         int64
	OldestRecord      time.Time
	NewestRecord      time.Time
	DatabaseSizeBytes int64
	RunsByStatus      []StatusCount
}

// StatusCount pairs a run status with its count.
type StatusCount struct {
	Status string
	Count  int64
}
