package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/impact/pkg/trial"
)

// ErrRunNotFound is returned when deleting a run that holds no readings
var ErrRunNotFound = errors.New("run not found")

// Storage defines the interface for reading archive backends.
// Implementations: memory (testing), badger (production)
type Storage interface {
	// Write archives readings under a run name. Writing to an existing run appends.
	Write(ctx context.Context, run string, points []trial.TimePoint) error

	// Query retrieves readings matching the request
	Query(ctx context.Context, req QueryRequest) ([]Reading, error)

	// Delete removes every reading of a run
	Delete(ctx context.Context, run string) error

	// Runs lists the archived runs
	Runs(ctx context.Context) ([]RunInfo, error)

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// Reading is one archived time point and the run it was ingested in
type Reading struct {
	Run   string          `json:"run"`
	Point trial.TimePoint `json:"point"`
}

// RunInfo describes one ingestion run
type RunInfo struct {
	Name     string    `json:"name"`
	Readings int       `json:"readings"`
	Created  time.Time `json:"created"`
}

// QueryRequest specifies what readings to retrieve.
// Empty filters match everything.
type QueryRequest struct {
	// Filter by run (optional)
	Runs []string

	// Filter by analyte (optional)
	AnalyteTypes []trial.AnalyteType
	AnalyteNames []string

	// Filter by descriptor values (optional)
	Descriptors map[string]string

	// Time range in hours, inclusive (nil = unbounded)
	MinTime *float64
	MaxTime *float64

	// Limit number of results (0 = no limit)
	Limit int
}

// Matches reports whether a reading passes every filter of the request
func (req QueryRequest) Matches(run string, tp trial.TimePoint) bool {
	if len(req.Runs) > 0 && !contains(req.Runs, run) {
		return false
	}
	if len(req.AnalyteTypes) > 0 && !contains(req.AnalyteTypes, tp.Identifier.AnalyteType) {
		return false
	}
	if len(req.AnalyteNames) > 0 && !contains(req.AnalyteNames, tp.Identifier.AnalyteName) {
		return false
	}
	if req.MinTime != nil && tp.Time < *req.MinTime {
		return false
	}
	if req.MaxTime != nil && tp.Time > *req.MaxTime {
		return false
	}
	for k, v := range req.Descriptors {
		if tp.Identifier.Descriptors == nil || tp.Identifier.Descriptors[k] != v {
			return false
		}
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Stats provides storage health and usage info
type Stats struct {
	// Total readings stored
	TotalReadings uint64 `json:"total_readings"`

	// Ingestion runs
	TotalRuns uint64 `json:"total_runs"`

	// Unique time courses (run + identifier + analyte combinations)
	TotalCourses uint64 `json:"total_courses"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`

	// Earliest and latest reading times in hours
	EarliestHour float64 `json:"earliest_hour"`
	LatestHour   float64 `json:"latest_hour"`
}
