package memory

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/impact/pkg/storage"
	"github.com/nicktill/impact/pkg/trial"
)

// Storage stores readings in memory. Data is lost on restart.
// Useful for testing and one-shot parsing.
type Storage struct {
	runs  map[string]*run
	order []string
	mu    sync.RWMutex
}

type run struct {
	created time.Time
	points  []trial.TimePoint
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		runs: make(map[string]*run),
	}
}

// Write appends readings to a run
func (s *Storage) Write(ctx context.Context, name string, points []trial.TimePoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[name]
	if !ok {
		r = &run{created: time.Now()}
		s.runs[name] = r
		s.order = append(s.order, name)
	}
	for _, tp := range points {
		r.points = append(r.points, trial.NewTimePoint(tp.Identifier, tp.Time, tp.Value))
	}
	return nil
}

// Query retrieves readings matching the request, in run then write order
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []storage.Reading

	for _, name := range s.order {
		for _, tp := range s.runs[name].points {
			if !req.Matches(name, tp) {
				continue
			}

			results = append(results, storage.Reading{
				Run:   name,
				Point: trial.NewTimePoint(tp.Identifier, tp.Time, tp.Value),
			})

			// Limit check
			if req.Limit > 0 && len(results) >= req.Limit {
				return results, nil
			}
		}
	}

	return results, nil
}

// Delete removes a run
func (s *Storage) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[name]; !ok {
		return storage.ErrRunNotFound
	}
	delete(s.runs, name)

	filtered := s.order[:0]
	for _, n := range s.order {
		if n != name {
			filtered = append(filtered, n)
		}
	}
	s.order = filtered
	return nil
}

// Runs lists runs in the order they were first written
func (s *Storage) Runs(ctx context.Context) ([]storage.RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]storage.RunInfo, 0, len(s.order))
	for _, name := range s.order {
		r := s.runs[name]
		infos = append(infos, storage.RunInfo{Name: name, Readings: len(r.points), Created: r.created})
	}
	return infos, nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &storage.Stats{
		TotalRuns: uint64(len(s.order)),
	}

	// Count unique courses and find min/max times in single pass
	courses := make(map[string]bool)
	first := true
	for _, name := range s.order {
		for _, tp := range s.runs[name].points {
			stats.TotalReadings++
			courses[name+"\x00"+string(tp.Key())] = true

			if first || tp.Time < stats.EarliestHour {
				stats.EarliestHour = tp.Time
			}
			if first || tp.Time > stats.LatestHour {
				stats.LatestHour = tp.Time
			}
			first = false
		}
	}

	stats.TotalCourses = uint64(len(courses))

	// Rough size estimate (each reading ~150 bytes)
	stats.SizeBytes = stats.TotalReadings * 150

	return stats, nil
}
