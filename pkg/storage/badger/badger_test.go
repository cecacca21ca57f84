package badger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nicktill/impact/pkg/storage"
	"github.com/nicktill/impact/pkg/trial"
)

func reading(strain, rep string, hours, value float64) trial.TimePoint {
	id := trial.Identifier{
		AnalyteType: trial.BiomassType,
		AnalyteName: "OD600",
		Replicate:   rep,
		Descriptors: map[string]string{"strain": strain},
	}
	return trial.NewTimePoint(id, hours, value)
}

func newTestStore(t *testing.T) *Storage {
	t.Helper()
	// Use in-memory mode for tests
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStorage_WriteAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Write(ctx, "plate-1", []trial.TimePoint{
		reading("MG1655", "1", 2, 0.4),
		reading("MG1655", "1", 0, 0.05),
		reading("MG1655", "2", 0, 0.06),
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	results, err := store.Query(ctx, storage.QueryRequest{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("Expected 3 readings, got %d", len(results))
	}
	for _, r := range results {
		if r.Run != "plate-1" {
			t.Errorf("Expected run plate-1, got %q", r.Run)
		}
	}
}

func TestBadgerStorage_EqualTimesKept(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Write(ctx, "r", []trial.TimePoint{reading("A", "1", 1, 0.1), reading("A", "1", 1, 0.2)})

	results, _ := store.Query(ctx, storage.QueryRequest{})
	if len(results) != 2 {
		t.Errorf("Expected both readings at t=1, got %d", len(results))
	}
}

func TestBadgerStorage_NaNValue(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Write(ctx, "r", []trial.TimePoint{reading("A", "1", 1, math.NaN())})

	results, err := store.Query(ctx, storage.QueryRequest{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || !math.IsNaN(results[0].Point.Value) {
		t.Errorf("Expected one NaN reading, got %+v", results)
	}
}

func TestBadgerStorage_QueryByRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Write(ctx, "a", []trial.TimePoint{reading("A", "1", 0, 1), reading("A", "1", 1, 2)})
	store.Write(ctx, "b", []trial.TimePoint{reading("B", "1", 0, 1)})

	results, err := store.Query(ctx, storage.QueryRequest{Runs: []string{"b"}})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0].Run != "b" {
		t.Errorf("Expected one reading from run b, got %+v", results)
	}

	maxHour := 0.5
	results, _ = store.Query(ctx, storage.QueryRequest{Runs: []string{"a"}, MaxTime: &maxHour})
	if len(results) != 1 {
		t.Errorf("Expected 1 reading before 0.5h, got %d", len(results))
	}
}

func TestBadgerStorage_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Write(ctx, "a", []trial.TimePoint{reading("A", "1", 0, 1)})
	store.Write(ctx, "b", []trial.TimePoint{reading("B", "1", 0, 1), reading("B", "1", 1, 1)})

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, storage.ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}

	runs, err := store.Runs(ctx)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Name != "b" || runs[0].Readings != 2 {
		t.Errorf("Expected run b with 2 readings, got %+v", runs)
	}

	results, _ := store.Query(ctx, storage.QueryRequest{})
	if len(results) != 2 {
		t.Errorf("Expected 2 readings left, got %d", len(results))
	}
}

func TestBadgerStorage_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Write(ctx, "a", []trial.TimePoint{
		reading("A", "1", 0.25, 0.1),
		reading("A", "1", 6, 0.9),
		reading("A", "2", 2, 0.4),
	})
	store.Write(ctx, "b", []trial.TimePoint{reading("A", "1", 1, 0.2)})

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.TotalReadings != 4 {
		t.Errorf("Expected 4 readings, got %d", stats.TotalReadings)
	}
	if stats.TotalRuns != 2 {
		t.Errorf("Expected 2 runs, got %d", stats.TotalRuns)
	}
	// the same course in two runs counts twice
	if stats.TotalCourses != 3 {
		t.Errorf("Expected 3 courses, got %d", stats.TotalCourses)
	}
	if stats.EarliestHour != 0.25 || stats.LatestHour != 6 {
		t.Errorf("Expected hours 0.25..6, got %v..%v", stats.EarliestHour, stats.LatestHour)
	}
}

func TestBadgerStorage_CancelledContext(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Write(ctx, "a", []trial.TimePoint{reading("A", "1", 0, 1)}); err == nil {
		t.Error("Expected error writing with cancelled context")
	}
	if _, err := store.Query(ctx, storage.QueryRequest{}); err == nil {
		t.Error("Expected error querying with cancelled context")
	}
}

func TestBadgerStorage_ConcurrentOperations(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			var points []trial.TimePoint
			for i := 0; i < 50; i++ {
				points = append(points, reading("A", fmt.Sprint(w), float64(i), 1))
			}
			if err := store.Write(ctx, fmt.Sprintf("run-%d", w), points); err != nil {
				t.Errorf("Write failed: %v", err)
			}
		}(w)
	}
	wg.Wait()

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalReadings != 250 {
		t.Errorf("Expected 250 readings, got %d", stats.TotalReadings)
	}
}

func TestNew_OnDisk(t *testing.T) {
	dir := t.TempDir()

	store, err := New(Config{Path: dir, MaxMemoryMB: 48})
	if err != nil {
		t.Fatalf("Failed to open storage in %s: %v", dir, err)
	}
	if err := store.Write(context.Background(), "plate-1", []trial.TimePoint{reading("A", "1", 0, 0.1)}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Reopen and check the run survived
	store, err = New(Config{Path: dir})
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer store.Close()

	runs, err := store.Runs(context.Background())
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Name != "plate-1" || runs[0].Readings != 1 {
		t.Errorf("Expected plate-1 with 1 reading, got %+v", runs)
	}
}

// cancelAfter reports cancellation once Err has been polled more than n times
type cancelAfter struct {
	context.Context
	n     int32
	polls atomic.Int32
}

func (c *cancelAfter) Err() error {
	if c.polls.Add(1) > c.n {
		return context.Canceled
	}
	return nil
}

func TestBadgerStorage_CancelledMidWrite(t *testing.T) {
	store := newTestStore(t)

	var points []trial.TimePoint
	for i := 0; i < 250; i++ {
		points = append(points, reading("A", "1", float64(i), 1))
	}

	ctx := &cancelAfter{Context: context.Background(), n: 2}
	err := store.Write(ctx, "r1", points)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	runs, err := store.Runs(context.Background())
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("Aborted write left runs behind: %+v", runs)
	}
	results, _ := store.Query(context.Background(), storage.QueryRequest{})
	if len(results) != 0 {
		t.Fatalf("Aborted write left %d readings behind", len(results))
	}

	// A retry under the same name succeeds
	if err := store.Write(context.Background(), "r1", points); err != nil {
		t.Fatalf("Retry failed: %v", err)
	}
	runs, _ = store.Runs(context.Background())
	if len(runs) != 1 || runs[0].Readings != 250 {
		t.Errorf("Expected r1 with 250 readings, got %+v", runs)
	}
}

func TestEncodeTime_Ordering(t *testing.T) {
	values := []float64{-3, -0.5, 0, 0.25, 1, 48}
	for i := 1; i < len(values); i++ {
		if encodeTime(values[i-1]) >= encodeTime(values[i]) {
			t.Errorf("encodeTime(%v) should sort before encodeTime(%v)", values[i-1], values[i])
		}
	}
	for _, v := range append(values, math.Copysign(0, -1)) {
		if got := decodeTime(encodeTime(v)); got != v {
			t.Errorf("decodeTime(encodeTime(%v)) = %v", v, got)
		}
	}
}
