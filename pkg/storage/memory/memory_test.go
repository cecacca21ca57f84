package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/nicktill/impact/pkg/storage"
	"github.com/nicktill/impact/pkg/trial"
)

func reading(strain, rep string, analyte trial.AnalyteType, name string, hours, value float64) trial.TimePoint {
	id := trial.Identifier{
		AnalyteType: analyte,
		AnalyteName: name,
		Replicate:   rep,
		Descriptors: map[string]string{"strain": strain},
	}
	return trial.NewTimePoint(id, hours, value)
}

func TestMemoryStorage_WriteAndQuery(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()

	err := store.Write(ctx, "run-1", []trial.TimePoint{
		reading("MG1655", "1", trial.BiomassType, "OD600", 0, 0.05),
		reading("MG1655", "2", trial.BiomassType, "OD600", 0, 0.06),
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	results, err := store.Query(ctx, storage.QueryRequest{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}

	if len(results) != 2 {
		t.Errorf("Expected 2 readings, got %d", len(results))
	}
	if results[0].Run != "run-1" {
		t.Errorf("Expected run-1, got %q", results[0].Run)
	}
}

func TestMemoryStorage_QueryWithFilters(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()

	store.Write(ctx, "od", []trial.TimePoint{
		reading("MG1655", "1", trial.BiomassType, "OD600", 0, 0.05),
		reading("MG1655", "1", trial.BiomassType, "OD600", 4, 0.8),
		reading("W3110", "1", trial.BiomassType, "OD600", 4, 0.7),
	})
	store.Write(ctx, "hplc", []trial.TimePoint{
		reading("MG1655", "1", trial.SubstrateType, "glucose", 4, 12),
		reading("MG1655", "1", trial.ProductType, "ethanol", 4, 3),
	})

	minHour := 1.0
	tests := []struct {
		name string
		req  storage.QueryRequest
		want int
	}{
		{"all", storage.QueryRequest{}, 5},
		{"run", storage.QueryRequest{Runs: []string{"hplc"}}, 2},
		{"analyte type", storage.QueryRequest{AnalyteTypes: []trial.AnalyteType{trial.BiomassType}}, 3},
		{"analyte name", storage.QueryRequest{AnalyteNames: []string{"glucose", "ethanol"}}, 2},
		{"descriptor", storage.QueryRequest{Descriptors: map[string]string{"strain": "W3110"}}, 1},
		{"min time", storage.QueryRequest{MinTime: &minHour}, 4},
		{"limit", storage.QueryRequest{Limit: 2}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := store.Query(ctx, tt.req)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if len(results) != tt.want {
				t.Errorf("Expected %d readings, got %d", tt.want, len(results))
			}
		})
	}
}

func TestMemoryStorage_Delete(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()

	store.Write(ctx, "a", []trial.TimePoint{reading("A", "1", trial.BiomassType, "OD600", 0, 1)})
	store.Write(ctx, "b", []trial.TimePoint{reading("B", "1", trial.BiomassType, "OD600", 0, 1)})

	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "a"); !errors.Is(err, storage.ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}

	runs, _ := store.Runs(ctx)
	if len(runs) != 1 || runs[0].Name != "b" {
		t.Errorf("Expected only run b, got %+v", runs)
	}
}

func TestMemoryStorage_Stats(t *testing.T) {
	store := New()
	defer store.Close()

	ctx := context.Background()

	store.Write(ctx, "a", []trial.TimePoint{
		reading("A", "1", trial.BiomassType, "OD600", 0.5, 0.1),
		reading("A", "1", trial.BiomassType, "OD600", 6, 0.9),
		reading("A", "2", trial.BiomassType, "OD600", 2, 0.4),
	})
	store.Write(ctx, "a", []trial.TimePoint{
		reading("A", "1", trial.BiomassType, "OD600", 8, 1.1),
	})

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	if stats.TotalReadings != 4 {
		t.Errorf("Expected 4 readings, got %d", stats.TotalReadings)
	}
	if stats.TotalRuns != 1 {
		t.Errorf("Expected 1 run, got %d", stats.TotalRuns)
	}
	if stats.TotalCourses != 2 {
		t.Errorf("Expected 2 courses, got %d", stats.TotalCourses)
	}
	if stats.EarliestHour != 0.5 || stats.LatestHour != 8 {
		t.Errorf("Expected hours 0.5..8, got %v..%v", stats.EarliestHour, stats.LatestHour)
	}
}

func TestMemoryStorage_CopiesIdentifiers(t *testing.T) {
	store := New()
	ctx := context.Background()

	tp := reading("A", "1", trial.BiomassType, "OD600", 0, 1)
	store.Write(ctx, "a", []trial.TimePoint{tp})
	tp.Identifier.Descriptors["strain"] = "mutated"

	results, _ := store.Query(ctx, storage.QueryRequest{})
	if got := results[0].Point.Identifier.Descriptors["strain"]; got != "A" {
		t.Errorf("Expected stored strain A, got %q", got)
	}
}
