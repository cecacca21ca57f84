/*
Package storage provides the pluggable archive for raw instrument readings.

# Storage Interface

Every ingestion run writes the readings its extractor produced, before any
aggregation. Two backends implement the Storage interface:
  - memory: In-memory storage for testing and one-shot CLI parsing
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

	type Storage interface {
	    Write(ctx context.Context, run string, points []trial.TimePoint) error
	    Query(ctx context.Context, req QueryRequest) ([]Reading, error)
	    Delete(ctx context.Context, run string) error
	    Runs(ctx context.Context) ([]RunInfo, error)
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

The archive holds readings, not trials. The experiment is rebuilt from it by
replaying every run through the aggregation pipeline, so deleting a run and
rebuilding drops exactly that run's trials.

# Usage Example

	store, err := badger.New(badger.Config{Path: "./data"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	err = store.Write(ctx, "plate-2024-03-01", points)

	minHour := 2.0
	readings, err := store.Query(ctx, storage.QueryRequest{
	    AnalyteTypes: []trial.AnalyteType{trial.BiomassType},
	    Descriptors:  map[string]string{"strain": "MG1655"},
	    MinTime:      &minHour,
	})

# Query Filtering

All filters are optional and combine with AND. Runs, AnalyteTypes and
AnalyteNames match any listed value; Descriptors must all match.
*/
package storage
