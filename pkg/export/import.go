package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/nicktill/impact/pkg/storage"
	"github.com/nicktill/impact/pkg/trial"
)

const discardTimeout = 30 * time.Second

var (
	// ErrInvalidDocument is returned for import bodies that are not a readings export
	ErrInvalidDocument = errors.New("invalid import document")

	// ErrRunExists is returned when an import names a run that is already archived
	ErrRunExists = errors.New("run already exists")
)

// ImportedRun is one run decoded from an export, in document order
type ImportedRun struct {
	Name   string
	Points []trial.TimePoint
}

// RunArchiver archives decoded runs. Implementations either archive every
// run or none of them.
type RunArchiver interface {
	ArchiveRuns(ctx context.Context, runs []ImportedRun) error
}

// Importer handles importing readings from backup files
type Importer struct {
	archiver RunArchiver
}

// NewImporter creates an importer that writes straight to store
func NewImporter(store storage.Storage) *Importer {
	return &Importer{archiver: storeArchiver{store: store}}
}

// SetArchiver routes decoded runs through a, e.g. to fold them into an
// experiment before they are archived
func (im *Importer) SetArchiver(a RunArchiver) {
	im.archiver = a
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	ReadingsImported int       `json:"readings_imported"`
	Runs             []string  `json:"runs"`
	TimeRange        string    `json:"time_range"`
	ImportedAt       time.Time `json:"imported_at"`
	Errors           []string  `json:"errors,omitempty"`
}

// ImportFromJSON imports readings from a JSON export. Invalid readings are
// skipped and reported in the result; the valid ones are archived per run.
func (im *Importer) ImportFromJSON(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var validationErrors []string
	valid := make([]storage.Reading, 0, len(doc.Readings))
	for i, reading := range doc.Readings {
		if err := validateImportedReading(reading); err != nil {
			validationErrors = append(validationErrors, fmt.Sprintf("reading %d: %v", i, err))
			continue
		}
		valid = append(valid, reading)
	}

	if len(valid) == 0 {
		return &ImportResult{
			Runs:       []string{},
			TimeRange:  "empty",
			ImportedAt: time.Now(),
			Errors:     validationErrors,
		}, nil
	}

	// Group by run, keeping first-appearance order
	names := runNames(valid)
	byRun := make(map[string][]trial.TimePoint, len(names))
	for _, reading := range valid {
		byRun[reading.Run] = append(byRun[reading.Run], reading.Point)
	}
	runs := make([]ImportedRun, len(names))
	for i, name := range names {
		runs[i] = ImportedRun{Name: name, Points: byRun[name]}
	}

	if err := im.archiver.ArchiveRuns(ctx, runs); err != nil {
		return nil, err
	}

	return &ImportResult{
		ReadingsImported: len(valid),
		Runs:             names,
		TimeRange:        timeRange(valid),
		ImportedAt:       time.Now(),
		Errors:           validationErrors,
	}, nil
}

// storeArchiver writes runs straight to a store
type storeArchiver struct {
	store storage.Storage
}

func (a storeArchiver) ArchiveRuns(ctx context.Context, runs []ImportedRun) error {
	existing, err := a.store.Runs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	archived := make(map[string]bool, len(existing))
	for _, info := range existing {
		archived[info.Name] = true
	}
	for _, run := range runs {
		if archived[run.Name] {
			return fmt.Errorf("%w: %q", ErrRunExists, run.Name)
		}
	}

	for i, run := range runs {
		if err := a.store.Write(ctx, run.Name, run.Points); err != nil {
			DiscardRuns(a.store, runs[:i+1])
			return fmt.Errorf("failed to archive run %s: %w", run.Name, err)
		}
	}
	return nil
}

// DiscardRuns deletes runs written by an import that was then abandoned. It
// runs on its own context since the import's may already be done.
func DiscardRuns(store storage.Storage, runs []ImportedRun) {
	ctx, cancel := context.WithTimeout(context.Background(), discardTimeout)
	defer cancel()

	for _, run := range runs {
		if err := store.Delete(ctx, run.Name); err != nil && !errors.Is(err, storage.ErrRunNotFound) {
			log.Printf("Failed to discard imported run %s: %v", run.Name, err)
		}
	}
}

// validateImportedReading validates a reading before import
func validateImportedReading(r storage.Reading) error {
	if r.Run == "" {
		return fmt.Errorf("run cannot be empty")
	}

	id := r.Point.Identifier
	if !id.AnalyteType.Valid() {
		return fmt.Errorf("invalid analyte type: %q", id.AnalyteType)
	}
	if id.AnalyteName == "" {
		return fmt.Errorf("analyte name cannot be empty")
	}
	if math.IsNaN(r.Point.Time) || math.IsInf(r.Point.Time, 0) {
		return fmt.Errorf("time must be finite")
	}
	if math.IsInf(r.Point.Value, 0) {
		return fmt.Errorf("value must be finite or missing")
	}
	return nil
}
