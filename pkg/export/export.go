package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/nicktill/impact/pkg/storage"
)

// FormatVersion is written into JSON export metadata
const FormatVersion = "1.0"

// Exporter handles exporting archived readings to various formats
type Exporter struct {
	storage storage.Storage
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Filters; Limit is ignored, exports are never truncated
	Query storage.QueryRequest

	// Format: "json" or "csv"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	ReadingsExported int       `json:"readings_exported"`
	Runs             []string  `json:"runs"`
	TimeRange        string    `json:"time_range"`
	Format           string    `json:"format"`
	ExportedAt       time.Time `json:"exported_at"`
}

// Metadata heads a JSON export
type Metadata struct {
	ExportedAt   time.Time `json:"exported_at"`
	ReadingCount int       `json:"reading_count"`
	Runs         []string  `json:"runs"`
	Format       string    `json:"format"`
	Version      string    `json:"version"`
}

// Document is the JSON export layout, also accepted by the importer
type Document struct {
	Metadata Metadata          `json:"metadata"`
	Readings []storage.Reading `json:"readings"`
}

func (e *Exporter) query(ctx context.Context, opts ExportOptions) ([]storage.Reading, error) {
	req := opts.Query
	req.Limit = 0 // No limit - export everything

	readings, err := e.storage.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	return readings, nil
}

// ExportToJSON exports readings as JSON to the given writer
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	readings, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Metadata: Metadata{
			ExportedAt:   time.Now(),
			ReadingCount: len(readings),
			Runs:         runNames(readings),
			Format:       "json",
			Version:      FormatVersion,
		},
		Readings: readings,
	}
	if doc.Readings == nil {
		doc.Readings = []storage.Reading{}
	}

	// Encode as pretty JSON
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		ReadingsExported: len(readings),
		Runs:             doc.Metadata.Runs,
		TimeRange:        timeRange(readings),
		Format:           "json",
		ExportedAt:       doc.Metadata.ExportedAt,
	}, nil
}

// ExportToCSV exports readings as CSV to the given writer. Every descriptor
// key present in the data gets its own column.
func (e *Exporter) ExportToCSV(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	readings, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(w)
	defer writer.Flush()

	// Collect all unique descriptor keys across all readings for consistent columns
	descriptorKeys := collectDescriptorKeys(readings)

	header := []string{"run", "time_hours", "value", "analyte_type", "analyte_name", "replicate"}
	header = append(header, descriptorKeys...)
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, r := range readings {
		id := r.Point.Identifier
		row := []string{
			r.Run,
			strconv.FormatFloat(r.Point.Time, 'f', -1, 64),
			formatValue(r.Point.Value),
			string(id.AnalyteType),
			id.AnalyteName,
			id.Replicate,
		}

		// Add descriptor values in consistent order
		for _, key := range descriptorKeys {
			row = append(row, id.Descriptors[key])
		}

		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	return &ExportResult{
		ReadingsExported: len(readings),
		Runs:             runNames(readings),
		TimeRange:        timeRange(readings),
		Format:           "csv",
		ExportedAt:       time.Now(),
	}, nil
}

// formatValue writes missing values the way titer sheets spell them
func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// collectDescriptorKeys gathers all unique descriptor keys and returns them sorted
func collectDescriptorKeys(readings []storage.Reading) []string {
	keySet := make(map[string]bool)
	for _, r := range readings {
		for key := range r.Point.Identifier.Descriptors {
			keySet[key] = true
		}
	}

	keys := make([]string, 0, len(keySet))
	for key := range keySet {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// runNames lists the distinct runs in first-appearance order
func runNames(readings []storage.Reading) []string {
	seen := make(map[string]bool)
	names := []string{}
	for _, r := range readings {
		if !seen[r.Run] {
			seen[r.Run] = true
			names = append(names, r.Run)
		}
	}
	return names
}

func timeRange(readings []storage.Reading) string {
	if len(readings) == 0 {
		return "empty"
	}
	minHour, maxHour := readings[0].Point.Time, readings[0].Point.Time
	for _, r := range readings {
		minHour = math.Min(minHour, r.Point.Time)
		maxHour = math.Max(maxHour, r.Point.Time)
	}
	return fmt.Sprintf("%gh to %gh", minHour, maxHour)
}
