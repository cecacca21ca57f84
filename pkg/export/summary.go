package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/nicktill/impact/pkg/experiment"
)

// SummaryRow is one analyte of one replicate trial in the summary CSV
type SummaryRow struct {
	ReplicateTrial string  `csv:"replicate_trial"`
	Descriptors    string  `csv:"descriptors"`
	Replicates     string  `csv:"replicates"`
	AnalyteType    string  `csv:"analyte_type"`
	AnalyteName    string  `csv:"analyte_name"`
	Courses        int     `csv:"courses"`
	TimePoints     int     `csv:"time_points"`
	FirstHour      float64 `csv:"first_hour"`
	LastHour       float64 `csv:"last_hour"`
}

// SummaryRows flattens an experiment summary, one row per replicate trial and analyte
func SummaryRows(s experiment.Summary) []*SummaryRow {
	var rows []*SummaryRow
	for _, rt := range s.Trials {
		descriptors := formatDescriptors(rt.Descriptors)
		for _, a := range rt.Analytes {
			rows = append(rows, &SummaryRow{
				ReplicateTrial: rt.Key,
				Descriptors:    descriptors,
				Replicates:     strings.Join(rt.Replicates, ";"),
				AnalyteType:    string(a.Type),
				AnalyteName:    a.Name,
				Courses:        a.Replicates,
				TimePoints:     a.TimePoints,
				FirstHour:      a.FirstHour,
				LastHour:       a.LastHour,
			})
		}
	}
	return rows
}

// WriteSummaryCSV writes the experiment summary as CSV
func WriteSummaryCSV(w io.Writer, s experiment.Summary) error {
	rows := SummaryRows(s)
	if rows == nil {
		rows = []*SummaryRow{}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("failed to write summary CSV: %w", err)
	}
	return nil
}

// WriteSummaryJSON writes the experiment summary as indented JSON
func WriteSummaryJSON(w io.Writer, s experiment.Summary) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return nil
}

func formatDescriptors(d map[string]string) string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + d[k]
	}
	return strings.Join(parts, ";")
}
