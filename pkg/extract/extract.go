// Package extract turns instrument workbooks into flat readings.
//
// Each format knows the sheet layout one instrument exports. Extractors only
// produce trial.TimePoint values; grouping them into trials is left to the
// aggregate package.
package extract

import (
	"errors"
	"fmt"
	"sort"

	"github.com/nicktill/impact/pkg/identifier"
	"github.com/nicktill/impact/pkg/trial"
	"github.com/nicktill/impact/pkg/workbook"
)

// Format names accepted by Lookup
const (
	SpectromaxOD           = "spectromax_OD"
	SpectromaxODTriplicate = "spectromax_OD_triplicate"
	TecanOD                = "tecan_OD"
	DefaultTiters          = "default_titers"
)

// Sheet names the plate reader formats read from
const (
	identifiersSheet = "identifiers"
	dataSheet        = "data"
	titersSheet      = "titers"
)

// Every plate reader format reports optical density as biomass
const (
	odAnalyteType = trial.BiomassType
	odAnalyteName = "OD600"
)

var (
	// ErrUnknownFormat is returned by Lookup for unregistered format names
	ErrUnknownFormat = errors.New("unknown data format")

	// ErrMissingSheet is returned when a workbook lacks a sheet the format needs
	ErrMissingSheet = errors.New("missing sheet")

	// ErrMalformedTimeValue is returned for time cells that cannot be read as
	// text or seconds, e.g. cells a spreadsheet converted to dates
	ErrMalformedTimeValue = errors.New("malformed time value")

	// ErrMalformedValue is returned for measurement cells that are not numbers
	ErrMalformedValue = errors.New("malformed measurement value")

	// ErrMissingTimeRow is returned when a tecan export has no "Time [s]" row
	ErrMissingTimeRow = errors.New("no time row found")
)

// Extractor reads all readings out of a workbook. Identifier cells are parsed
// with the given grammar.
type Extractor func(wb *workbook.Workbook, g identifier.Grammar) ([]trial.TimePoint, error)

var registry = map[string]Extractor{
	SpectromaxOD:           extractSpectromaxOD,
	SpectromaxODTriplicate: extractSpectromaxODTriplicate,
	TecanOD:                extractTecanOD,
	DefaultTiters:          extractTiters,
}

// Lookup returns the extractor registered under name
func Lookup(name string) (Extractor, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: no format given", ErrUnknownFormat)
	}
	ex, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
	return ex, nil
}

// Formats lists the registered format names
func Formats() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sheet(wb *workbook.Workbook, name string) (*workbook.Sheet, error) {
	if wb == nil {
		return nil, fmt.Errorf("%w: %s (no workbook)", ErrMissingSheet, name)
	}
	s, ok := wb.Sheet(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingSheet, name)
	}
	return s, nil
}

// plateLayout is the parsed identifier grid of a plate. A nil entry is a well
// with no identifier; readings from it are skipped.
type plateLayout [][]*trial.Identifier

func parseLayout(s *workbook.Sheet, g identifier.Grammar) (plateLayout, error) {
	cache := identifier.NewCache(g)
	layout := make(plateLayout, s.NumRows())
	for i, row := range s.Rows {
		layout[i] = make([]*trial.Identifier, len(row))
		for j, cell := range row {
			if cell.IsEmpty() || identifier.IsBlank(cell.Text) {
				continue
			}
			id, err := cache.Parse(cell.Text)
			if err != nil {
				return nil, fmt.Errorf("identifier at row %d col %d: %w", i+1, j+1, err)
			}
			od := id.WithAnalyte(odAnalyteType, odAnalyteName)
			layout[i][j] = &od
		}
	}
	return layout, nil
}

func (p plateLayout) at(row, col int) *trial.Identifier {
	if row < 0 || row >= len(p) || col < 0 || col >= len(p[row]) {
		return nil
	}
	return p[row][col]
}

func measurement(c workbook.Cell, row, col int) (float64, error) {
	v, err := c.Float()
	if err != nil {
		return 0, fmt.Errorf("%w: %q at row %d col %d", ErrMalformedValue, c.Text, row+1, col+1)
	}
	return v, nil
}
