package extract

import (
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/nicktill/impact/pkg/identifier"
	"github.com/nicktill/impact/pkg/trial"
	"github.com/nicktill/impact/pkg/workbook"
)

// Titer tables: analyte names on row 0, analyte types on row 1, then one
// sample per row with its identifier in column 0
const (
	titerNameRow  = 0
	titerTypeRow  = 1
	titerFirstRow = 2
)

type titerColumn struct {
	index       int
	name        string
	analyteType trial.AnalyteType
}

// extractTiters reads an HPLC titer table. The sample time comes from the
// identifier and must be present; rows whose first cell is not text are
// skipped.
func extractTiters(wb *workbook.Workbook, g identifier.Grammar) ([]trial.TimePoint, error) {
	data, err := sheet(wb, titersSheet)
	if err != nil {
		return nil, err
	}

	var columns []titerColumn
	if data.NumRows() > titerNameRow {
		for col := 1; col < len(data.Rows[titerNameRow]); col++ {
			name := strings.TrimSpace(data.Cell(titerNameRow, col).Text)
			if name == "" {
				continue
			}
			columns = append(columns, titerColumn{
				index:       col,
				name:        name,
				analyteType: trial.AnalyteType(strings.ToLower(strings.TrimSpace(data.Cell(titerTypeRow, col).Text))),
			})
		}
	}

	cache := identifier.NewCache(g)
	var (
		points  []trial.TimePoint
		skipped int
	)
	for row := titerFirstRow; row < data.NumRows(); row++ {
		idCell := data.Cell(row, 0)
		if idCell.Kind != workbook.Text {
			skipped++
			continue
		}
		id, err := cache.Parse(idCell.Text)
		if err != nil {
			return nil, fmt.Errorf("identifier at row %d: %w", row+1, err)
		}
		if !id.HasTime {
			return nil, fmt.Errorf("%w: no time in identifier %q at row %d", ErrMalformedTimeValue, idCell.Text, row+1)
		}

		for _, c := range columns {
			v, err := titerValue(data.Cell(row, c.index), row, c.index)
			if err != nil {
				return nil, err
			}
			points = append(points, trial.NewTimePoint(id.WithAnalyte(c.analyteType, c.name), id.Time, v))
		}
	}

	if skipped > 0 {
		log.Printf("Titer table: skipped %d rows without an identifier", skipped)
	}
	return points, nil
}

// titerValue reads a titer cell; blanks and "nan" become NaN
func titerValue(c workbook.Cell, row, col int) (float64, error) {
	if c.IsEmpty() || strings.EqualFold(strings.TrimSpace(c.Text), "nan") {
		return math.NaN(), nil
	}
	return measurement(c, row, col)
}
