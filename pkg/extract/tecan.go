package extract

import (
	"fmt"
	"strings"

	"github.com/nicktill/impact/pkg/identifier"
	"github.com/nicktill/impact/pkg/trial"
	"github.com/nicktill/impact/pkg/workbook"
)

const (
	tecanTimeLabel = "Time [s]"
	// well rows start two rows below the time row (the temperature row sits between)
	tecanDataOffset = 2
	tecanWells      = plateRows * plateCols
)

// extractTecanOD reads a kinetic tecan export: a "Time [s]" row with one read
// time per column, followed by one row per well A1..H12.
func extractTecanOD(wb *workbook.Workbook, g identifier.Grammar) ([]trial.TimePoint, error) {
	idSheet, err := sheet(wb, identifiersSheet)
	if err != nil {
		return nil, err
	}
	data, err := sheet(wb, dataSheet)
	if err != nil {
		return nil, err
	}
	layout, err := parseLayout(idSheet, g)
	if err != nil {
		return nil, err
	}

	timeRow := -1
	for i, row := range data.Rows {
		for _, cell := range row {
			if strings.TrimSpace(cell.Text) == tecanTimeLabel {
				timeRow = i
				break
			}
		}
	}
	if timeRow < 0 {
		return nil, ErrMissingTimeRow
	}
	first := timeRow + tecanDataOffset

	var points []trial.TimePoint
	for col := 1; col < len(data.Rows[timeRow]); col++ {
		timeCell := data.Cell(timeRow, col)
		if timeCell.IsEmpty() {
			continue
		}
		if timeCell.Kind != workbook.Number {
			return nil, fmt.Errorf("%w: %q at row %d col %d", ErrMalformedTimeValue, timeCell.Text, timeRow+1, col+1)
		}
		hours := timeCell.Number / 3600

		for well := 0; well < tecanWells; well++ {
			id := layout.at(well/plateCols, well%plateCols)
			if id == nil {
				continue
			}
			cell := data.Cell(first+well, col)
			if cell.IsEmpty() {
				continue
			}
			v, err := measurement(cell, first+well, col)
			if err != nil {
				return nil, err
			}
			points = append(points, trial.NewTimePoint(*id, hours, v))
		}
	}
	return points, nil
}
