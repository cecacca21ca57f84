package extract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nicktill/impact/pkg/identifier"
	"github.com/nicktill/impact/pkg/trial"
	"github.com/nicktill/impact/pkg/workbook"
)

// Spectromax plate exports: one 8x12 block per read, 9 rows apart, first
// block on row 3. Column 0 of the block's first row holds the read time.
const (
	spectromaxFirstRow  = 3
	spectromaxBlockRows = 9
	plateRows           = 8
	plateCols           = 12
	endMarker           = "~End"
)

// Column offsets of the plates in a block; triplicate exports put three
// plates side by side with one spacer column between them
var (
	singlePlate     = []int{2}
	triplicatePlate = []int{2, 15, 28}
)

func extractSpectromaxOD(wb *workbook.Workbook, g identifier.Grammar) ([]trial.TimePoint, error) {
	return extractSpectromax(wb, g, singlePlate)
}

func extractSpectromaxODTriplicate(wb *workbook.Workbook, g identifier.Grammar) ([]trial.TimePoint, error) {
	return extractSpectromax(wb, g, triplicatePlate)
}

// extractSpectromax reads every block until the end marker. With more than one
// plate per block, each well is the mean of the plates and a missing cell in
// any plate counts as zero.
func extractSpectromax(wb *workbook.Workbook, g identifier.Grammar, plates []int) ([]trial.TimePoint, error) {
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

	var points []trial.TimePoint
	for start := spectromaxFirstRow; start < data.NumRows(); start += spectromaxBlockRows {
		timeCell := data.Cell(start, 0)
		if timeCell.IsEmpty() || strings.TrimSpace(timeCell.Text) == endMarker {
			break
		}
		hours, err := spectromaxHours(timeCell)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", start+1, err)
		}

		for i := 0; i < plateRows; i++ {
			for j := 0; j < plateCols; j++ {
				id := layout.at(i, j)
				if id == nil {
					continue
				}

				var (
					sum     float64
					present bool
				)
				for _, offset := range plates {
					cell := data.Cell(start+i, offset+j)
					if cell.IsEmpty() {
						continue
					}
					v, err := measurement(cell, start+i, offset+j)
					if err != nil {
						return nil, err
					}
					sum += v
					present = true
				}
				if !present {
					continue
				}
				points = append(points, trial.NewTimePoint(*id, hours, sum/float64(len(plates))))
			}
		}
	}
	return points, nil
}

// spectromaxHours converts an "M:S" or "H:M:S" read time to hours
func spectromaxHours(c workbook.Cell) (float64, error) {
	if c.Kind != workbook.Text {
		return 0, fmt.Errorf("%w: %s cell %q, time cells must be stored as text", ErrMalformedTimeValue, c.Kind, c.Text)
	}

	parts := strings.Split(strings.TrimSpace(c.Text), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTimeValue, c.Text)
	}

	fields := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformedTimeValue, c.Text)
		}
		fields[i] = n
	}

	var seconds int
	if len(fields) == 3 {
		seconds = fields[0]*3600 + fields[1]*60 + fields[2]
	} else {
		seconds = fields[0]*60 + fields[1]
	}
	return float64(seconds) / 3600, nil
}
