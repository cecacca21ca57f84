package workbook

import (
	"strconv"
	"strings"
)

// Kind is the type of value a cell holds
type Kind int

const (
	Empty Kind = iota
	Text
	Number
	// Date marks cells the spreadsheet stored as a date/time value rather than text
	Date
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Number:
		return "number"
	case Date:
		return "date"
	}
	return "empty"
}

// Cell is one spreadsheet cell. Text is always the displayed value.
type Cell struct {
	Kind   Kind
	Text   string
	Number float64
}

// TextCell creates a text cell, or an empty cell for blank text
func TextCell(s string) Cell {
	if strings.TrimSpace(s) == "" {
		return Cell{}
	}
	return Cell{Kind: Text, Text: s}
}

// NumberCell creates a numeric cell
func NumberCell(v float64) Cell {
	return Cell{Kind: Number, Text: strconv.FormatFloat(v, 'g', -1, 64), Number: v}
}

// DateCell creates a date cell from its displayed value
func DateCell(display string) Cell {
	return Cell{Kind: Date, Text: display}
}

// InferCell classifies a displayed value as empty, numeric or text
func InferCell(s string) Cell {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Cell{}
	}
	if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Cell{Kind: Number, Text: trimmed, Number: v}
	}
	return Cell{Kind: Text, Text: s}
}

// IsEmpty reports whether the cell holds nothing
func (c Cell) IsEmpty() bool {
	return c.Kind == Empty
}

// Float returns the numeric value of the cell, parsing text cells
func (c Cell) Float() (float64, error) {
	if c.Kind == Number {
		return c.Number, nil
	}
	return strconv.ParseFloat(strings.TrimSpace(c.Text), 64)
}

// Sheet is a named 2-D grid of cells. Rows may be ragged.
type Sheet struct {
	Name string
	Rows [][]Cell
}

// NumRows returns the number of rows
func (s *Sheet) NumRows() int {
	return len(s.Rows)
}

// Cell returns the cell at (row, col), or an empty cell when out of range
func (s *Sheet) Cell(row, col int) Cell {
	if row < 0 || row >= len(s.Rows) || col < 0 || col >= len(s.Rows[row]) {
		return Cell{}
	}
	return s.Rows[row][col]
}

// Row returns cells [from, to) of a row, padded with empty cells
func (s *Sheet) Row(row, from, to int) []Cell {
	out := make([]Cell, 0, to-from)
	for c := from; c < to; c++ {
		out = append(out, s.Cell(row, c))
	}
	return out
}

// Workbook is an ordered set of sheets
type Workbook struct {
	Sheets []*Sheet
}

// Sheet looks up a sheet by name, case-insensitively
func (w *Workbook) Sheet(name string) (*Sheet, bool) {
	for _, s := range w.Sheets {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return nil, false
}

// AddSheet appends a sheet, replacing any sheet with the same name
func (w *Workbook) AddSheet(s *Sheet) {
	for i, existing := range w.Sheets {
		if strings.EqualFold(existing.Name, s.Name) {
			w.Sheets[i] = s
			return
		}
	}
	w.Sheets = append(w.Sheets, s)
}

// FromStrings builds a sheet by inferring each cell's kind. Handy for tests
// and for text exports.
func FromStrings(name string, rows [][]string) *Sheet {
	s := &Sheet{Name: name, Rows: make([][]Cell, len(rows))}
	for i, row := range rows {
		s.Rows[i] = make([]Cell, len(row))
		for j, v := range row {
			s.Rows[i][j] = InferCell(v)
		}
	}
	return s
}
