package workbook

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/csimplestring/go-csv/detector"
	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// DelimitedSheetName is the sheet name given to single-sheet text files
const DelimitedSheetName = "data"

var (
	// ErrUnsupportedExtension is returned for file types no loader handles
	ErrUnsupportedExtension = errors.New("unsupported workbook extension")

	// ErrEmptyWorkbook is returned when a file contains no sheets
	ErrEmptyWorkbook = errors.New("workbook has no sheets")
)

// Layouts that extrame/xls uses when rendering date-formatted cells
var xlsDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006.01.02 15:04:05",
}

// Open loads a workbook from disk, choosing the loader by file extension
func Open(path string) (*Workbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	return Load(f, filepath.Ext(path))
}

// Load reads a workbook of the given extension (".xlsx", ".xls", ".csv", ...)
func Load(r io.Reader, ext string) (*Workbook, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}

	var wb *Workbook
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "xlsx", "xlsm":
		wb, err = loadXLSX(data)
	case "xls":
		wb, err = loadXLS(data)
	case "csv", "tsv", "txt":
		var sheet *Sheet
		sheet, err = LoadDelimited(bytes.NewReader(data), DelimitedSheetName)
		wb = &Workbook{Sheets: []*Sheet{sheet}}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}
	if err != nil {
		return nil, err
	}
	if len(wb.Sheets) == 0 {
		return nil, ErrEmptyWorkbook
	}
	return wb, nil
}

// LoadDelimited reads a CSV-like file into a sheet, detecting the delimiter
func LoadDelimited(r io.Reader, name string) (*Sheet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = detectDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return FromStrings(name, records), nil
}

func detectDelimiter(data []byte) rune {
	d := detector.New()
	delimiters := d.DetectDelimiter(bytes.NewReader(data), '"')
	if len(delimiters) > 0 && len(delimiters[0]) > 0 {
		return rune(delimiters[0][0])
	}
	return ','
}

func loadXLSX(data []byte) (*Workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer f.Close()

	wb := &Workbook{}
	for _, name := range f.GetSheetList() {
		display, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", name, err)
		}
		raw, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", name, err)
		}

		sheet := &Sheet{Name: name, Rows: make([][]Cell, len(display))}
		for i, row := range display {
			sheet.Rows[i] = make([]Cell, len(row))
			for j, text := range row {
				rawText := text
				if i < len(raw) && j < len(raw[i]) {
					rawText = raw[i][j]
				}
				sheet.Rows[i][j] = xlsxCell(text, rawText)
			}
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}
	return wb, nil
}

// xlsxCell classifies a cell from its displayed and raw values. A numeric raw
// value that displays as something non-numeric carrying date or time
// separators was formatted as a date by the spreadsheet.
func xlsxCell(display, raw string) Cell {
	if strings.TrimSpace(raw) == "" {
		return Cell{}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return TextCell(display)
	}
	if _, err := strconv.ParseFloat(strings.TrimSpace(display), 64); err != nil &&
		strings.ContainsAny(display, ":/-") {
		return DateCell(display)
	}
	return Cell{Kind: Number, Text: display, Number: v}
}

func loadXLS(data []byte) (*Workbook, error) {
	book, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("failed to open xls: %w", err)
	}

	wb := &Workbook{}
	for sheetID := 0; sheetID < book.NumSheets(); sheetID++ {
		ws := book.GetSheet(sheetID)
		if ws == nil {
			continue
		}

		sheet := &Sheet{Name: ws.Name}
		for rowID := 0; rowID <= int(ws.MaxRow); rowID++ {
			row := ws.Row(rowID)
			if row == nil {
				sheet.Rows = append(sheet.Rows, nil)
				continue
			}
			cells := make([]Cell, row.LastCol()+1)
			for colID := 0; colID <= row.LastCol(); colID++ {
				cells[colID] = xlsCell(row.Col(colID))
			}
			sheet.Rows = append(sheet.Rows, cells)
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}
	return wb, nil
}

func xlsCell(value string) Cell {
	c := InferCell(value)
	if c.Kind != Text {
		return c
	}
	trimmed := strings.TrimSpace(value)
	for _, layout := range xlsDateLayouts {
		if _, err := time.Parse(layout, trimmed); err == nil {
			return DateCell(value)
		}
	}
	return c
}
