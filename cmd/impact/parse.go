package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/nicktill/impact/pkg/aggregate"
	"github.com/nicktill/impact/pkg/experiment"
	"github.com/nicktill/impact/pkg/export"
	"github.com/nicktill/impact/pkg/extract"
	"github.com/nicktill/impact/pkg/ingest"
	"github.com/nicktill/impact/pkg/workbook"
)

// sheetFlags collects repeated -sheet name=path flags
type sheetFlags map[string]string

func (s sheetFlags) String() string {
	parts := make([]string, 0, len(s))
	for name, path := range s {
		parts = append(parts, name+"="+path)
	}
	return strings.Join(parts, ",")
}

func (s sheetFlags) Set(v string) error {
	name, path, ok := strings.Cut(v, "=")
	if !ok || name == "" || path == "" {
		return fmt.Errorf("expected name=path, got %q", v)
	}
	s[name] = path
	return nil
}

func runParse(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("parse", flag.ContinueOnError)
	fs.SetOutput(stdout)
	format := fs.String("format", "", "instrument layout: "+strings.Join(extract.Formats(), ", "))
	file := fs.String("file", "", "workbook to import (.xlsx, .xls, .csv, .tsv, .txt)")
	idType := fs.String("id-type", "traverse", "identifier grammar: traverse or csv")
	live := fs.Bool("live", false, "run calculations after the trials are attached")
	output := fs.String("output", "text", "summary output: text, json or csv")
	quiet := fs.Bool("quiet", false, "suppress per-stage pipeline logging")
	sheets := sheetFlags{}
	fs.Var(sheets, "sheet", "delimited file for one named sheet, as name=path (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *format == "" {
		return errors.New("-format is required")
	}
	if *file == "" && len(sheets) == 0 {
		return errors.New("-file or -sheet is required")
	}

	wb, err := loadWorkbook(*file, sheets)
	if err != nil {
		return err
	}

	var opts []aggregate.Option
	if *quiet {
		opts = append(opts, aggregate.WithLogger(nil))
	}
	parser := ingest.NewParser(nil, aggregate.New(opts...))

	exp, _, err := parser.ParseRawData(context.Background(), ingest.Request{
		Format:           *format,
		IDType:           *idType,
		Workbook:         wb,
		LiveCalculations: *live,
	})
	if err != nil {
		return err
	}

	summary := exp.Summary()
	switch *output {
	case "text":
		return writeSummaryText(stdout, summary)
	case "json":
		return export.WriteSummaryJSON(stdout, summary)
	case "csv":
		return export.WriteSummaryCSV(stdout, summary)
	}
	return fmt.Errorf("unknown output %q", *output)
}

// loadWorkbook reads the -file workbook and adds each -sheet file to it
func loadWorkbook(file string, sheets sheetFlags) (*workbook.Workbook, error) {
	wb := &workbook.Workbook{}
	if file != "" {
		loaded, err := workbook.Open(file)
		if err != nil {
			return nil, err
		}
		wb = loaded
	}

	for name, path := range sheets {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", name, err)
		}
		sheet, err := workbook.LoadDelimited(f, name)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("sheet %s (%s): %w", name, filepath.Base(path), err)
		}
		wb.AddSheet(sheet)
	}
	return wb, nil
}

func writeSummaryText(w io.Writer, s experiment.Summary) error {
	fmt.Fprintf(w, "%d replicate trials, %d single trials, %d analyte courses, %d time points\n\n",
		s.ReplicateTrials, s.SingleTrials, s.AnalyteCourses, s.TimePoints)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRIAL\tREPLICATES\tANALYTE\tTYPE\tCOURSES\tPOINTS\tHOURS")
	for _, rt := range s.Trials {
		for _, a := range rt.Analytes {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%g-%g\n",
				rt.Key, strings.Join(rt.Replicates, ","), a.Name, a.Type,
				a.Replicates, a.TimePoints, a.FirstHour, a.LastHour)
		}
	}
	return tw.Flush()
}
