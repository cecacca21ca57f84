package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/nicktill/impact/pkg/aggregate"
	"github.com/nicktill/impact/pkg/experiment"
	"github.com/nicktill/impact/pkg/extract"
	"github.com/nicktill/impact/pkg/identifier"
	"github.com/nicktill/impact/pkg/storage"
	"github.com/nicktill/impact/pkg/trial"
	"github.com/nicktill/impact/pkg/workbook"
)

// ErrNoData is returned when a request names neither a workbook nor a file
var ErrNoData = errors.New("no workbook or file name given")

// Request describes one raw data import
type Request struct {
	// Format names the instrument layout, see extract.Formats
	Format string

	// IDType is the identifier grammar: "traverse" (default) or "CSV"
	IDType string

	// Workbook holds the sheets to read. When nil, FileName is loaded.
	Workbook *workbook.Workbook
	FileName string

	// Run names the archived readings. Empty skips archiving.
	Run string

	// Experiment receives the trials; a new one is created when nil
	Experiment *experiment.Experiment

	// LiveCalculations recalculates the experiment after the trials are attached
	LiveCalculations bool
}

// Result reports what one import produced
type Result struct {
	Run             string `json:"run,omitempty"`
	Format          string `json:"format"`
	Readings        int    `json:"readings"`
	ReplicateTrials int    `json:"replicate_trials"`
	Duration        string `json:"duration"`
}

// Parser extracts readings from workbooks, archives them, and folds them into
// experiments
type Parser struct {
	store    storage.Storage
	pipeline *aggregate.Pipeline
}

// NewParser creates a parser. store may be nil, which disables archiving.
func NewParser(store storage.Storage, pipeline *aggregate.Pipeline) *Parser {
	if pipeline == nil {
		pipeline = aggregate.New()
	}
	return &Parser{store: store, pipeline: pipeline}
}

// Extract loads the workbook if needed and runs the format's extractor
func (p *Parser) Extract(req Request) ([]trial.TimePoint, error) {
	extractor, err := extract.Lookup(req.Format)
	if err != nil {
		return nil, err
	}
	grammar, err := identifier.ParseGrammar(req.IDType)
	if err != nil {
		return nil, err
	}

	wb := req.Workbook
	if wb == nil {
		if req.FileName == "" {
			return nil, ErrNoData
		}
		start := time.Now()
		if wb, err = workbook.Open(req.FileName); err != nil {
			return nil, err
		}
		log.Printf("Imported data from %s in %v", req.FileName, time.Since(start).Round(time.Millisecond))
	}

	points, err := extractor(wb, grammar)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Format, err)
	}
	if err := ValidateReadings(points); err != nil {
		return nil, err
	}
	return points, nil
}

// ParseRawData imports one workbook into an experiment. The readings are
// archived only after the experiment accepted every trial, so a rejected
// import leaves the archive untouched.
func (p *Parser) ParseRawData(ctx context.Context, req Request) (*experiment.Experiment, *Result, error) {
	start := time.Now()

	exp := req.Experiment
	if exp == nil {
		exp = experiment.New()
	}

	points, err := p.Extract(req)
	if err != nil {
		return nil, nil, err
	}

	before := len(exp.ReplicateTrials())
	if err := p.pipeline.Ingest(exp, points, req.LiveCalculations); err != nil {
		return nil, nil, err
	}

	if p.store != nil && req.Run != "" {
		if err := p.store.Write(ctx, req.Run, points); err != nil {
			return nil, nil, fmt.Errorf("failed to archive run %s: %w", req.Run, err)
		}
	}

	return exp, &Result{
		Run:             req.Run,
		Format:          req.Format,
		Readings:        len(points),
		ReplicateTrials: len(exp.ReplicateTrials()) - before,
		Duration:        time.Since(start).Round(time.Millisecond).String(),
	}, nil
}

// Replay rebuilds an experiment from every archived run, oldest first
func (p *Parser) Replay(ctx context.Context, exp *experiment.Experiment, liveCalculations bool) error {
	if p.store == nil {
		return nil
	}

	runs, err := p.store.Runs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].Created.Before(runs[j].Created)
	})

	for _, run := range runs {
		readings, err := p.store.Query(ctx, storage.QueryRequest{Runs: []string{run.Name}})
		if err != nil {
			return fmt.Errorf("failed to load run %s: %w", run.Name, err)
		}

		points := make([]trial.TimePoint, len(readings))
		for i, r := range readings {
			points[i] = r.Point
		}
		if err := p.pipeline.Ingest(exp, points, false); err != nil {
			return fmt.Errorf("failed to replay run %s: %w", run.Name, err)
		}
	}

	if liveCalculations && len(runs) > 0 {
		return exp.Recalculate()
	}
	return nil
}
