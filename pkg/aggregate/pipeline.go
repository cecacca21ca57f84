package aggregate

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nicktill/impact/pkg/trial"
)

// ErrEmptyGroup guards the grouping stages: a key was produced with no members.
// It cannot happen when keys and members come from the same input.
var ErrEmptyGroup = errors.New("grouping produced an empty group")

// Pipeline folds flat readings into replicate trials.
// It holds no state between calls; every call builds its own maps.
type Pipeline struct {
	logger *log.Logger
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger used for per-stage timings. nil silences them.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// New creates a pipeline
func New(opts ...Option) *Pipeline {
	p := &Pipeline{logger: log.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Aggregate runs all three stages: readings -> time courses -> single trials -> replicate trials.
// Any error aborts the fold and no partial result is returned.
func (p *Pipeline) Aggregate(points []trial.TimePoint) ([]*trial.ReplicateTrial, error) {
	start := time.Now()
	analytes, err := GroupTimePoints(points)
	if err != nil {
		return nil, err
	}
	p.logf("Parsed %d time points into %d analytes in %v", len(points), len(analytes), time.Since(start))

	start = time.Now()
	singles, err := GroupAnalyteData(analytes)
	if err != nil {
		return nil, err
	}
	p.logf("Parsed %d analytes into %d single trials in %v", len(analytes), len(singles), time.Since(start))

	start = time.Now()
	replicates, err := GroupSingleTrials(singles)
	if err != nil {
		return nil, err
	}
	p.logf("Parsed %d single trials into %d replicate trials in %v", len(singles), len(replicates), time.Since(start))

	return replicates, nil
}

// Ingest aggregates the readings and attaches every resulting replicate trial
// to the experiment. When liveCalculations is set the experiment is
// recalculated once after all trials are attached.
func (p *Pipeline) Ingest(exp trial.Experiment, points []trial.TimePoint, liveCalculations bool) error {
	replicates, err := p.Aggregate(points)
	if err != nil {
		return err
	}

	for _, rep := range replicates {
		if err := exp.AddReplicateTrial(rep); err != nil {
			return fmt.Errorf("failed to add replicate trial %s: %w", rep.Key(), err)
		}
	}

	if liveCalculations {
		if err := exp.Recalculate(); err != nil {
			return fmt.Errorf("recalculation failed: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

// Aggregate runs the pipeline with the default logger
func Aggregate(points []trial.TimePoint) ([]*trial.ReplicateTrial, error) {
	return New().Aggregate(points)
}

// Ingest runs the pipeline with the default logger
func Ingest(exp trial.Experiment, points []trial.TimePoint, liveCalculations bool) error {
	return New().Ingest(exp, points, liveCalculations)
}
