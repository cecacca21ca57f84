package experiment

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nicktill/impact/pkg/trial"
)

// ErrDuplicateSingleTrial is returned when an ingested replicate trial carries
// a single trial the experiment already holds
var ErrDuplicateSingleTrial = errors.New("single trial already in experiment")

// Calculator runs a derived calculation over one replicate trial.
// Registered calculators are invoked by Recalculate.
type Calculator func(rt *trial.ReplicateTrial) error

// Experiment accumulates replicate trials, merging trials that share a
// replicate trial key. Safe for concurrent use.
type Experiment struct {
	mu             sync.RWMutex
	trials         map[trial.ReplicateTrialKey]*trial.ReplicateTrial
	calculators    []Calculator
	recalculations int
}

// New creates an empty experiment
func New(calculators ...Calculator) *Experiment {
	return &Experiment{
		trials:      make(map[trial.ReplicateTrialKey]*trial.ReplicateTrial),
		calculators: calculators,
	}
}

// AddReplicateTrial attaches a replicate trial. When a trial with the same key
// is already attached, a new merged trial replaces it and neither input is
// modified. A single trial present in both is rejected and nothing changes.
func (e *Experiment) AddReplicateTrial(rt *trial.ReplicateTrial) error {
	if rt == nil || rt.Len() == 0 {
		return fmt.Errorf("replicate trial has no single trials")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, ok := e.trials[rt.Key()]
	if !ok {
		e.trials[rt.Key()] = rt
		return nil
	}

	merged := trial.NewReplicateTrial(existing.Identifier())
	for _, src := range []*trial.ReplicateTrial{existing, rt} {
		for _, st := range src.Replicates() {
			if err := merged.AddReplicate(st); err != nil {
				if errors.Is(err, trial.ErrDuplicateReplicate) {
					return fmt.Errorf("%w: %s", ErrDuplicateSingleTrial, st.Key())
				}
				return err
			}
		}
	}
	e.trials[rt.Key()] = merged
	return nil
}

// Recalculate runs every registered calculator over every replicate trial
func (e *Experiment) Recalculate() error {
	trials := e.ReplicateTrials()

	e.mu.Lock()
	e.recalculations++
	calculators := e.calculators
	e.mu.Unlock()

	for _, rt := range trials {
		for _, calc := range calculators {
			if err := calc(rt); err != nil {
				return fmt.Errorf("calculation failed for %s: %w", rt.Key(), err)
			}
		}
	}
	return nil
}

// Recalculations returns how many times Recalculate has run
func (e *Experiment) Recalculations() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.recalculations
}

// ReplicateTrials returns all attached trials ordered by key
func (e *Experiment) ReplicateTrials() []*trial.ReplicateTrial {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*trial.ReplicateTrial, 0, len(e.trials))
	for _, rt := range e.trials {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key() < out[j].Key()
	})
	return out
}

// ReplicateTrial looks up one replicate trial
func (e *Experiment) ReplicateTrial(key trial.ReplicateTrialKey) (*trial.ReplicateTrial, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rt, ok := e.trials[key]
	return rt, ok
}

// Reset drops every attached trial
func (e *Experiment) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trials = make(map[trial.ReplicateTrialKey]*trial.ReplicateTrial)
}
