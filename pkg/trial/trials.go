package trial

import (
	"fmt"
	"sort"
)

// SingleTrial holds every analyte time course measured on one physical sample
type SingleTrial struct {
	id       Identifier
	key      SingleTrialKey
	analytes map[AnalyteKey]AnalyteData
}

// NewSingleTrial creates an empty single trial for the sample described by id.
// Analyte fields of id are ignored.
func NewSingleTrial(id Identifier) *SingleTrial {
	shared := id.Clone()
	shared.AnalyteType = ""
	shared.AnalyteName = ""
	shared.Time = 0
	shared.HasTime = false
	return &SingleTrial{
		id:       shared,
		key:      shared.SingleTrialKey(),
		analytes: make(map[AnalyteKey]AnalyteData),
	}
}

// AddAnalyteData attaches a time course. Only used while the trial is being built.
func (s *SingleTrial) AddAnalyteData(a AnalyteData) error {
	if k := a.Identifier().SingleTrialKey(); k != s.key {
		return fmt.Errorf("%w: analyte %s belongs to %s, not %s", ErrKeyMismatch, a.AnalyteKey(), k, s.key)
	}
	ak := a.AnalyteKey()
	if _, exists := s.analytes[ak]; exists {
		return fmt.Errorf("%w: %s in %s", ErrDuplicateAnalyte, ak, s.key)
	}
	s.analytes[ak] = a
	return nil
}

// Key returns the single trial grouping key
func (s *SingleTrial) Key() SingleTrialKey { return s.key }

// Identifier returns the sample identifier (no analyte)
func (s *SingleTrial) Identifier() Identifier { return s.id.Clone() }

// Replicate returns the replicate number of the sample
func (s *SingleTrial) Replicate() string { return s.id.Replicate }

// Analyte looks up one analyte time course
func (s *SingleTrial) Analyte(k AnalyteKey) (AnalyteData, bool) {
	a, ok := s.analytes[k]
	return a, ok
}

// AnalyteData returns all time courses ordered by analyte type then name
func (s *SingleTrial) AnalyteData() []AnalyteData {
	out := make([]AnalyteData, 0, len(s.analytes))
	for _, a := range s.analytes {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type() != out[j].Type() {
			return out[i].Type() < out[j].Type()
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Len returns the number of analytes
func (s *SingleTrial) Len() int { return len(s.analytes) }

// ReplicateTrial groups single trials that are replicates of one condition
type ReplicateTrial struct {
	id         Identifier
	key        ReplicateTrialKey
	replicates []*SingleTrial
	index      map[SingleTrialKey]int
}

// NewReplicateTrial creates an empty replicate group for the condition described by id.
// Analyte and replicate fields of id are ignored.
func NewReplicateTrial(id Identifier) *ReplicateTrial {
	shared := id.Clone()
	shared.AnalyteType = ""
	shared.AnalyteName = ""
	shared.Replicate = ""
	shared.Time = 0
	shared.HasTime = false
	return &ReplicateTrial{
		id:    shared,
		key:   shared.ReplicateTrialKey(),
		index: make(map[SingleTrialKey]int),
	}
}

// AddReplicate attaches a single trial. Only used while the group is being built.
func (r *ReplicateTrial) AddReplicate(s *SingleTrial) error {
	if k := s.id.ReplicateTrialKey(); k != r.key {
		return fmt.Errorf("%w: single trial %s belongs to %s, not %s", ErrKeyMismatch, s.key, k, r.key)
	}
	if _, exists := r.index[s.key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateReplicate, s.key)
	}
	r.index[s.key] = len(r.replicates)
	r.replicates = append(r.replicates, s)
	return nil
}

// Key returns the replicate trial grouping key
func (r *ReplicateTrial) Key() ReplicateTrialKey { return r.key }

// Identifier returns the condition identifier (no analyte, no replicate)
func (r *ReplicateTrial) Identifier() Identifier { return r.id.Clone() }

// Replicates returns the single trials in the group. Order carries no meaning.
func (r *ReplicateTrial) Replicates() []*SingleTrial {
	out := make([]*SingleTrial, len(r.replicates))
	copy(out, r.replicates)
	return out
}

// Replicate looks up one single trial by key
func (r *ReplicateTrial) Replicate(k SingleTrialKey) (*SingleTrial, bool) {
	i, ok := r.index[k]
	if !ok {
		return nil, false
	}
	return r.replicates[i], true
}

// Len returns the number of replicates
func (r *ReplicateTrial) Len() int { return len(r.replicates) }

// AnalyteKeys returns the union of analytes measured across replicates, sorted
func (r *ReplicateTrial) AnalyteKeys() []AnalyteKey {
	seen := make(map[AnalyteKey]bool)
	var out []AnalyteKey
	for _, s := range r.replicates {
		for k := range s.analytes {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Experiment receives assembled replicate trials. Implementations decide
// how trials sharing a key with an already attached trial are merged.
type Experiment interface {
	AddReplicateTrial(r *ReplicateTrial) error
	Recalculate() error
}
