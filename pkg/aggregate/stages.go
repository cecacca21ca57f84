package aggregate

import (
	"fmt"

	"github.com/nicktill/impact/pkg/trial"
)

// GroupTimePoints folds readings sharing a time point key into one analyte
// time course. The concrete variant comes from the first reading's analyte
// type; an unrecognised type fails the whole stage.
// Output order is the order in which each key was first seen.
func GroupTimePoints(points []trial.TimePoint) ([]trial.AnalyteData, error) {
	courses := make(map[trial.TimePointKey]trial.AnalyteData)
	var order []trial.TimePointKey

	for _, tp := range points {
		key := tp.Key()

		course, exists := courses[key]
		if !exists {
			var err error
			course, err = trial.NewAnalyteData(tp.Identifier)
			if err != nil {
				return nil, err
			}
			courses[key] = course
			order = append(order, key)
		}

		if err := course.AddTimePoint(tp); err != nil {
			return nil, err
		}
	}

	out := make([]trial.AnalyteData, 0, len(order))
	for _, key := range order {
		out = append(out, courses[key])
	}
	return out, nil
}

// GroupAnalyteData folds time courses sharing a single trial key into one
// single trial, in one pass.
func GroupAnalyteData(analytes []trial.AnalyteData) ([]*trial.SingleTrial, error) {
	groups := make(map[trial.SingleTrialKey][]trial.AnalyteData)
	var order []trial.SingleTrialKey

	for _, a := range analytes {
		key := a.Identifier().SingleTrialKey()
		if _, exists := groups[key]; !exists {
			order = append(order, key)
		}
		groups[key] = append(groups[key], a)
	}

	out := make([]*trial.SingleTrial, 0, len(order))
	for _, key := range order {
		members := groups[key]
		if len(members) == 0 {
			return nil, fmt.Errorf("%w: single trial %s", ErrEmptyGroup, key)
		}

		st := trial.NewSingleTrial(members[0].Identifier())
		for _, a := range members {
			if err := st.AddAnalyteData(a); err != nil {
				return nil, err
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// GroupSingleTrials folds single trials sharing a replicate trial key into one
// replicate trial, in one pass. Each run produces fresh replicate trials;
// merging with trials already held elsewhere is the caller's business.
func GroupSingleTrials(singles []*trial.SingleTrial) ([]*trial.ReplicateTrial, error) {
	groups := make(map[trial.ReplicateTrialKey][]*trial.SingleTrial)
	var order []trial.ReplicateTrialKey

	for _, st := range singles {
		key := st.Identifier().ReplicateTrialKey()
		if _, exists := groups[key]; !exists {
			order = append(order, key)
		}
		groups[key] = append(groups[key], st)
	}

	out := make([]*trial.ReplicateTrial, 0, len(order))
	for _, key := range order {
		members := groups[key]
		if len(members) == 0 {
			return nil, fmt.Errorf("%w: replicate trial %s", ErrEmptyGroup, key)
		}

		rt := trial.NewReplicateTrial(members[0].Identifier())
		for _, st := range members {
			if err := rt.AddReplicate(st); err != nil {
				return nil, err
			}
		}
		out = append(out, rt)
	}
	return out, nil
}
