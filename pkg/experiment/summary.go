package experiment

import (
	"sort"

	"github.com/nicktill/impact/pkg/trial"
)

// Summary is a read-only view of an experiment's structure
type Summary struct {
	ReplicateTrials int                `json:"replicate_trials"`
	SingleTrials    int                `json:"single_trials"`
	AnalyteCourses  int                `json:"analyte_courses"`
	TimePoints      int                `json:"time_points"`
	Trials          []ReplicateSummary `json:"trials"`
}

// ReplicateSummary describes one replicate trial
type ReplicateSummary struct {
	Key         string            `json:"key"`
	Descriptors map[string]string `json:"descriptors,omitempty"`
	Replicates  []string          `json:"replicates"`
	Analytes    []AnalyteSummary  `json:"analytes"`
}

// AnalyteSummary describes one analyte across the replicates of a trial
type AnalyteSummary struct {
	Type       trial.AnalyteType `json:"type"`
	Name       string            `json:"name"`
	Replicates int               `json:"replicates"`
	TimePoints int               `json:"time_points"`
	FirstHour  float64           `json:"first_hour"`
	LastHour   float64           `json:"last_hour"`
}

// Summary counts the experiment's trials, courses and readings
func (e *Experiment) Summary() Summary {
	var s Summary
	for _, rt := range e.ReplicateTrials() {
		rs := Summarize(rt)
		s.ReplicateTrials++
		s.SingleTrials += len(rs.Replicates)
		for _, a := range rs.Analytes {
			s.AnalyteCourses += a.Replicates
			s.TimePoints += a.TimePoints
		}
		s.Trials = append(s.Trials, rs)
	}
	return s
}

// Summarize describes one replicate trial
func Summarize(rt *trial.ReplicateTrial) ReplicateSummary {
	rs := ReplicateSummary{
		Key:         string(rt.Key()),
		Descriptors: rt.Identifier().Descriptors,
	}

	for _, st := range rt.Replicates() {
		rs.Replicates = append(rs.Replicates, st.Replicate())
	}
	sort.Strings(rs.Replicates)

	for _, ak := range rt.AnalyteKeys() {
		as := AnalyteSummary{Type: ak.Type, Name: ak.Name}
		first := true
		for _, st := range rt.Replicates() {
			course, ok := st.Analyte(ak)
			if !ok || course.Len() == 0 {
				continue
			}
			as.Replicates++
			as.TimePoints += course.Len()

			times := course.Times()
			if first || times[0] < as.FirstHour {
				as.FirstHour = times[0]
			}
			if first || times[len(times)-1] > as.LastHour {
				as.LastHour = times[len(times)-1]
			}
			first = false
		}
		rs.Analytes = append(rs.Analytes, as)
	}
	return rs
}
