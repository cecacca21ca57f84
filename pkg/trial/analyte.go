package trial

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownAnalyteType is returned when an identifier's analyte type is
	// not one of biomass, substrate, product or reporter
	ErrUnknownAnalyteType = errors.New("unknown analyte type")

	// ErrKeyMismatch is returned when an item is added to an aggregate whose
	// grouping key it does not share
	ErrKeyMismatch = errors.New("grouping key mismatch")

	// ErrDuplicateAnalyte is returned when a single trial already holds the analyte
	ErrDuplicateAnalyte = errors.New("analyte already present in single trial")

	// ErrDuplicateReplicate is returned when a replicate trial already holds the single trial
	ErrDuplicateReplicate = errors.New("single trial already present in replicate trial")
)

// AnalyteKey identifies an analyte within a single trial
type AnalyteKey struct {
	Type AnalyteType `json:"type"`
	Name string      `json:"name"`
}

func (k AnalyteKey) String() string {
	return string(k.Type) + ":" + k.Name
}

// AnalyteData is a time-ordered course of readings for one analyte of one
// sample. The concrete type is one of *Biomass, *Substrate, *Product or
// *Reporter; the set is closed.
type AnalyteData interface {
	// Type returns the variant tag
	Type() AnalyteType

	// Name returns the analyte name, e.g. OD600 or glucose
	Name() string

	// AnalyteKey returns the (type, name) pair
	AnalyteKey() AnalyteKey

	// Identifier returns the shared identifier of every point (time cleared)
	Identifier() Identifier

	// Key returns the time course grouping key
	Key() TimePointKey

	// TimePoints returns the readings ordered by time
	TimePoints() []TimePoint

	// Times returns reading times in hours, ordered
	Times() []float64

	// Values returns reading values in time order
	Values() []float64

	// Len returns the number of readings
	Len() int

	// AddTimePoint inserts a reading in time order. Only used while the
	// course is being built.
	AddTimePoint(tp TimePoint) error

	sealed()
}

// Biomass is a cell density time course (OD600 and similar)
type Biomass struct{ timeCourse }

// Substrate is a consumed-compound time course
type Substrate struct{ timeCourse }

// Product is a produced-compound time course
type Product struct{ timeCourse }

// Reporter is a reporter signal time course (fluorescence and similar)
type Reporter struct{ timeCourse }

func (*Biomass) Type() AnalyteType   { return BiomassType }
func (*Substrate) Type() AnalyteType { return SubstrateType }
func (*Product) Type() AnalyteType   { return ProductType }
func (*Reporter) Type() AnalyteType  { return ReporterType }

// NewAnalyteData creates an empty time course of the variant selected by
// id.AnalyteType. This is the only place analyte types are dispatched.
func NewAnalyteData(id Identifier) (AnalyteData, error) {
	tc := newTimeCourse(id)
	switch id.AnalyteType {
	case BiomassType:
		return &Biomass{tc}, nil
	case SubstrateType:
		return &Substrate{tc}, nil
	case ProductType:
		return &Product{tc}, nil
	case ReporterType:
		return &Reporter{tc}, nil
	default:
		return nil, fmt.Errorf("%w: %q (analyte %q)", ErrUnknownAnalyteType, id.AnalyteType, id.AnalyteName)
	}
}

type timeCourse struct {
	id     Identifier
	key    TimePointKey
	points []TimePoint
}

func newTimeCourse(id Identifier) timeCourse {
	shared := id.Clone()
	shared.Time = 0
	shared.HasTime = false
	return timeCourse{
		id:  shared,
		key: shared.TimePointKey(),
	}
}

func (tc *timeCourse) sealed() {}

func (tc *timeCourse) Name() string { return tc.id.AnalyteName }

func (tc *timeCourse) AnalyteKey() AnalyteKey {
	return AnalyteKey{Type: tc.id.AnalyteType, Name: tc.id.AnalyteName}
}

func (tc *timeCourse) Identifier() Identifier { return tc.id.Clone() }

func (tc *timeCourse) Key() TimePointKey { return tc.key }

func (tc *timeCourse) Len() int { return len(tc.points) }

func (tc *timeCourse) TimePoints() []TimePoint {
	out := make([]TimePoint, len(tc.points))
	copy(out, tc.points)
	return out
}

func (tc *timeCourse) Times() []float64 {
	out := make([]float64, len(tc.points))
	for i, p := range tc.points {
		out[i] = p.Time
	}
	return out
}

func (tc *timeCourse) Values() []float64 {
	out := make([]float64, len(tc.points))
	for i, p := range tc.points {
		out[i] = p.Value
	}
	return out
}

func (tc *timeCourse) AddTimePoint(tp TimePoint) error {
	if k := tp.Key(); k != tc.key {
		return fmt.Errorf("%w: time point %s does not belong to %s", ErrKeyMismatch, k, tc.key)
	}

	// Insert after any reading with an equal time so arrival order is kept for ties
	i := sort.Search(len(tc.points), func(i int) bool {
		return tc.points[i].Time > tp.Time
	})
	tc.points = append(tc.points, TimePoint{})
	copy(tc.points[i+1:], tc.points[i:])
	tc.points[i] = tp
	return nil
}
