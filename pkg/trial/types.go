package trial

import (
	"encoding/json"
	"fmt"
	"math"
)

// AnalyteType is the measured quantity class of a reading
type AnalyteType string

const (
	BiomassType   AnalyteType = "biomass"
	SubstrateType AnalyteType = "substrate"
	ProductType   AnalyteType = "product"
	ReporterType  AnalyteType = "reporter"
)

// AnalyteTypes lists every recognised analyte type
var AnalyteTypes = []AnalyteType{BiomassType, SubstrateType, ProductType, ReporterType}

// Valid reports whether t is one of the four recognised tags
func (t AnalyteType) Valid() bool {
	switch t {
	case BiomassType, SubstrateType, ProductType, ReporterType:
		return true
	}
	return false
}

// Identifier describes the provenance of one reading
type Identifier struct {
	AnalyteType AnalyteType `json:"analyte_type"`
	AnalyteName string      `json:"analyte_name"`

	// Replicate number within a condition. Dropped by ReplicateTrialKey.
	Replicate string `json:"replicate,omitempty"`

	// Descriptors are format specific (strain, plasmid, media, ...) and opaque here
	Descriptors map[string]string `json:"descriptors,omitempty"`

	// Sample time in hours, set by identifier grammars that carry one (titer tables)
	Time    float64 `json:"time,omitempty"`
	HasTime bool    `json:"has_time,omitempty"`
}

// WithAnalyte returns a copy of the identifier tagged with the given analyte
func (id Identifier) WithAnalyte(t AnalyteType, name string) Identifier {
	out := id.Clone()
	out.AnalyteType = t
	out.AnalyteName = name
	return out
}

// Clone returns a deep copy, so descriptor maps are never shared between readings
func (id Identifier) Clone() Identifier {
	out := id
	if id.Descriptors != nil {
		out.Descriptors = make(map[string]string, len(id.Descriptors))
		for k, v := range id.Descriptors {
			out.Descriptors[k] = v
		}
	}
	return out
}

// String renders the identifier in a stable, human readable form
func (id Identifier) String() string {
	s := string(id.SingleTrialKey())
	if id.AnalyteType != "" || id.AnalyteName != "" {
		s += fmt.Sprintf(" [%s:%s]", id.AnalyteType, id.AnalyteName)
	}
	return s
}

// TimePoint is a single reading: one value for one identifier at one time
type TimePoint struct {
	Identifier Identifier
	Time       float64 // hours
	Value      float64 // NaN when the instrument reported no value
}

// NewTimePoint creates a reading. The identifier is copied.
func NewTimePoint(id Identifier, hours, value float64) TimePoint {
	return TimePoint{
		Identifier: id.Clone(),
		Time:       hours,
		Value:      value,
	}
}

// Key returns the time course this reading belongs to
func (tp TimePoint) Key() TimePointKey {
	return tp.Identifier.TimePointKey()
}

type timePointJSON struct {
	Identifier Identifier `json:"identifier"`
	Time       float64    `json:"time"`
	Value      *float64   `json:"value"`
}

// MarshalJSON encodes NaN values as null since JSON has no NaN
func (tp TimePoint) MarshalJSON() ([]byte, error) {
	out := timePointJSON{Identifier: tp.Identifier, Time: tp.Time}
	if !math.IsNaN(tp.Value) {
		v := tp.Value
		out.Value = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a null value back to NaN
func (tp *TimePoint) UnmarshalJSON(data []byte) error {
	var in timePointJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	tp.Identifier = in.Identifier
	tp.Time = in.Time
	if in.Value == nil {
		tp.Value = math.NaN()
	} else {
		tp.Value = *in.Value
	}
	return nil
}
