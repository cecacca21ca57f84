package ingest

import (
	"fmt"
	"math"

	"github.com/nicktill/impact/pkg/export"
	"github.com/nicktill/impact/pkg/trial"
)

// Upload and validation limits
const (
	// Per-upload limits
	MaxUploadBytes      = 32 << 20 // Maximum workbook upload size
	MaxMultipartMemory  = 8 << 20  // Upload bytes held in memory before spilling to disk
	MaxReadingsPerRun   = 500000   // Maximum readings one run may produce
	MaxRunNameLength    = 128      // Maximum run name length
	MaxSheetsPerRequest = 16       // Maximum separately uploaded sheets

	// Per-identifier limits
	MaxDescriptorsPerIdentifier = 20   // Maximum descriptors per identifier
	MaxDescriptorKeyLength      = 256  // Maximum descriptor key length
	MaxDescriptorValueLength    = 1024 // Maximum descriptor value length
	MaxAnalyteNameLength        = 256  // Maximum analyte name length
)

var (
	// ErrRunNameEmpty is returned when no run name could be determined
	ErrRunNameEmpty = fmt.Errorf("run name cannot be empty")

	// ErrRunNameTooLong is returned when a run name is too long
	ErrRunNameTooLong = fmt.Errorf("run name too long (max %d chars)", MaxRunNameLength)

	// ErrRunExists is returned when ingesting into a run name already archived
	ErrRunExists = export.ErrRunExists

	// ErrTooManyReadings is returned when a workbook produces too many readings
	ErrTooManyReadings = fmt.Errorf("too many readings in run (max %d)", MaxReadingsPerRun)

	// ErrTooManyDescriptors is returned when an identifier has too many descriptors
	ErrTooManyDescriptors = fmt.Errorf("too many descriptors (max %d)", MaxDescriptorsPerIdentifier)

	// ErrDescriptorKeyTooLong is returned when a descriptor key is too long
	ErrDescriptorKeyTooLong = fmt.Errorf("descriptor key too long (max %d chars)", MaxDescriptorKeyLength)

	// ErrDescriptorValueTooLong is returned when a descriptor value is too long
	ErrDescriptorValueTooLong = fmt.Errorf("descriptor value too long (max %d chars)", MaxDescriptorValueLength)

	// ErrAnalyteNameTooLong is returned when an analyte name is too long
	ErrAnalyteNameTooLong = fmt.Errorf("analyte name too long (max %d chars)", MaxAnalyteNameLength)

	// ErrAnalyteNameEmpty is returned when a reading has no analyte name
	ErrAnalyteNameEmpty = fmt.Errorf("analyte name cannot be empty")

	// ErrInvalidTime is returned for NaN or infinite reading times
	ErrInvalidTime = fmt.Errorf("reading time must be finite")
)

// ValidateRunName checks a run name against the limits
func ValidateRunName(name string) error {
	if name == "" {
		return ErrRunNameEmpty
	}
	if len(name) > MaxRunNameLength {
		return fmt.Errorf("%w: %q has %d chars", ErrRunNameTooLong, name, len(name))
	}
	return nil
}

// ValidateReading validates one extracted reading. Analyte types are checked
// later by the aggregation pipeline.
func ValidateReading(tp trial.TimePoint) error {
	id := tp.Identifier
	if id.AnalyteName == "" {
		return fmt.Errorf("%w: %s", ErrAnalyteNameEmpty, id)
	}
	if len(id.AnalyteName) > MaxAnalyteNameLength {
		return fmt.Errorf("%w: %q has %d chars", ErrAnalyteNameTooLong, id.AnalyteName, len(id.AnalyteName))
	}
	if math.IsNaN(tp.Time) || math.IsInf(tp.Time, 0) {
		return fmt.Errorf("%w: %s", ErrInvalidTime, id)
	}

	if len(id.Descriptors) > MaxDescriptorsPerIdentifier {
		return fmt.Errorf("%w: %s has %d descriptors", ErrTooManyDescriptors, id, len(id.Descriptors))
	}
	for k, v := range id.Descriptors {
		if len(k) > MaxDescriptorKeyLength {
			return fmt.Errorf("%w: key %q", ErrDescriptorKeyTooLong, k)
		}
		if len(v) > MaxDescriptorValueLength {
			return fmt.Errorf("%w: value for key %q", ErrDescriptorValueTooLong, k)
		}
	}
	return nil
}

// ValidateReadings validates a whole run's readings
func ValidateReadings(points []trial.TimePoint) error {
	if len(points) > MaxReadingsPerRun {
		return fmt.Errorf("%w: got %d", ErrTooManyReadings, len(points))
	}
	for _, tp := range points {
		if err := ValidateReading(tp); err != nil {
			return err
		}
	}
	return nil
}
