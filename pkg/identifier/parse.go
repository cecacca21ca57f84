package identifier

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nicktill/impact/pkg/trial"
)

// Grammar selects how identifier strings are written
type Grammar string

const (
	// Traverse is key:value pairs separated by pipes, e.g. strain:MG1655|media:M9|rep:1
	Traverse Grammar = "traverse"

	// CSV is the legacy positional form: strain,id1,id2,replicate[,time]
	CSV Grammar = "CSV"
)

// Reserved traverse keys; every other key becomes a descriptor
const (
	keyReplicate   = "rep"
	keyReplicate2  = "replicate"
	keyTime        = "time"
	keyAnalyteType = "analyte_type"
	keyAnalyteName = "analyte_name"
)

var csvFields = []string{"strain", "id1", "id2"}

var (
	// ErrEmpty is returned for blank identifier strings
	ErrEmpty = errors.New("empty identifier")

	// ErrMalformed is returned when an identifier string does not follow its grammar
	ErrMalformed = errors.New("malformed identifier")

	// ErrUnknownGrammar is returned for unrecognised grammar names
	ErrUnknownGrammar = errors.New("unknown identifier grammar")
)

// ParseGrammar resolves a grammar name, case-insensitively
func ParseGrammar(name string) (Grammar, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "traverse", "":
		return Traverse, nil
	case "csv":
		return CSV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownGrammar, name)
}

// IsBlank reports whether a cell value means "no identifier here"
func IsBlank(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || s == "0"
}

// Parse parses an identifier string. Analyte fields are left empty unless the
// string sets them; extractors fill them in from the instrument layout.
func Parse(s string, g Grammar) (trial.Identifier, error) {
	if IsBlank(s) {
		return trial.Identifier{}, ErrEmpty
	}
	switch g {
	case Traverse:
		return parseTraverse(s)
	case CSV:
		return parseCSV(s)
	}
	return trial.Identifier{}, fmt.Errorf("%w: %q", ErrUnknownGrammar, g)
}

func parseTraverse(s string) (trial.Identifier, error) {
	var id trial.Identifier
	seen := make(map[string]bool)

	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		idx := strings.IndexByte(part, ':')
		if idx <= 0 {
			return trial.Identifier{}, fmt.Errorf("%w: %q has no key:value pair in %q", ErrMalformed, part, s)
		}
		key := strings.TrimSpace(part[:idx])
		value := strings.TrimSpace(part[idx+1:])

		name := strings.ToLower(key)
		if name == keyReplicate2 {
			name = keyReplicate
		}
		if seen[name] {
			return trial.Identifier{}, fmt.Errorf("%w: key %q repeated in %q", ErrMalformed, key, s)
		}
		seen[name] = true

		switch name {
		case keyReplicate:
			id.Replicate = value
		case keyTime:
			hours, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return trial.Identifier{}, fmt.Errorf("%w: time %q in %q", ErrMalformed, value, s)
			}
			id.Time, id.HasTime = hours, true
		case keyAnalyteType:
			id.AnalyteType = trial.AnalyteType(strings.ToLower(value))
		case keyAnalyteName:
			id.AnalyteName = value
		default:
			if id.Descriptors == nil {
				id.Descriptors = make(map[string]string)
			}
			id.Descriptors[key] = value
		}
	}

	if len(seen) == 0 {
		return trial.Identifier{}, ErrEmpty
	}
	return id, nil
}

func parseCSV(s string) (trial.Identifier, error) {
	fields := strings.Split(s, ",")
	if len(fields) > len(csvFields)+2 {
		return trial.Identifier{}, fmt.Errorf("%w: %d fields in %q (max %d)", ErrMalformed, len(fields), s, len(csvFields)+2)
	}

	var id trial.Identifier
	for i, f := range fields {
		f = strings.TrimSpace(f)
		switch {
		case i < len(csvFields):
			if f != "" {
				if id.Descriptors == nil {
					id.Descriptors = make(map[string]string)
				}
				id.Descriptors[csvFields[i]] = f
			}
		case i == len(csvFields):
			id.Replicate = f
		default:
			if f == "" {
				continue
			}
			hours, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return trial.Identifier{}, fmt.Errorf("%w: time %q in %q", ErrMalformed, f, s)
			}
			id.Time, id.HasTime = hours, true
		}
	}
	return id, nil
}

// Format renders an identifier in the traverse grammar with descriptors in
// sorted order. For descriptor values without pipes, Parse(Format(id), Traverse)
// yields an equal identifier.
func Format(id trial.Identifier) string {
	var parts []string
	for _, k := range sortedKeys(id.Descriptors) {
		parts = append(parts, k+":"+id.Descriptors[k])
	}
	if id.Replicate != "" {
		parts = append(parts, keyReplicate+":"+id.Replicate)
	}
	if id.HasTime {
		parts = append(parts, keyTime+":"+strconv.FormatFloat(id.Time, 'g', -1, 64))
	}
	if id.AnalyteType != "" {
		parts = append(parts, keyAnalyteType+":"+string(id.AnalyteType))
	}
	if id.AnalyteName != "" {
		parts = append(parts, keyAnalyteName+":"+id.AnalyteName)
	}
	return strings.Join(parts, "|")
}
