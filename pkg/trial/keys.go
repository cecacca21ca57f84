package trial

import (
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Grouping keys. Each is a deterministic function of a subset of an
// Identifier's fields and is comparable, so it can be used as a map key.
//
// ReplicateTrialKey <- SingleTrialKey <- TimePointKey: every key embeds the
// coarser one as a prefix, so equal fine keys always imply equal coarse keys.
type (
	// TimePointKey identifies one analyte time course (time excluded)
	TimePointKey string

	// SingleTrialKey identifies one physical sample (analyte excluded)
	SingleTrialKey string

	// ReplicateTrialKey identifies a replicate group (replicate number excluded)
	ReplicateTrialKey string
)

// ReplicateTrialKey returns the replicate-group key: the descriptors only
func (id Identifier) ReplicateTrialKey() ReplicateTrialKey {
	return ReplicateTrialKey(descriptorKey(id.Descriptors))
}

// SingleTrialKey returns the sample key: descriptors plus replicate number
func (id Identifier) SingleTrialKey() SingleTrialKey {
	return SingleTrialKey(string(id.ReplicateTrialKey()) + "|rep=" + strconv.Quote(id.Replicate))
}

// TimePointKey returns the time course key: sample plus analyte identity
func (id Identifier) TimePointKey() TimePointKey {
	return TimePointKey(string(id.SingleTrialKey()) + "|" +
		strconv.Quote(string(id.AnalyteType)) + ":" + strconv.Quote(id.AnalyteName))
}

// Hash returns a stable 64-bit digest of the key
func (k TimePointKey) Hash() uint64 { return xxhash.Sum64String(string(k)) }

// Hash returns a stable 64-bit digest of the key
func (k SingleTrialKey) Hash() uint64 { return xxhash.Sum64String(string(k)) }

// Hash returns a stable 64-bit digest of the key
func (k ReplicateTrialKey) Hash() uint64 { return xxhash.Sum64String(string(k)) }

// descriptorKey builds the order-independent descriptor encoding.
// Names and values are quoted so no value can forge a separator.
func descriptorKey(descriptors map[string]string) string {
	if len(descriptors) == 0 {
		return ""
	}

	names := make([]string, 0, len(descriptors))
	for k := range descriptors {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, k := range names {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte('=')
		b.WriteString(strconv.Quote(descriptors[k]))
	}
	return b.String()
}
