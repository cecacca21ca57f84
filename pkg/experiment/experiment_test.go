package experiment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/impact/pkg/trial"
)

func replicateTrial(t *testing.T, strain string, reps ...string) *trial.ReplicateTrial {
	t.Helper()
	var rt *trial.ReplicateTrial
	for _, rep := range reps {
		id := trial.Identifier{
			AnalyteType: trial.BiomassType,
			AnalyteName: "OD600",
			Replicate:   rep,
			Descriptors: map[string]string{"strain": strain},
		}
		course, err := trial.NewAnalyteData(id)
		require.NoError(t, err)
		require.NoError(t, course.AddTimePoint(trial.NewTimePoint(id, 0, 0.05)))
		require.NoError(t, course.AddTimePoint(trial.NewTimePoint(id, 2, 0.4)))

		st := trial.NewSingleTrial(id)
		require.NoError(t, st.AddAnalyteData(course))
		if rt == nil {
			rt = trial.NewReplicateTrial(id)
		}
		require.NoError(t, rt.AddReplicate(st))
	}
	return rt
}

func TestAddReplicateTrial_MergesByKey(t *testing.T) {
	exp := New()
	first := replicateTrial(t, "MG1655", "1", "2")
	second := replicateTrial(t, "MG1655", "3")

	require.NoError(t, exp.AddReplicateTrial(first))
	require.NoError(t, exp.AddReplicateTrial(second))
	require.NoError(t, exp.AddReplicateTrial(replicateTrial(t, "W3110", "1")))

	trials := exp.ReplicateTrials()
	require.Len(t, trials, 2)

	merged, ok := exp.ReplicateTrial(first.Key())
	require.True(t, ok)
	assert.Equal(t, 3, merged.Len())

	// inputs are left untouched
	assert.Equal(t, 2, first.Len())
	assert.Equal(t, 1, second.Len())
}

func TestAddReplicateTrial_DuplicateSingleTrial(t *testing.T) {
	exp := New()
	require.NoError(t, exp.AddReplicateTrial(replicateTrial(t, "MG1655", "1", "2")))

	err := exp.AddReplicateTrial(replicateTrial(t, "MG1655", "2", "3"))
	require.ErrorIs(t, err, ErrDuplicateSingleTrial)

	rt, _ := exp.ReplicateTrial(replicateTrial(t, "MG1655", "1").Key())
	assert.Equal(t, 2, rt.Len(), "failed merge leaves the experiment unchanged")
}

func TestAddReplicateTrial_RejectsEmpty(t *testing.T) {
	exp := New()
	require.Error(t, exp.AddReplicateTrial(nil))
	require.Error(t, exp.AddReplicateTrial(trial.NewReplicateTrial(trial.Identifier{})))
}

func TestRecalculate_RunsCalculators(t *testing.T) {
	var seen []trial.ReplicateTrialKey
	exp := New(func(rt *trial.ReplicateTrial) error {
		seen = append(seen, rt.Key())
		return nil
	})
	require.NoError(t, exp.AddReplicateTrial(replicateTrial(t, "B", "1")))
	require.NoError(t, exp.AddReplicateTrial(replicateTrial(t, "A", "1")))

	require.NoError(t, exp.Recalculate())
	assert.Len(t, seen, 2)
	assert.Less(t, string(seen[0]), string(seen[1]))
	assert.Equal(t, 1, exp.Recalculations())

	boom := errors.New("boom")
	failing := New(func(*trial.ReplicateTrial) error { return boom })
	require.NoError(t, failing.AddReplicateTrial(replicateTrial(t, "A", "1")))
	require.ErrorIs(t, failing.Recalculate(), boom)
}

func TestSummary(t *testing.T) {
	exp := New()
	require.NoError(t, exp.AddReplicateTrial(replicateTrial(t, "MG1655", "2", "1")))
	require.NoError(t, exp.AddReplicateTrial(replicateTrial(t, "W3110", "1")))

	s := exp.Summary()
	assert.Equal(t, 2, s.ReplicateTrials)
	assert.Equal(t, 3, s.SingleTrials)
	assert.Equal(t, 3, s.AnalyteCourses)
	assert.Equal(t, 6, s.TimePoints)

	require.Len(t, s.Trials, 2)
	mg := s.Trials[0]
	assert.Equal(t, []string{"1", "2"}, mg.Replicates)
	require.Len(t, mg.Analytes, 1)
	assert.Equal(t, 2.0, mg.Analytes[0].LastHour)

	exp.Reset()
	assert.Empty(t, exp.ReplicateTrials())
}
