package ingest

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/impact/pkg/aggregate"
	"github.com/nicktill/impact/pkg/experiment"
	"github.com/nicktill/impact/pkg/extract"
	"github.com/nicktill/impact/pkg/storage"
	"github.com/nicktill/impact/pkg/storage/memory"
	"github.com/nicktill/impact/pkg/trial"
	"github.com/nicktill/impact/pkg/workbook"
)

func titerWorkbook(strain string) *workbook.Workbook {
	wb := &workbook.Workbook{}
	wb.AddSheet(workbook.FromStrings("titers", [][]string{
		{"sample", "glucose", "ethanol"},
		{"", "substrate", "product"},
		{"strain:" + strain + "|rep:1|time:0", "20", "0"},
		{"strain:" + strain + "|rep:1|time:4", "12", "3"},
		{"strain:" + strain + "|rep:2|time:0", "20", "0"},
		{"strain:" + strain + "|rep:2|time:4", "11", "4"},
	}))
	return wb
}

func quietParser(store storage.Storage) *Parser {
	return NewParser(store, aggregate.New(aggregate.WithLogger(nil)))
}

func TestParseRawData_NewExperiment(t *testing.T) {
	p := quietParser(nil)

	exp, result, err := p.ParseRawData(context.Background(), Request{
		Format:   extract.DefaultTiters,
		Workbook: titerWorkbook("MG1655"),
	})
	require.NoError(t, err)
	require.NotNil(t, exp)

	assert.Equal(t, 8, result.Readings)
	assert.Equal(t, 1, result.ReplicateTrials)

	rts := exp.ReplicateTrials()
	require.Len(t, rts, 1)
	assert.Equal(t, 2, rts[0].Len())
	assert.Len(t, rts[0].AnalyteKeys(), 2)
}

func TestParseRawData_ArchivesAfterIngest(t *testing.T) {
	store := memory.New()
	p := quietParser(store)
	exp := experiment.New()
	ctx := context.Background()

	_, _, err := p.ParseRawData(ctx, Request{Format: extract.DefaultTiters, Workbook: titerWorkbook("A"), Run: "first", Experiment: exp})
	require.NoError(t, err)

	// same identifiers again collide in the experiment and must not be archived
	_, _, err = p.ParseRawData(ctx, Request{Format: extract.DefaultTiters, Workbook: titerWorkbook("A"), Run: "second", Experiment: exp})
	require.ErrorIs(t, err, experiment.ErrDuplicateSingleTrial)

	runs, err := store.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "first", runs[0].Name)
	assert.Equal(t, 8, runs[0].Readings)
}

func TestParseRawData_LiveCalculations(t *testing.T) {
	calls := 0
	exp := experiment.New(func(*trial.ReplicateTrial) error {
		calls++
		return nil
	})

	_, _, err := quietParser(nil).ParseRawData(context.Background(), Request{
		Format:           extract.DefaultTiters,
		Workbook:         titerWorkbook("A"),
		Experiment:       exp,
		LiveCalculations: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, exp.Recalculations())
	assert.Equal(t, 1, calls)
}

func TestParseRawData_Errors(t *testing.T) {
	p := quietParser(nil)
	ctx := context.Background()

	_, _, err := p.ParseRawData(ctx, Request{Format: "unknown", Workbook: titerWorkbook("A")})
	require.ErrorIs(t, err, extract.ErrUnknownFormat)

	_, _, err = p.ParseRawData(ctx, Request{Format: extract.DefaultTiters})
	require.ErrorIs(t, err, ErrNoData)

	_, _, err = p.ParseRawData(ctx, Request{Format: extract.DefaultTiters, IDType: "yaml", Workbook: titerWorkbook("A")})
	require.Error(t, err)

	wb := &workbook.Workbook{}
	wb.AddSheet(workbook.FromStrings("titers", [][]string{
		{"sample", "glucose"},
		{"", "metabolite"},
		{"strain:A|rep:1|time:0", "1"},
	}))
	_, _, err = p.ParseRawData(ctx, Request{Format: extract.DefaultTiters, Workbook: wb})
	require.ErrorIs(t, err, trial.ErrUnknownAnalyteType)

	// A read time stored as a date reaches the caller unchanged
	plate := &workbook.Workbook{}
	plate.AddSheet(workbook.FromStrings("identifiers", [][]string{{"strain:A|rep:1"}}))
	data := workbook.FromStrings("data", [][]string{{"##BLOCKS= 1"}, {"Plate:"}, {"Time", "Temp"}, {"", "", "0.1"}})
	data.Rows[3][0] = workbook.DateCell("1899-12-30 00:05:00")
	plate.AddSheet(data)
	_, _, err = p.ParseRawData(ctx, Request{Format: extract.SpectromaxOD, Workbook: plate})
	require.ErrorIs(t, err, extract.ErrMalformedTimeValue)
	assert.Equal(t, http.StatusBadRequest, statusFor(err))

	untimed := &workbook.Workbook{}
	untimed.AddSheet(workbook.FromStrings("titers", [][]string{
		{"sample", "glucose"},
		{"", "substrate"},
		{"strain:A|rep:1", "1"},
	}))
	_, _, err = p.ParseRawData(ctx, Request{Format: extract.DefaultTiters, Workbook: untimed})
	require.ErrorIs(t, err, extract.ErrMalformedTimeValue)
	assert.Equal(t, http.StatusBadRequest, statusFor(err))
}

func TestParseRawData_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "titers.csv")
	content := strings.Join([]string{
		"sample,glucose",
		",substrate",
		"strain:A|rep:1|time:0,20",
		"strain:A|rep:1|time:2,15",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// delimited files load as a single sheet named "data"
	_, _, err := quietParser(nil).ParseRawData(context.Background(), Request{Format: extract.DefaultTiters, FileName: path})
	require.ErrorIs(t, err, extract.ErrMissingSheet)
}

func TestReplay(t *testing.T) {
	store := memory.New()
	p := quietParser(store)
	ctx := context.Background()
	exp := experiment.New()

	for _, run := range []string{"a", "b"} {
		_, _, err := p.ParseRawData(ctx, Request{Format: extract.DefaultTiters, Workbook: titerWorkbook(run), Run: run, Experiment: exp})
		require.NoError(t, err)
	}

	rebuilt := experiment.New()
	require.NoError(t, p.Replay(ctx, rebuilt, false))
	assert.Equal(t, exp.Summary(), rebuilt.Summary())

	require.NoError(t, store.Delete(ctx, "a"))
	rebuilt.Reset()
	require.NoError(t, p.Replay(ctx, rebuilt, false))
	assert.Len(t, rebuilt.ReplicateTrials(), 1)
}

func TestValidateReading(t *testing.T) {
	id := trial.Identifier{AnalyteType: trial.BiomassType, AnalyteName: "OD600", Replicate: "1"}
	require.NoError(t, ValidateReading(trial.NewTimePoint(id, 1, 0.1)))

	noName := id
	noName.AnalyteName = ""
	require.ErrorIs(t, ValidateReading(trial.NewTimePoint(noName, 1, 0.1)), ErrAnalyteNameEmpty)

	long := id
	long.Descriptors = map[string]string{"strain": strings.Repeat("x", MaxDescriptorValueLength+1)}
	require.ErrorIs(t, ValidateReading(trial.NewTimePoint(long, 1, 0.1)), ErrDescriptorValueTooLong)

	require.ErrorIs(t, ValidateRunName(""), ErrRunNameEmpty)
	require.ErrorIs(t, ValidateRunName(strings.Repeat("r", MaxRunNameLength+1)), ErrRunNameTooLong)
}
