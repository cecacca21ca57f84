package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/impact/pkg/aggregate"
	"github.com/nicktill/impact/pkg/experiment"
	"github.com/nicktill/impact/pkg/extract"
	"github.com/nicktill/impact/pkg/ingest"
	"github.com/nicktill/impact/pkg/storage/memory"
)

const titers = `sample,glucose,ethanol
,substrate,product
strain:MG1655|media:M9|rep:1|time:0,20,0
strain:MG1655|media:M9|rep:1|time:6,9.5,4.1
strain:MG1655|media:M9|rep:2|time:0,20,0
strain:MG1655|media:M9|rep:2|time:6,10.2,nan
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRun_Usage(t *testing.T) {
	var out bytes.Buffer
	require.Error(t, run(nil, &out))
	assert.Contains(t, out.String(), "usage: impact")

	out.Reset()
	require.NoError(t, run([]string{"help"}, &out))

	require.Error(t, run([]string{"bogus"}, &out))
}

func TestParse_TextSummary(t *testing.T) {
	path := writeFile(t, "hplc.csv", titers)

	var out bytes.Buffer
	err := run([]string{"parse", "-quiet", "-format", extract.DefaultTiters, "-sheet", "titers=" + path}, &out)
	require.NoError(t, err)

	text := out.String()
	assert.True(t, strings.HasPrefix(text, "1 replicate trials, 2 single trials, 4 analyte courses, 8 time points"), text)
	assert.Contains(t, text, "glucose")
	assert.Contains(t, text, "ethanol")
}

func TestParse_JSONSummary(t *testing.T) {
	path := writeFile(t, "hplc.csv", titers)

	var out bytes.Buffer
	err := run([]string{"parse", "-quiet", "-format", extract.DefaultTiters, "-sheet", "titers=" + path, "-output", "json"}, &out)
	require.NoError(t, err)

	var summary experiment.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	require.Len(t, summary.Trials, 1)
	assert.Equal(t, map[string]string{"media": "M9", "strain": "MG1655"}, summary.Trials[0].Descriptors)
	assert.Equal(t, []string{"1", "2"}, summary.Trials[0].Replicates)
}

func TestParse_Errors(t *testing.T) {
	var out bytes.Buffer

	require.Error(t, run([]string{"parse", "-file", "x.xlsx"}, &out), "missing format")
	require.Error(t, run([]string{"parse", "-format", extract.TecanOD}, &out), "missing file")
	require.Error(t, run([]string{"parse", "-format", extract.TecanOD, "-sheet", "nopath"}, &out))
	require.Error(t, run([]string{"parse", "-format", extract.TecanOD, "-file", "/nonexistent/run.xlsx"}, &out))

	// A delimited -file loads as sheet "data", which the titer layout does not read
	path := writeFile(t, "hplc.csv", titers)
	err := run([]string{"parse", "-quiet", "-format", extract.DefaultTiters, "-file", path}, &out)
	require.ErrorIs(t, err, extract.ErrMissingSheet)

	err = run([]string{"parse", "-quiet", "-format", extract.DefaultTiters, "-sheet", "titers=" + path, "-output", "yaml"}, &out)
	require.Error(t, err)
}

func TestPush(t *testing.T) {
	h := ingest.NewHandler(memory.New(), nil, aggregate.New(aggregate.WithLogger(nil)))
	srv := httptest.NewServer(http.HandlerFunc(h.HandleIngest))
	defer srv.Close()

	path := writeFile(t, "hplc.csv", titers)
	args := []string{"push", "-server", srv.URL, "-format", extract.DefaultTiters, "-run", "hplc-1", "-sheet", "titers=" + path}

	var out bytes.Buffer
	require.NoError(t, run(args, &out))
	assert.Contains(t, out.String(), "run hplc-1: 8 readings, 1 new replicate trials")

	err := run(args, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing was archived")

	require.Error(t, run([]string{"push", "-server", srv.URL}, &out), "missing format")
}
