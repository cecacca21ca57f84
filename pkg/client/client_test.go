package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/impact/pkg/aggregate"
	"github.com/nicktill/impact/pkg/extract"
	"github.com/nicktill/impact/pkg/ingest"
	"github.com/nicktill/impact/pkg/storage/memory"
)

const titers = "sample,glucose\n,substrate\nstrain:A|rep:1|time:0,20\nstrain:A|rep:1|time:2,15\n"

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := ingest.NewHandler(memory.New(), nil, aggregate.New(aggregate.WithLogger(nil)))

	router := mux.NewRouter()
	router.HandleFunc("/v1/ingest", h.HandleIngest).Methods(http.MethodPost)
	router.HandleFunc("/v1/experiment", h.HandleExperiment).Methods(http.MethodGet)
	router.HandleFunc("/v1/runs/{run}", h.HandleDeleteRun).Methods(http.MethodDelete)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func writeSheet(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hplc.csv")
	require.NoError(t, os.WriteFile(path, []byte(titers), 0o644))
	return path
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("localhost:8080", "")
	require.Error(t, err)
}

func TestClient_IngestAndExperiment(t *testing.T) {
	srv := newServer(t)
	c, err := New(srv.URL+"/", "")
	require.NoError(t, err)
	ctx := context.Background()

	up := Upload{Format: extract.DefaultTiters, Run: "hplc-1", Sheets: map[string]string{"titers": writeSheet(t)}}
	result, err := c.Ingest(ctx, up)
	require.NoError(t, err)
	assert.Equal(t, "hplc-1", result.Run)
	assert.Equal(t, 2, result.Readings)

	summary, err := c.Experiment(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ReplicateTrials)

	_, err = c.Ingest(ctx, up)
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	require.NoError(t, c.DeleteRun(ctx, "hplc-1"))
	summary, err = c.Experiment(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.ReplicateTrials)
}

func TestClient_APIError(t *testing.T) {
	srv := newServer(t)
	c, err := New(srv.URL, "")
	require.NoError(t, err)

	_, err = c.Ingest(context.Background(), Upload{Format: "nope", Sheets: map[string]string{"titers": writeSheet(t)}})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "unknown")
	assert.False(t, IsConflict(err))

	err = c.DeleteRun(context.Background(), "missing")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestClient_UploadValidation(t *testing.T) {
	c, err := New("http://localhost:1", "")
	require.NoError(t, err)

	_, err = c.Ingest(context.Background(), Upload{Sheets: map[string]string{"titers": "x.csv"}})
	require.Error(t, err)
	_, err = c.Ingest(context.Background(), Upload{Format: extract.TecanOD})
	require.Error(t, err)
	_, err = c.Ingest(context.Background(), Upload{Format: extract.TecanOD, File: "/nonexistent.xlsx"})
	require.Error(t, err)
}
