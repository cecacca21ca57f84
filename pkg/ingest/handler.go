package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/impact/pkg/aggregate"
	"github.com/nicktill/impact/pkg/config"
	"github.com/nicktill/impact/pkg/experiment"
	"github.com/nicktill/impact/pkg/export"
	"github.com/nicktill/impact/pkg/extract"
	"github.com/nicktill/impact/pkg/httpx"
	"github.com/nicktill/impact/pkg/identifier"
	"github.com/nicktill/impact/pkg/storage"
	"github.com/nicktill/impact/pkg/trial"
	"github.com/nicktill/impact/pkg/workbook"
)

// sheetFieldPrefix marks multipart fields that carry a single delimited sheet,
// e.g. "sheet:identifiers"
const sheetFieldPrefix = "sheet:"

// StorageChecker reports disk usage so uploads can be refused when full
type StorageChecker interface {
	GetUsage() (int64, error)
	GetLimit() int64
}

// Handler serves the ingest API and owns the live experiment. Every mutation
// of the experiment goes through mu.
type Handler struct {
	parser           *Parser
	store            storage.Storage
	exp              *experiment.Experiment
	hub              *EventHub
	storageChecker   StorageChecker
	liveCalculations bool
	mu               sync.Mutex
}

// NewHandler creates a new ingest handler over an archive and an experiment
func NewHandler(store storage.Storage, exp *experiment.Experiment, pipeline *aggregate.Pipeline) *Handler {
	if exp == nil {
		exp = experiment.New()
	}
	return &Handler{
		parser: NewParser(store, pipeline),
		store:  store,
		exp:    exp,
	}
}

// SetStorageChecker sets the storage checker for enforcing limits
func (h *Handler) SetStorageChecker(checker StorageChecker) {
	h.storageChecker = checker
}

// SetHub sets the hub that receives ingest events
func (h *Handler) SetHub(hub *EventHub) {
	h.hub = hub
}

// SetLiveCalculations toggles recalculation after every ingest
func (h *Handler) SetLiveCalculations(enabled bool) {
	h.liveCalculations = enabled
}

// Experiment returns the live experiment
func (h *Handler) Experiment() *experiment.Experiment {
	return h.exp
}

// Rebuild resets the experiment and replays every archived run
func (h *Handler) Rebuild(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rebuildLocked(ctx)
}

func (h *Handler) rebuildLocked(ctx context.Context) error {
	start := time.Now()
	h.exp.Reset()
	if err := h.parser.Replay(ctx, h.exp, h.liveCalculations); err != nil {
		return err
	}
	log.Printf("Experiment rebuilt with %d replicate trials in %v", len(h.exp.ReplicateTrials()), time.Since(start).Round(time.Millisecond))
	h.publish(Event{Type: EventRebuilt, ReplicateTrials: len(h.exp.ReplicateTrials())})
	return nil
}

// restoreLocked rebuilds the experiment after a rejected ingest, which may
// have attached part of its trials
func (h *Handler) restoreLocked() {
	ctx, cancel := context.WithTimeout(context.Background(), config.ReplayTimeout)
	defer cancel()
	if err := h.rebuildLocked(ctx); err != nil {
		log.Printf("Failed to rebuild experiment after rejected ingest: %v", err)
	}
}

func (h *Handler) publish(e Event) {
	if err := h.hub.Publish(e); err != nil {
		log.Printf("Failed to publish %s event: %v", e.Type, err)
	}
}

// HandleIngest handles POST /v1/ingest
// Query params:
//   - format: instrument layout (required), see GET /v1/formats
//   - id_type: identifier grammar, "traverse" (default) or "CSV"
//   - run: archive name (default: file name plus timestamp)
//
// Body is multipart: a "file" workbook and/or "sheet:<name>" delimited sheets.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if h.storageChecker != nil {
		used, err := h.storageChecker.GetUsage()
		if err == nil && h.storageChecker.GetLimit() > 0 && used >= h.storageChecker.GetLimit() {
			httpx.RespondErrorString(w, http.StatusInsufficientStorage,
				fmt.Sprintf("storage limit reached (%d of %d bytes)", used, h.storageChecker.GetLimit()))
			return
		}
	}

	query := r.URL.Query()
	format := query.Get("format")
	if _, err := extract.Lookup(format); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("%w (known: %s)", err, strings.Join(extract.Formats(), ", ")))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxMultipartMemory); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart upload: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	wb, fileName, err := workbookFromForm(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	run := query.Get("run")
	if run == "" {
		run = strings.TrimSuffix(fileName, filepath.Ext(fileName)) + "-" + time.Now().Format("20060102-150405")
	}
	if err := ValidateRunName(run); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestTimeout)
	defer cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	if exists, err := h.runExists(ctx, run); err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	} else if exists {
		httpx.RespondError(w, http.StatusConflict, fmt.Errorf("%w: %q", ErrRunExists, run))
		return
	}

	_, result, err := h.parser.ParseRawData(ctx, Request{
		Format:           format,
		IDType:           query.Get("id_type"),
		Workbook:         wb,
		Run:              run,
		Experiment:       h.exp,
		LiveCalculations: h.liveCalculations,
	})
	if err != nil {
		log.Printf("Ingest of %s failed: %v", run, err)
		h.restoreLocked()
		httpx.RespondError(w, statusFor(err), err)
		return
	}

	log.Printf("Ingested run %s: %d readings, %d new replicate trials (%s)", run, result.Readings, result.ReplicateTrials, result.Duration)
	h.publish(Event{Type: EventRunIngested, Run: run, Readings: result.Readings, ReplicateTrials: result.ReplicateTrials})

	httpx.RespondJSON(w, http.StatusCreated, result)
}

// ArchiveRuns ingests runs decoded from an export under the same rules as an
// upload: names must be new, readings must pass validation, and the
// experiment must accept every trial before anything is archived.
func (h *Handler) ArchiveRuns(ctx context.Context, runs []export.ImportedRun) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, run := range runs {
		if err := ValidateRunName(run.Name); err != nil {
			return err
		}
		if exists, err := h.runExists(ctx, run.Name); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %q", ErrRunExists, run.Name)
		}
		if err := ValidateReadings(run.Points); err != nil {
			return fmt.Errorf("run %s: %w", run.Name, err)
		}
	}

	for _, run := range runs {
		if err := h.parser.pipeline.Ingest(h.exp, run.Points, h.liveCalculations); err != nil {
			h.restoreLocked()
			return fmt.Errorf("run %s: %w", run.Name, err)
		}
	}

	for i, run := range runs {
		if err := h.store.Write(ctx, run.Name, run.Points); err != nil {
			export.DiscardRuns(h.store, runs[:i+1])
			h.restoreLocked()
			return fmt.Errorf("failed to archive run %s: %w", run.Name, err)
		}
	}

	for _, run := range runs {
		log.Printf("Imported run %s: %d readings", run.Name, len(run.Points))
		h.publish(Event{Type: EventRunIngested, Run: run.Name, Readings: len(run.Points)})
	}
	return nil
}

// StatusFor maps ingest and import errors to HTTP status codes
func StatusFor(err error) int {
	return statusFor(err)
}

// workbookFromForm assembles a workbook from the "file" field and any
// "sheet:<name>" fields
func workbookFromForm(r *http.Request) (*workbook.Workbook, string, error) {
	wb := &workbook.Workbook{}
	var fileName string

	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		loaded, err := workbook.Load(file, filepath.Ext(header.Filename))
		if err != nil {
			return nil, "", err
		}
		wb = loaded
		fileName = filepath.Base(header.Filename)
	} else if !errors.Is(err, http.ErrMissingFile) {
		return nil, "", err
	}

	sheets := 0
	for field, headers := range r.MultipartForm.File {
		name, ok := strings.CutPrefix(field, sheetFieldPrefix)
		if !ok || len(headers) == 0 {
			continue
		}
		if sheets++; sheets > MaxSheetsPerRequest {
			return nil, "", fmt.Errorf("too many sheets (max %d)", MaxSheetsPerRequest)
		}

		f, err := headers[0].Open()
		if err != nil {
			return nil, "", err
		}
		sheet, err := workbook.LoadDelimited(f, name)
		f.Close()
		if err != nil {
			return nil, "", err
		}
		wb.AddSheet(sheet)
		if fileName == "" {
			fileName = filepath.Base(headers[0].Filename)
		}
	}

	if len(wb.Sheets) == 0 {
		return nil, "", ErrNoData
	}
	return wb, fileName, nil
}

func (h *Handler) runExists(ctx context.Context, run string) (bool, error) {
	runs, err := h.store.Runs(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list runs: %w", err)
	}
	for _, r := range runs {
		if r.Name == run {
			return true, nil
		}
	}
	return false, nil
}

// statusFor maps ingest errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRunExists),
		errors.Is(err, experiment.ErrDuplicateSingleTrial),
		errors.Is(err, trial.ErrDuplicateAnalyte),
		errors.Is(err, trial.ErrDuplicateReplicate):
		return http.StatusConflict
	case errors.Is(err, extract.ErrUnknownFormat),
		errors.Is(err, extract.ErrMissingSheet),
		errors.Is(err, extract.ErrMalformedTimeValue),
		errors.Is(err, extract.ErrMalformedValue),
		errors.Is(err, extract.ErrMissingTimeRow),
		errors.Is(err, identifier.ErrMalformed),
		errors.Is(err, identifier.ErrUnknownGrammar),
		errors.Is(err, workbook.ErrUnsupportedExtension),
		errors.Is(err, trial.ErrUnknownAnalyteType),
		errors.Is(err, ErrNoData),
		errors.Is(err, ErrRunNameEmpty),
		errors.Is(err, ErrRunNameTooLong),
		errors.Is(err, ErrTooManyReadings),
		errors.Is(err, ErrAnalyteNameEmpty),
		errors.Is(err, ErrAnalyteNameTooLong),
		errors.Is(err, ErrTooManyDescriptors),
		errors.Is(err, ErrDescriptorKeyTooLong),
		errors.Is(err, ErrDescriptorValueTooLong),
		errors.Is(err, ErrInvalidTime):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// ReadingsResponse is returned by GET /v1/readings
type ReadingsResponse struct {
	Readings []storage.Reading `json:"readings"`
	Count    int               `json:"count"`
	Limit    int               `json:"limit"`
}

// HandleReadings handles GET /v1/readings with export.ParseQuery filters
func (h *Handler) HandleReadings(w http.ResponseWriter, r *http.Request) {
	req, err := export.ParseQuery(r.URL.Query())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Limit == 0 {
		req.Limit = config.ReadingsDefaultLimit
	}
	if req.Limit > config.ReadingsMaxLimit {
		req.Limit = config.ReadingsMaxLimit
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	readings, err := h.store.Query(ctx, req)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("query failed: %w", err))
		return
	}
	if readings == nil {
		readings = []storage.Reading{}
	}

	httpx.RespondJSON(w, http.StatusOK, ReadingsResponse{Readings: readings, Count: len(readings), Limit: req.Limit})
}

// HandleRuns handles GET /v1/runs
func (h *Handler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	runs, err := h.store.Runs(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if runs == nil {
		runs = []storage.RunInfo{}
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

// HandleDeleteRun handles DELETE /v1/runs/{run} and rebuilds the experiment
func (h *Handler) HandleDeleteRun(w http.ResponseWriter, r *http.Request) {
	run := mux.Vars(r)["run"]

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.Delete(r.Context(), run); err != nil {
		if errors.Is(err, storage.ErrRunNotFound) {
			httpx.RespondError(w, http.StatusNotFound, fmt.Errorf("%w: %q", err, run))
			return
		}
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if err := h.rebuildLocked(r.Context()); err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("run deleted but rebuild failed: %w", err))
		return
	}

	log.Printf("Deleted run %s", run)
	h.publish(Event{Type: EventRunDeleted, Run: run})
	httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "deleted", "run": run})
}

// summary snapshots the experiment; it waits out ingests and rebuilds in
// progress so readers never see a half-replayed experiment
func (h *Handler) summary() (experiment.Summary, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exp.Summary(), h.exp.Recalculations()
}

// HandleExperiment handles GET /v1/experiment
func (h *Handler) HandleExperiment(w http.ResponseWriter, r *http.Request) {
	summary, _ := h.summary()
	httpx.RespondJSON(w, http.StatusOK, summary)
}

// HandleExperimentExport handles GET /v1/experiment/export?format=json|csv
func (h *Handler) HandleExperimentExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	summary, _ := h.summary()

	var err error
	switch format {
	case "csv":
		httpx.SetAttachment(w, "text/csv", "experiment", "csv")
		err = export.WriteSummaryCSV(w, summary)
	case "json":
		httpx.SetAttachment(w, "application/json", "experiment", "json")
		err = export.WriteSummaryJSON(w, summary)
	default:
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'json' or 'csv'")
		return
	}
	if err != nil {
		log.Printf("Experiment export failed: %v", err)
	}
}

// StatsResponse is returned by GET /v1/stats
type StatsResponse struct {
	Storage         *storage.Stats `json:"storage"`
	ReplicateTrials int            `json:"replicate_trials"`
	SingleTrials    int            `json:"single_trials"`
	AnalyteCourses  int            `json:"analyte_courses"`
	Recalculations  int            `json:"recalculations"`
}

// Stats gathers archive and experiment statistics
func (h *Handler) Stats(ctx context.Context) (*StatsResponse, error) {
	stats, err := h.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	summary, recalculations := h.summary()
	return &StatsResponse{
		Storage:         stats,
		ReplicateTrials: summary.ReplicateTrials,
		SingleTrials:    summary.SingleTrials,
		AnalyteCourses:  summary.AnalyteCourses,
		Recalculations:  recalculations,
	}, nil
}

// HandleStats handles GET /v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.StatsTimeout)
	defer cancel()

	stats, err := h.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, stats)
}

// HandleFormats handles GET /v1/formats
func (h *Handler) HandleFormats(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, map[string][]string{"formats": extract.Formats()})
}
