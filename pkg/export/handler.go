package export

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nicktill/impact/pkg/httpx"
	"github.com/nicktill/impact/pkg/storage"
	"github.com/nicktill/impact/pkg/trial"
)

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
	statusOf func(error) int
}

// NewHandler creates a new export/import handler
func NewHandler(store storage.Storage) *Handler {
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store),
	}
}

// SetArchiver routes imported runs through a instead of writing them
// straight to the store. statusOf maps a's errors to HTTP status codes and
// may be nil.
func (h *Handler) SetArchiver(a RunArchiver, statusOf func(error) int) {
	h.importer.SetArchiver(a)
	h.statusOf = statusOf
}

func (h *Handler) importStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.Is(err, ErrRunExists):
		return http.StatusConflict
	case h.statusOf != nil:
		return h.statusOf(err)
	}
	return http.StatusInternalServerError
}

// ParseQuery builds a storage query from URL parameters:
//   - run, analyte_type, analyte_name: repeatable filters
//   - descriptor: repeatable key:value filter
//   - min_time, max_time: hours
//   - limit: maximum readings
func ParseQuery(values url.Values) (storage.QueryRequest, error) {
	req := storage.QueryRequest{
		Runs:         values["run"],
		AnalyteNames: values["analyte_name"],
	}

	for _, t := range values["analyte_type"] {
		at := trial.AnalyteType(strings.ToLower(t))
		if !at.Valid() {
			return req, fmt.Errorf("invalid analyte_type %q", t)
		}
		req.AnalyteTypes = append(req.AnalyteTypes, at)
	}

	for _, d := range values["descriptor"] {
		k, v, ok := strings.Cut(d, ":")
		if !ok || k == "" {
			return req, fmt.Errorf("invalid descriptor %q, expected key:value", d)
		}
		if req.Descriptors == nil {
			req.Descriptors = make(map[string]string)
		}
		req.Descriptors[k] = v
	}

	var err error
	if req.MinTime, err = parseHours(values.Get("min_time")); err != nil {
		return req, fmt.Errorf("invalid min_time: %w", err)
	}
	if req.MaxTime, err = parseHours(values.Get("max_time")); err != nil {
		return req, fmt.Errorf("invalid max_time: %w", err)
	}
	if req.MinTime != nil && req.MaxTime != nil && *req.MinTime > *req.MaxTime {
		return req, fmt.Errorf("min_time must not be after max_time")
	}

	if l := values.Get("limit"); l != "" {
		if req.Limit, err = strconv.Atoi(l); err != nil || req.Limit < 0 {
			return req, fmt.Errorf("invalid limit %q", l)
		}
	}
	return req, nil
}

func parseHours(param string) (*float64, error) {
	if param == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(param, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// HandleExport handles GET /v1/export
// Query params:
//   - format: "json" or "csv" (default: json)
//   - any filter accepted by ParseQuery
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'json' or 'csv'")
		return
	}

	req, err := ParseQuery(query)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	opts := ExportOptions{Query: req, Format: format}

	if format == "json" {
		httpx.SetAttachment(w, "application/json", "readings", "json")
	} else {
		httpx.SetAttachment(w, "text/csv", "readings", "csv")
	}

	ctx := r.Context()
	var result *ExportResult
	if format == "json" {
		result, err = h.exporter.ExportToJSON(ctx, w, opts)
	} else {
		result, err = h.exporter.ExportToCSV(ctx, w, opts)
	}

	if err != nil {
		log.Printf("Export failed: %v", err)
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("export failed: %w", err))
		return
	}

	log.Printf("Exported %d readings (%s) from %s", result.ReadingsExported, format, result.TimeRange)
}

// HandleImport handles POST /v1/import
// Accepts JSON exports and archives their readings
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Content-Type must be application/json")
		return
	}

	result, err := h.importer.ImportFromJSON(r.Context(), r.Body)
	if err != nil {
		log.Printf("Import failed: %v", err)
		httpx.RespondError(w, h.importStatus(err), fmt.Errorf("import failed: %w", err))
		return
	}

	// Log warnings if there were validation errors
	if len(result.Errors) > 0 {
		log.Printf("Import completed with %d validation errors", len(result.Errors))
		for i, err := range result.Errors {
			if i < 10 { // Log first 10 errors
				log.Printf("   - %s", err)
			}
		}
		if len(result.Errors) > 10 {
			log.Printf("   ... and %d more errors", len(result.Errors)-10)
		}
	}

	log.Printf("Imported %d readings in %d runs from %s", result.ReadingsImported, len(result.Runs), result.TimeRange)
	httpx.RespondJSON(w, http.StatusOK, result)
}
