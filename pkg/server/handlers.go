package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/nicktill/impact/pkg/export"
	"github.com/nicktill/impact/pkg/httpx"
	"github.com/nicktill/impact/pkg/ingest"
	"github.com/nicktill/impact/pkg/server/monitor"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string               `json:"status"`
	Version string               `json:"version"`
	Uptime  string               `json:"uptime"`
	Tasks   []monitor.TaskStatus `json:"tasks"`
}

// handleHealth reports degraded when any background task is unhealthy.
func handleHealth(tasks ...*monitor.TaskMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:  "healthy",
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Tasks:   make([]monitor.TaskStatus, 0, len(tasks)),
		}
		statusCode := http.StatusOK

		for _, task := range tasks {
			status := task.Status()
			if !status.Healthy {
				response.Status = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
			response.Tasks = append(response.Tasks, status)
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(sm *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usedBytes, err := sm.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		httpx.RespondJSON(w, http.StatusOK, StorageUsage{
			UsedBytes: usedBytes,
			MaxBytes:  sm.GetLimit(),
		})
	}
}

// invalidateUsage drops the cached disk usage after the wrapped handler runs.
func invalidateUsage(sm *monitor.StorageMonitor, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		next(w, r)
		sm.Invalidate()
	}
}

// Routes bundles what SetupRoutes mounts.
type Routes struct {
	Ingest  *ingest.Handler
	Export  *export.Handler
	Hub     *ingest.EventHub
	Storage *monitor.StorageMonitor
	Tasks   []*monitor.TaskMonitor
	Port    string
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, routes Routes) {
	router.Use(corsMiddleware(routes.Port))

	api := router.PathPrefix("/v1").Subrouter()

	// Raw data import and the run archive
	api.HandleFunc("/ingest", invalidateUsage(routes.Storage, routes.Ingest.HandleIngest)).Methods("POST")
	api.HandleFunc("/formats", routes.Ingest.HandleFormats).Methods("GET")
	api.HandleFunc("/readings", routes.Ingest.HandleReadings).Methods("GET")
	api.HandleFunc("/runs", routes.Ingest.HandleRuns).Methods("GET")
	api.HandleFunc("/runs/{run}", invalidateUsage(routes.Storage, routes.Ingest.HandleDeleteRun)).Methods("DELETE")

	// Experiment views
	api.HandleFunc("/experiment", routes.Ingest.HandleExperiment).Methods("GET")
	api.HandleFunc("/experiment/export", routes.Ingest.HandleExperimentExport).Methods("GET")

	// Metadata and stats
	api.HandleFunc("/stats", routes.Ingest.HandleStats).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(routes.Storage)).Methods("GET")
	api.HandleFunc("/health", handleHealth(routes.Tasks...)).Methods("GET")

	// WebSocket for ingest events
	api.HandleFunc("/ws", routes.Ingest.HandleWebSocket(routes.Hub)).Methods("GET")

	// Export/import
	api.HandleFunc("/export", routes.Export.HandleExport).Methods("GET")
	api.HandleFunc("/import", invalidateUsage(routes.Storage, routes.Export.HandleImport)).Methods("POST")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
