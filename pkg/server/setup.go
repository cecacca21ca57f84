package server

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nicktill/impact/pkg/aggregate"
	"github.com/nicktill/impact/pkg/config"
	"github.com/nicktill/impact/pkg/experiment"
	"github.com/nicktill/impact/pkg/export"
	"github.com/nicktill/impact/pkg/ingest"
	"github.com/nicktill/impact/pkg/server/monitor"
	"github.com/nicktill/impact/pkg/storage"
	"github.com/nicktill/impact/pkg/storage/badger"
	"github.com/nicktill/impact/pkg/storage/memory"
)

// Config holds server configuration.
type Config struct {
	MaxStorageGB     int64
	MaxMemoryMB      int64
	DataDir          string
	Port             string
	LiveCalculations bool

	// InMemory keeps the run archive in memory; nothing survives a restart
	InMemory bool
}

// MaxStorageBytes returns the storage limit in bytes.
func (c Config) MaxStorageBytes() int64 {
	return c.MaxStorageGB * 1024 * 1024 * 1024
}

// LoadConfig loads configuration from environment variables and creates the
// data directory.
func LoadConfig() (Config, error) {
	cfg := Config{
		MaxStorageGB:     getEnvInt64("IMPACT_MAX_STORAGE_GB", config.DefaultMaxStorageGB),
		MaxMemoryMB:      getEnvInt64("IMPACT_MAX_MEMORY_MB", config.DefaultMaxMemoryMB),
		DataDir:          getEnvString("IMPACT_DATA_DIR", config.DefaultDataDir),
		Port:             getEnvString("PORT", config.DefaultPort),
		LiveCalculations: getEnvBool("IMPACT_LIVE_CALCULATIONS", false),
		InMemory:         getEnvBool("IMPACT_IN_MEMORY", false),
	}

	if !cfg.InMemory {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return cfg, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return cfg, nil
}

// InitializeStorage opens the run archive.
func InitializeStorage(cfg Config) (storage.Storage, error) {
	if cfg.InMemory {
		log.Println("Using in-memory run archive (nothing is persisted)")
		return memory.New(), nil
	}

	log.Printf("Initializing BadgerDB run archive in %s...", cfg.DataDir)
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Println("BadgerDB run archive initialized successfully")
	return store, nil
}

// InitializeHandlers creates and wires all request handlers.
func InitializeHandlers(
	cfg Config,
	store storage.Storage,
	storageMonitor *monitor.StorageMonitor,
) (
	*ingest.Handler,
	*export.Handler,
	*ingest.EventHub,
) {
	hub := ingest.NewEventHub()

	ingestHandler := ingest.NewHandler(store, experiment.New(), aggregate.New())
	if storageMonitor != nil {
		ingestHandler.SetStorageChecker(storageMonitor)
	}
	ingestHandler.SetLiveCalculations(cfg.LiveCalculations)
	ingestHandler.SetHub(hub)
	log.Printf("Ingest handler created (live calculations: %v)", cfg.LiveCalculations)

	// Imports go through the same checks as uploads
	exportHandler := export.NewHandler(store)
	exportHandler.SetArchiver(ingestHandler, ingest.StatusFor)

	return ingestHandler, exportHandler, hub
}

// RestoreExperiment replays the archived runs into the live experiment.
func RestoreExperiment(ingestHandler *ingest.Handler, replayMonitor *monitor.TaskMonitor) error {
	ctx, cancel := context.WithTimeout(context.Background(), config.ReplayTimeout)
	defer cancel()

	start := time.Now()
	if err := ingestHandler.Rebuild(ctx); err != nil {
		replayMonitor.RecordFailure(err)
		return fmt.Errorf("failed to replay archived runs: %w", err)
	}
	replayMonitor.RecordSuccess()
	log.Printf("Archived runs replayed in %v", time.Since(start).Round(time.Millisecond))
	return nil
}

// getEnvInt64 gets an int64 from environment variable or returns default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %d", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return parsed
		}
		log.Printf("Invalid value for %s: %q, using default %v", key, val, defaultValue)
	}
	return defaultValue
}

func getEnvString(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}
