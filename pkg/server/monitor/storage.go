// Package monitor tracks disk usage of the run archive and the health of the
// server's background tasks.
package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nicktill/impact/pkg/config"
)

// StorageMonitor reports the archive's disk usage against a limit. Usage is
// cached so uploads do not walk the data directory on every request.
type StorageMonitor struct {
	dataDir       string
	maxBytes      int64
	cacheDuration time.Duration

	mu          sync.Mutex
	cachedUsage int64
	lastCheck   time.Time
}

// NewStorageMonitor creates a monitor for dataDir. maxBytes <= 0 means no limit.
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		cacheDuration: config.StorageCacheDuration,
	}
}

// GetUsage returns the data directory's disk usage in bytes.
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := dirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}
	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured limit in bytes.
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// Invalidate drops the cached usage, e.g. after a run is deleted.
func (sm *StorageMonitor) Invalidate() {
	sm.mu.Lock()
	sm.lastCheck = time.Time{}
	sm.mu.Unlock()
}

// dirSize sums allocated disk space, not logical size, so sparse value log
// files are not overcounted.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if allocated, err := allocatedSize(filePath, info); err == nil {
			size += allocated
		} else {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
