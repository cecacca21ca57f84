package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nicktill/impact/pkg/config"
	"github.com/nicktill/impact/pkg/ingest"
	"github.com/nicktill/impact/pkg/server/monitor"
	"github.com/nicktill/impact/pkg/storage"
)

// gcRetries bounds how often a failed value log GC is retried within one tick
const gcRetries = 2

// GarbageCollector is implemented by archives with a value log to reclaim
type GarbageCollector interface {
	RunGC(discardRatio float64) error
}

// RunBadgerGC runs value log garbage collection periodically. Deleted runs
// leave garbage behind in BadgerDB's value log until GC rewrites it.
func RunBadgerGC(store storage.Storage, gcMonitor *monitor.TaskMonitor, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	gc, ok := store.(GarbageCollector)
	if !ok {
		log.Println("Run archive has no value log, skipping GC")
		gcMonitor.RecordSuccess()
		return
	}

	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	log.Printf("BadgerDB GC scheduler started (runs every %v)", config.BadgerGCInterval)
	runGCWithRetry(gc, gcMonitor, stop, 30*time.Second)

	for {
		select {
		case <-ticker.C:
			runGCWithRetry(gc, gcMonitor, stop, 30*time.Second)
		case <-stop:
			log.Println("Stopping BadgerDB GC scheduler")
			return
		}
	}
}

// runGCWithRetry runs one GC pass, retrying with exponential backoff
func runGCWithRetry(gc GarbageCollector, gcMonitor *monitor.TaskMonitor, stop <-chan struct{}, baseDelay time.Duration) {
	for attempt := 0; attempt <= gcRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<(attempt-1))
			log.Printf("Retrying GC in %v (attempt %d/%d)...", delay, attempt+1, gcRetries+1)
			select {
			case <-time.After(delay):
			case <-stop:
				return
			}
		}

		start := time.Now()
		err := gc.RunGC(config.BadgerGCDiscardRatio)
		if err == nil {
			gcMonitor.RecordSuccess()
			log.Printf("GC completed in %v", time.Since(start).Round(time.Millisecond))
			return
		}

		gcMonitor.RecordFailure(err)
		log.Printf("GC failed (attempt %d/%d): %v", attempt+1, gcRetries+1, err)
	}
	log.Printf("GC failed after %d attempts, will retry on next schedule", gcRetries+1)
}

// BroadcastStats periodically pushes archive and experiment stats to
// WebSocket clients. Uses exponential backoff on errors to prevent log spam
// during outages.
func BroadcastStats(ctx context.Context, ingestHandler *ingest.Handler, hub *ingest.EventHub) {
	ticker := time.NewTicker(config.StatsBroadcastInterval)
	defer ticker.Stop()

	var consecutiveErrors int
	var lastErrorTime time.Time
	const maxBackoff = 5 * time.Minute

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !hub.HasClients() {
				continue
			}

			statsCtx, cancel := context.WithTimeout(ctx, config.StatsTimeout)
			stats, err := ingestHandler.Stats(statsCtx)
			cancel()
			if err != nil {
				consecutiveErrors++
				now := time.Now()

				// 1s, 2s, 4s ... capped at maxBackoff
				backoff := time.Duration(1<<uint(min(consecutiveErrors-1, 8))) * time.Second
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				if lastErrorTime.IsZero() || now.Sub(lastErrorTime) >= backoff {
					log.Printf("Failed to gather stats for broadcast (error #%d, backoff %v): %v",
						consecutiveErrors, backoff, err)
					lastErrorTime = now
				}
				continue
			}

			if consecutiveErrors > 0 {
				log.Printf("Stats broadcast recovered after %d errors", consecutiveErrors)
				consecutiveErrors = 0
			}

			if err := hub.Publish(ingest.Event{Type: ingest.EventStats, Data: stats}); err != nil {
				log.Printf("Failed to broadcast stats: %v", err)
			}
		}
	}
}
