package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/impact/pkg/storage"
	"github.com/nicktill/impact/pkg/trial"
)

// Key prefixes. Readings sort by run, then time course, then time.
const (
	readingPrefix byte = 'r'
	runPrefix     byte = 'm'
)

var sequenceKey = []byte("!seq")

const (
	// [prefix][run hash][course hash][time][sequence]
	readingKeyLen = 1 + 8 + 8 + 8 + 8
	slowQuery     = 5 * time.Second
)

// Storage implements storage.Storage using BadgerDB (LSM tree)
type Storage struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults)
	MaxMemoryMB int64
}

type runMeta struct {
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

// New creates a BadgerDB storage backend
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Laptop-friendly default: 16 MB memtable. Below 16 MB causes excessive flushes.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3 // ~33% for memtable
	}

	// Block and index caches are unbounded unless set
	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2). // badger refuses a single compactor
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20) // 64 MB value log files instead of the 2 GB default

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	seq, err := db.GetSequence(sequenceKey, 1000)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open sequence: %w", err)
	}

	return &Storage{db: db, seq: seq}, nil
}

// withContext runs fn in the background and gives up when ctx ends first.
// Badger transactions cannot be interrupted, so fn also polls ctx itself.
func withContext(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s operation cancelled: %w", op, ctx.Err())
	}
}

// Write stores readings under a run
func (s *Storage) Write(ctx context.Context, run string, points []trial.TimePoint) error {
	return withContext(ctx, "write", func() error {
		runHash := xxhash.Sum64String(run)
		key := runKey(runHash)

		exists := true
		if err := s.db.View(func(txn *badger.Txn) error {
			_, err := txn.Get(key)
			if err == badger.ErrKeyNotFound {
				exists = false
				return nil
			}
			return err
		}); err != nil {
			return fmt.Errorf("failed to read run %s: %w", run, err)
		}

		if err := s.writeReadings(ctx, runHash, points); err != nil {
			// A large batch may have committed in parts
			if !exists {
				if derr := s.db.DropPrefix(runPrefixKey(runHash)); derr != nil {
					log.Printf("Failed to discard partial run %s: %v", run, derr)
				}
			}
			return err
		}
		if exists {
			return nil
		}

		// The run becomes visible only once all of its readings are stored
		meta, err := json.Marshal(runMeta{Name: run, Created: time.Now()})
		if err != nil {
			return err
		}
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(key, meta)
		}); err != nil {
			if derr := s.db.DropPrefix(runPrefixKey(runHash)); derr != nil {
				log.Printf("Failed to discard partial run %s: %v", run, derr)
			}
			return fmt.Errorf("failed to write run %s: %w", run, err)
		}
		return nil
	})
}

func (s *Storage) writeReadings(ctx context.Context, runHash uint64, points []trial.TimePoint) error {
	batch := s.db.NewWriteBatch()
	defer batch.Cancel()

	for i, tp := range points {
		// Check context periodically (every 100 readings)
		if i%100 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		n, err := s.seq.Next()
		if err != nil {
			return fmt.Errorf("failed to allocate key: %w", err)
		}
		value, err := json.Marshal(tp)
		if err != nil {
			return fmt.Errorf("failed to encode reading: %w", err)
		}
		if err := batch.Set(readingKey(runHash, tp.Key().Hash(), tp.Time, n), value); err != nil {
			return fmt.Errorf("failed to write reading: %w", err)
		}
	}
	return batch.Flush()
}

// Query retrieves readings matching the request, in run, course and time order
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Reading, error) {
	var results []storage.Reading
	startTime := time.Now()
	var iterCount int

	err := withContext(ctx, "query", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			names, err := runNames(txn)
			if err != nil {
				return err
			}

			prefixes := [][]byte{{readingPrefix}}
			if len(req.Runs) > 0 {
				prefixes = prefixes[:0]
				for _, run := range req.Runs {
					prefixes = append(prefixes, runPrefixKey(xxhash.Sum64String(run)))
				}
			}

			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100

			for _, prefix := range prefixes {
				it := txn.NewIterator(opts)
				for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
					iterCount++

					// Check for context cancellation every 1000 iterations
					if iterCount%1000 == 0 {
						if err := ctx.Err(); err != nil {
							it.Close()
							return err
						}
					}

					item := it.Item()
					run := names[binary.BigEndian.Uint64(item.Key()[1:9])]

					var tp trial.TimePoint
					if err := item.Value(func(val []byte) error {
						return json.Unmarshal(val, &tp)
					}); err != nil {
						it.Close()
						return fmt.Errorf("failed to decode reading: %w", err)
					}

					if !req.Matches(run, tp) {
						continue
					}
					results = append(results, storage.Reading{Run: run, Point: tp})

					if req.Limit > 0 && len(results) >= req.Limit {
						it.Close()
						return nil
					}
				}
				it.Close()
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	// Log slow queries for performance monitoring
	if elapsed := time.Since(startTime); elapsed > slowQuery {
		log.Printf("Slow query completed in %v (%d iterations, %d results)", elapsed, iterCount, len(results))
	}
	return results, nil
}

// Delete removes every reading of a run
func (s *Storage) Delete(ctx context.Context, run string) error {
	return withContext(ctx, "delete", func() error {
		runHash := xxhash.Sum64String(run)
		key := runKey(runHash)

		err := s.db.View(func(txn *badger.Txn) error {
			_, err := txn.Get(key)
			return err
		})
		if err == badger.ErrKeyNotFound {
			return storage.ErrRunNotFound
		}
		if err != nil {
			return err
		}

		if err := s.db.DropPrefix(runPrefixKey(runHash)); err != nil {
			return fmt.Errorf("failed to delete readings of %s: %w", run, err)
		}
		return s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
	})
}

// Runs lists archived runs with their reading counts
func (s *Storage) Runs(ctx context.Context) ([]storage.RunInfo, error) {
	var infos []storage.RunInfo

	err := withContext(ctx, "runs", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			metas, err := runMetas(txn)
			if err != nil {
				return err
			}

			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false

			for _, m := range metas {
				prefix := runPrefixKey(xxhash.Sum64String(m.Name))
				count := 0

				it := txn.NewIterator(opts)
				for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
					count++
				}
				it.Close()

				infos = append(infos, storage.RunInfo{Name: m.Name, Readings: count, Created: m.Created})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	if err := s.seq.Release(); err != nil {
		log.Printf("Failed to release key sequence: %v", err)
	}
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// This reclaims disk space from deleted runs
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns error only if GC failed, nil if GC not needed or succeeded
func (s *Storage) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if err == badger.ErrNoRewrite || err == badger.ErrGCInMemoryMode {
		return nil
	}
	return err
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{}

	err := withContext(ctx, "stats", func() error {
		return s.db.View(func(txn *badger.Txn) error {
			metas, err := runMetas(txn)
			if err != nil {
				return err
			}
			stats.TotalRuns = uint64(len(metas))

			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = []byte{readingPrefix}

			it := txn.NewIterator(opts)
			defer it.Close()

			courses := make(map[[16]byte]bool)
			first := true
			var iterCount int

			for it.Rewind(); it.Valid(); it.Next() {
				iterCount++
				if iterCount%1000 == 0 {
					if err := ctx.Err(); err != nil {
						return err
					}
				}

				key := it.Item().Key()
				stats.TotalReadings++

				var course [16]byte
				copy(course[:], key[1:17])
				courses[course] = true

				hours := decodeTime(binary.BigEndian.Uint64(key[17:25]))
				if first || hours < stats.EarliestHour {
					stats.EarliestHour = hours
				}
				if first || hours > stats.LatestHour {
					stats.LatestHour = hours
				}
				first = false
			}

			stats.TotalCourses = uint64(len(courses))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)
	return stats, nil
}

func runNames(txn *badger.Txn) (map[uint64]string, error) {
	metas, err := runMetas(txn)
	if err != nil {
		return nil, err
	}
	names := make(map[uint64]string, len(metas))
	for _, m := range metas {
		names[xxhash.Sum64String(m.Name)] = m.Name
	}
	return names, nil
}

func runMetas(txn *badger.Txn) ([]runMeta, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte{runPrefix}

	it := txn.NewIterator(opts)
	defer it.Close()

	var metas []runMeta
	for it.Rewind(); it.Valid(); it.Next() {
		var m runMeta
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		}); err != nil {
			return nil, fmt.Errorf("failed to decode run: %w", err)
		}
		metas = append(metas, m)
	}
	return metas, nil
}

func runKey(runHash uint64) []byte {
	key := make([]byte, 9)
	key[0] = runPrefix
	binary.BigEndian.PutUint64(key[1:], runHash)
	return key
}

func runPrefixKey(runHash uint64) []byte {
	key := make([]byte, 9)
	key[0] = readingPrefix
	binary.BigEndian.PutUint64(key[1:], runHash)
	return key
}

// readingKey creates a sortable key
// Format: [prefix][run hash (8)][course hash (8)][time (8)][sequence (8)]
// The sequence keeps readings at equal times distinct.
func readingKey(runHash, courseHash uint64, hours float64, seq uint64) []byte {
	key := make([]byte, readingKeyLen)
	key[0] = readingPrefix
	binary.BigEndian.PutUint64(key[1:9], runHash)
	binary.BigEndian.PutUint64(key[9:17], courseHash)
	binary.BigEndian.PutUint64(key[17:25], encodeTime(hours))
	binary.BigEndian.PutUint64(key[25:33], seq)
	return key
}

// encodeTime maps a float to a uint64 with the same ordering
func encodeTime(hours float64) uint64 {
	if hours == 0 {
		hours = 0 // folds -0 into +0
	}
	bits := math.Float64bits(hours)
	if hours >= 0 {
		return bits ^ (1 << 63)
	}
	return ^bits
}

func decodeTime(v uint64) float64 {
	if v&(1<<63) != 0 {
		return math.Float64frombits(v ^ (1 << 63))
	}
	return math.Float64frombits(^v)
}
