package storage

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Store is a log-structured key-value store over one directory.
//
// Writes append a record to the current segment before touching the
// in-memory index, so the log is always the source of truth and Open can
// rebuild the index after a crash at any point.
//
// Get may run concurrently with other Gets. Set, Remove and Compact take an
// exclusive lock, which also keeps segment deletion away from in-flight reads.
type Store struct {
	config Config
	logger *zap.Logger

	mu       sync.RWMutex
	index    *Index
	segments *SegmentSet
	closed   bool

	compactions uint64
	reclaimed   int64
	// final holds the statistics taken by Close.
	final Stats
}

// Open opens the store in dir, creating it if needed, and rebuilds the index
// by replaying every segment.
func Open(dir string, config Config) (*Store, error) {
	config = config.withDefaults()
	s := &Store{
		config: config,
		logger: config.Logger.With(zap.String("dir", dir)),
		index:  NewIndex(),
	}

	segments, err := loadSegmentSet(dir, config.SyncMode, s.referenced)
	if err != nil {
		return nil, fmt.Errorf("failed to load segments: %w", err)
	}
	s.segments = segments

	if err := s.recover(); err != nil {
		segments.Close()
		return nil, fmt.Errorf("failed to recover %s: %w", dir, err)
	}
	if segments.Current() == nil {
		if _, err := segments.OpenNewGeneration(); err != nil {
			segments.Close()
			return nil, fmt.Errorf("failed to create first segment: %w", err)
		}
	}

	if removed, reclaimed, err := s.retireSegments(); err != nil {
		s.logger.Warn("orphan segment cleanup failed", zap.Error(err))
	} else if removed > 0 {
		s.logger.Warn("removed orphan segments",
			zap.Int("segments", removed),
			zap.Int64("bytes", reclaimed))
	}

	s.logger.Info("store opened",
		zap.Int("keys", s.index.Len()),
		zap.Int("segments", segments.Len()),
		zap.Uint64("generation", segments.Current().Generation()))
	return s, nil
}

func (s *Store) referenced(gen uint64) bool {
	return s.index.References(gen) > 0
}

// Get returns the value of key. The boolean is false if key doesn't exist.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, ErrClosed
	}

	ptr, ok := s.index.Lookup(key)
	if !ok {
		return "", false, nil
	}
	rec, err := s.readLocked(ptr)
	if err != nil {
		return "", false, err
	}
	if rec.Kind != KindSet || rec.Key != key {
		return "", false, corruptError(ptr.Generation, ptr.Offset,
			fmt.Sprintf("index entry for %q resolves to %s %q", key, rec.Kind, rec.Key))
	}
	return rec.Value, true, nil
}

func (s *Store) readLocked(ptr LogPointer) (Record, error) {
	seg, ok := s.segments.Get(ptr.Generation)
	if !ok {
		return Record{}, corruptError(ptr.Generation, ptr.Offset, "segment missing")
	}
	return seg.Read(ptr.Offset, ptr.Length)
}

// Set assigns value to key. A key and value too large for one record fail
// with ErrRecordTooLarge and leave the store unchanged.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	rec := SetRecord(key, value)
	if err := checkRecordSize(rec, s.config.MaxRecordSize); err != nil {
		return err
	}
	ptr, err := s.appendLocked(rec)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	s.index.Put(key, ptr)

	s.maybeCompactLocked()
	return nil
}

// Remove erases key. It fails with ErrKeyNotFound, appending nothing, if the
// key doesn't exist.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if _, ok := s.index.Lookup(key); !ok {
		return ErrKeyNotFound
	}
	rec := RemoveRecord(key)
	if err := checkRecordSize(rec, s.config.MaxRecordSize); err != nil {
		return err
	}
	if _, err := s.appendLocked(rec); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	s.index.Delete(key)

	s.maybeCompactLocked()
	return nil
}

// appendLocked writes r to the current segment, first rolling over to a new
// generation if the current one is full.
func (s *Store) appendLocked(r Record) (LogPointer, error) {
	cur := s.segments.Current()
	if cur.Size() >= s.config.MaxSegmentSize {
		next, err := s.segments.OpenNewGeneration()
		if err != nil {
			return LogPointer{}, err
		}
		s.logger.Debug("segment rolled over",
			zap.Uint64("sealed", cur.Generation()),
			zap.Uint64("generation", next.Generation()))
		cur = next
	}
	return cur.Append(r)
}

// maybeCompactLocked runs compaction when the policy asks for it. The write
// that triggered it has already succeeded, so a failed compaction is logged
// rather than returned.
func (s *Store) maybeCompactLocked() {
	if s.config.Policy == nil || !s.config.Policy(s.statsLocked()) {
		return
	}
	if err := s.compactLocked(); err != nil {
		s.logger.Error("automatic compaction failed", zap.Error(err))
	}
}

// Compact rewrites every live record into fresh segments and deletes the
// segments left without references.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.compactLocked()
}

// Keys returns every live key in ascending order. After Close it returns
// the keys as of the close.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Keys()
}

// Stats returns current statistics. After Close it reports the store as it
// was when closed.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return s.final
	}
	return s.statsLocked()
}

func (s *Store) statsLocked() Stats {
	total := s.segments.TotalSize()
	live := s.index.LiveBytes()
	stats := Stats{
		Keys:           s.index.Len(),
		Segments:       s.segments.Len(),
		TotalBytes:     total,
		LiveBytes:      live,
		GarbageBytes:   total - live,
		Compactions:    s.compactions,
		ReclaimedBytes: s.reclaimed,
	}
	if cur := s.segments.Current(); cur != nil {
		stats.CurrentGeneration = cur.Generation()
	}
	return stats
}

// Sync commits appended records to stable storage.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.segments.Sync()
}

// Close syncs the current segment and releases every handle. Further calls
// fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.final = s.statsLocked()
	s.closed = true
	err := s.segments.Close()
	s.logger.Info("store closed")
	return err
}
