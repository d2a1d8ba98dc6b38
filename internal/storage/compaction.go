package storage

import (
	"fmt"

	"go.uber.org/zap"
)

// compaction is one run of the compactor, split into steps that are each
// safe to interrupt:
//
//  1. openOutput  - create a fresh generation for the output.
//  2. copyLive    - re-append every live record to the output. The index is
//     not touched, so a crash leaves the old view readable; the copies replay
//     after the originals and carry the same values.
//  3. commit      - repoint the index at the copies, under the store lock,
//     then open a fresh generation for new writes so the output segments
//     hold nothing but copies.
//  4. retire      - delete the segments nothing points at any more. A crash
//     midway leaves unreferenced files that Open removes later.
type compaction struct {
	store   *Store
	logger  *zap.Logger
	outputs []uint64
	moved   []IndexEntry
	written int64
}

func (s *Store) newCompaction() *compaction {
	return &compaction{
		store:  s,
		logger: s.logger.Named("compaction"),
	}
}

func (c *compaction) openOutput() error {
	seg, err := c.store.segments.OpenNewGeneration()
	if err != nil {
		return fmt.Errorf("open compaction output: %w", err)
	}
	c.outputs = append(c.outputs, seg.Generation())
	return nil
}

func (c *compaction) copyLive() error {
	s := c.store
	snapshot := s.index.Snapshot()
	c.moved = make([]IndexEntry, 0, len(snapshot))

	for _, e := range snapshot {
		rec, err := s.readLocked(e.Pointer)
		if err != nil {
			return fmt.Errorf("copy %q: %w", e.Key, err)
		}
		if rec.Kind != KindSet || rec.Key != e.Key {
			return corruptError(e.Pointer.Generation, e.Pointer.Offset,
				fmt.Sprintf("index entry for %q resolves to %s %q", e.Key, rec.Kind, rec.Key))
		}

		out := s.segments.Current()
		if out.Size() > 0 && out.Size() >= s.config.MaxSegmentSize {
			if out, err = s.segments.OpenNewGeneration(); err != nil {
				return fmt.Errorf("open compaction output: %w", err)
			}
			c.outputs = append(c.outputs, out.Generation())
		}

		ptr, err := out.Append(rec)
		if err != nil {
			return fmt.Errorf("copy %q: %w", e.Key, err)
		}
		c.moved = append(c.moved, IndexEntry{Key: e.Key, Pointer: ptr})
		c.written += ptr.Length
	}

	// The copies must be durable before the index points at them.
	return s.segments.Sync()
}

func (c *compaction) commit() {
	for _, e := range c.moved {
		c.store.index.Put(e.Key, e.Pointer)
	}
}

func (c *compaction) openWriter() error {
	seg, err := c.store.segments.OpenNewGeneration()
	if err != nil {
		return fmt.Errorf("open segment after compaction: %w", err)
	}
	c.logger.Debug("writes continue in new generation", zap.Uint64("generation", seg.Generation()))
	return nil
}

func (c *compaction) retire() (int, int64, error) {
	return c.store.retireSegments()
}

// compactLocked runs all four steps. Caller holds the write lock.
func (s *Store) compactLocked() error {
	before := s.segments.TotalSize()
	c := s.newCompaction()

	if err := c.openOutput(); err != nil {
		return err
	}
	if err := c.copyLive(); err != nil {
		return err
	}
	c.commit()
	if err := c.openWriter(); err != nil {
		return err
	}
	removed, reclaimed, err := c.retire()
	if err != nil {
		return fmt.Errorf("retire segments: %w", err)
	}

	s.compactions++
	s.reclaimed += reclaimed
	c.logger.Info("compaction finished",
		zap.Int("keys", len(c.moved)),
		zap.Uint64s("outputs", c.outputs),
		zap.Int("segments_removed", removed),
		zap.Int64("bytes_before", before),
		zap.Int64("bytes_after", s.segments.TotalSize()))
	return nil
}

// retireSegments deletes every segment older than the oldest generation the
// index references, in ascending generation order. The current segment is
// never deleted.
//
// Only that prefix is deleted, even if a later generation is unreferenced
// too: an unreferenced segment can still hold the Remove that keeps an
// older Set from coming back on replay.
func (s *Store) retireSegments() (removed int, reclaimed int64, err error) {
	floor := s.segments.Current().Generation()
	if gens := s.index.Generations(); len(gens) > 0 && gens[0] < floor {
		floor = gens[0]
	}

	for _, seg := range s.segments.All() {
		if seg.Generation() >= floor {
			break
		}
		size := seg.Size()
		if err := s.segments.Delete(seg.Generation()); err != nil {
			return removed, reclaimed, err
		}
		removed++
		reclaimed += size
	}
	return removed, reclaimed, nil
}
