package storage

import "go.uber.org/zap"

// recover replays every segment in ascending generation order, and every
// record in append order within a segment, applying each one exactly as the
// write path does. A partial record at the tail of the current segment is
// cut off so that new appends follow the last complete record.
func (s *Store) recover() error {
	current := s.segments.Current()
	for _, seg := range s.segments.All() {
		it := seg.Replay()
		records := 0
		for it.Next() {
			s.apply(it.Record(), it.Pointer())
			records++
		}
		if err := it.Err(); err != nil {
			s.logger.Error("segment replay failed",
				zap.Uint64("generation", seg.Generation()),
				zap.Error(err))
			return err
		}
		if !it.Truncated() {
			continue
		}

		s.logger.Warn("discarding partial record at end of segment",
			zap.Uint64("generation", seg.Generation()),
			zap.Int64("valid_bytes", it.ValidEnd()),
			zap.Int64("file_bytes", seg.Size()))
		if seg == current {
			if err := seg.truncate(it.ValidEnd()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) apply(r Record, ptr LogPointer) {
	switch r.Kind {
	case KindSet:
		s.index.Put(r.Key, ptr)
	case KindRemove:
		s.index.Delete(r.Key)
	}
}
