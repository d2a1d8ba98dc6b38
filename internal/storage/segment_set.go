package storage

import (
	"fmt"
	"io/fs"
	"os"
	"sort"

	"go.uber.org/multierr"
)

// SegmentSet is the ordered collection of live segments in a store directory.
// The segment with the highest generation is current and is the only one
// that accepts appends.
//
// Generation order is recovered from file names alone; there is no manifest.
type SegmentSet struct {
	dir      string
	segments map[uint64]*Segment
	current  *Segment
	maxGen   uint64
	sync     SyncMode

	// inUse reports whether the index still references a generation.
	inUse func(gen uint64) bool
}

// loadSegmentSet opens every segment file in dir, creating dir if needed.
// The highest generation is opened for appends. An empty directory yields an
// empty set with no current segment.
func loadSegmentSet(dir string, mode SyncMode, inUse func(uint64) bool) (*SegmentSet, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ioError("create data directory", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, ioError("list data directory", err)
	}

	var gens []uint64
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if gen, ok := parseSegmentFileName(e.Name()); ok {
			gens = append(gens, gen)
		}
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })

	set := &SegmentSet{
		dir:      dir,
		segments: make(map[uint64]*Segment, len(gens)),
		sync:     mode,
		inUse:    inUse,
	}
	for i, gen := range gens {
		last := i == len(gens)-1
		seg, err := openSegment(dir, gen, last, mode)
		if err != nil {
			set.Close()
			return nil, err
		}
		set.segments[gen] = seg
		set.maxGen = gen
		if last {
			set.current = seg
		}
	}
	return set, nil
}

// Current returns the segment open for appends, or nil for an empty set.
func (s *SegmentSet) Current() *Segment {
	return s.current
}

// OpenNewGeneration creates the segment max+1, makes it current and seals the
// previous current segment.
func (s *SegmentSet) OpenNewGeneration() (*Segment, error) {
	gen := s.maxGen + 1
	seg, err := createSegment(s.dir, gen, s.sync)
	if err != nil {
		return nil, err
	}
	if s.current != nil {
		if err := s.current.seal(); err != nil {
			seg.close()
			os.Remove(seg.path)
			return nil, err
		}
	}
	s.segments[gen] = seg
	s.current = seg
	s.maxGen = gen
	return seg, nil
}

// Get returns the segment with generation gen.
func (s *SegmentSet) Get(gen uint64) (*Segment, bool) {
	seg, ok := s.segments[gen]
	return seg, ok
}

// All returns every segment by ascending generation.
func (s *SegmentSet) All() []*Segment {
	all := make([]*Segment, 0, len(s.segments))
	for _, seg := range s.segments {
		all = append(all, seg)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].gen < all[j].gen })
	return all
}

// Len returns the number of segments.
func (s *SegmentSet) Len() int {
	return len(s.segments)
}

// TotalSize returns the bytes used by all segments.
func (s *SegmentSet) TotalSize() int64 {
	var total int64
	for _, seg := range s.segments {
		total += seg.size
	}
	return total
}

// Delete removes the file of generation gen. It fails with ErrSegmentBusy if
// gen is current or still referenced by the index. The handle is closed only
// after the file is gone.
func (s *SegmentSet) Delete(gen uint64) error {
	seg, ok := s.segments[gen]
	if !ok {
		return fmt.Errorf("delete segment %d: %w", gen, fs.ErrNotExist)
	}
	if seg == s.current {
		return fmt.Errorf("delete segment %d: %w: current segment", gen, ErrSegmentBusy)
	}
	if s.inUse != nil && s.inUse(gen) {
		return fmt.Errorf("delete segment %d: %w: referenced by index", gen, ErrSegmentBusy)
	}

	if err := os.Remove(seg.path); err != nil {
		return ioError("delete segment", err)
	}
	delete(s.segments, gen)
	return seg.close()
}

// Sync syncs the current segment.
func (s *SegmentSet) Sync() error {
	if s.current == nil {
		return nil
	}
	return s.current.Sync()
}

// Close closes every segment handle.
func (s *SegmentSet) Close() error {
	var err error
	for _, seg := range s.segments {
		err = multierr.Append(err, seg.close())
	}
	s.segments = map[uint64]*Segment{}
	s.current = nil
	return err
}
