// Package storage implements a log-structured key-value storage engine.
//
// Every write is appended as a self-delimiting record to the current log
// segment; an in-memory index maps each live key to the location of its most
// recent record. Segments are numbered by generation and only the newest one
// is ever appended to. Compaction copies live records into fresh segments and
// deletes the ones left without references.
//
// Architecture:
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                             Store                                │
//	├──────────────────────────────────────────────────────────────────┤
//	│  Write Path:  Set/Remove → append to current segment → Index     │
//	│  Read Path:   Get → Index → (generation, offset, length) → ReadAt │
//	├──────────────────────────────────────────────────────────────────┤
//	│  Open:        replay 1.log, 2.log, ... → Index                   │
//	│  Compaction:  copy live → repoint Index → delete stale segments  │
//	└──────────────────────────────────────────────────────────────────┘
//
// Key components:
//   - positionedWriter/positionedReader: append with returned offsets, read at explicit offsets
//   - Segment: one <generation>.log file of framed records
//   - SegmentSet: all segments of a directory, ordered by generation
//   - Index: ordered key → LogPointer map with per-generation reference counts
//   - Compaction: four independently interruptible steps
package storage
