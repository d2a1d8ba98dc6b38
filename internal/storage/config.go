package storage

import "go.uber.org/zap"

// Config configures the store.
type Config struct {
	// MaxSegmentSize is the size at which the current segment is sealed and
	// a new generation opened. Compaction output rolls over at the same size.
	MaxSegmentSize int64
	// SyncMode determines when appends are synced to disk.
	SyncMode SyncMode
	// Policy decides after each write whether to compact. Nil disables
	// automatic compaction; Compact can still be called directly.
	Policy CompactionPolicy
	// MaxRecordSize is the largest encoded record, header included, that Set
	// and Remove accept. Zero means the format's limit of just over 1 GiB.
	MaxRecordSize int64
	// Logger receives store events. Nil discards them.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSegmentSize: 1024 * 1024, // 1MB
		SyncMode:       SyncNone,
		Policy:         DefaultCompactionPolicy(1024*1024, 0.5),
	}
}

func (c Config) withDefaults() Config {
	if c.MaxSegmentSize <= 0 {
		c.MaxSegmentSize = DefaultConfig().MaxSegmentSize
	}
	if c.MaxRecordSize <= 0 || c.MaxRecordSize > frameHeaderSize+maxPayloadSize {
		c.MaxRecordSize = frameHeaderSize + maxPayloadSize
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Stats describes the store's size and space usage.
type Stats struct {
	Keys              int
	Segments          int
	CurrentGeneration uint64
	// TotalBytes is the size of every segment file on disk.
	TotalBytes int64
	// LiveBytes is the size of the records the index points at.
	LiveBytes int64
	// GarbageBytes is TotalBytes minus LiveBytes: superseded records,
	// removals and discarded partial writes.
	GarbageBytes   int64
	Compactions    uint64
	ReclaimedBytes int64
}

// GarbageRatio returns GarbageBytes / TotalBytes, or 0 for an empty store.
func (s Stats) GarbageRatio() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	return float64(s.GarbageBytes) / float64(s.TotalBytes)
}

// CompactionPolicy reports whether the store should compact now.
type CompactionPolicy func(Stats) bool

// DefaultCompactionPolicy compacts once at least minGarbage bytes are
// superseded and they make up at least ratio of the bytes on disk.
func DefaultCompactionPolicy(minGarbage int64, ratio float64) CompactionPolicy {
	return func(s Stats) bool {
		return s.GarbageBytes >= minGarbage && s.GarbageRatio() >= ratio
	}
}

// NeverCompact disables automatic compaction.
func NeverCompact(Stats) bool { return false }
