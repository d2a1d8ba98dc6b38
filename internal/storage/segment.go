package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/multierr"
)

// SyncMode determines when appended records are synced to disk.
type SyncMode int

const (
	// SyncNone - leave flushing to the OS page cache (fastest, survives process crashes only)
	SyncNone SyncMode = iota
	// SyncAlways - fsync after every append (slowest, survives power loss)
	SyncAlways
)

const segmentExt = ".log"

// LogPointer locates exactly one record inside exactly one segment.
type LogPointer struct {
	Generation uint64
	Offset     int64
	Length     int64
}

func (p LogPointer) String() string {
	return fmt.Sprintf("%d@%d+%d", p.Generation, p.Offset, p.Length)
}

// Segment is one append-only log file identified by its generation number.
// Only the current segment of a SegmentSet has a writer; every other segment
// is read-only and is never modified again, only deleted.
type Segment struct {
	gen    uint64
	path   string
	file   *os.File
	reader positionedReader
	writer *positionedWriter
	size   int64
	sync   SyncMode

	// poisoned is set once a read from this segment failed to decode.
	poisoned atomic.Bool
}

func segmentFileName(gen uint64) string {
	return strconv.FormatUint(gen, 10) + segmentExt
}

// parseSegmentFileName extracts the generation from a segment file name.
func parseSegmentFileName(name string) (uint64, bool) {
	base, ok := strings.CutSuffix(name, segmentExt)
	if !ok || base == "" {
		return 0, false
	}
	gen, err := strconv.ParseUint(base, 10, 64)
	if err != nil || gen == 0 {
		return 0, false
	}
	// Reject names like "007.log" so the mapping stays one to one.
	if segmentFileName(gen) != name {
		return 0, false
	}
	return gen, true
}

// createSegment creates an empty writable segment. A leftover file with the
// same generation is overwritten.
func createSegment(dir string, gen uint64, mode SyncMode) (*Segment, error) {
	path := filepath.Join(dir, segmentFileName(gen))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, ioError("create segment", err)
	}
	seg := &Segment{
		gen:    gen,
		path:   path,
		file:   file,
		reader: positionedReader{r: file},
		writer: newPositionedWriter(file, 0),
		sync:   mode,
	}
	return seg, nil
}

// openSegment opens an existing segment. Only the current segment is opened
// writable; its writer starts at the end of the file.
func openSegment(dir string, gen uint64, writable bool, mode SyncMode) (*Segment, error) {
	path := filepath.Join(dir, segmentFileName(gen))
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR | os.O_APPEND
	}
	file, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, ioError("open segment", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, ioError("stat segment", err)
	}

	seg := &Segment{
		gen:    gen,
		path:   path,
		file:   file,
		reader: positionedReader{r: file},
		size:   info.Size(),
		sync:   mode,
	}
	if writable {
		seg.writer = newPositionedWriter(file, info.Size())
	}
	return seg, nil
}

// Generation returns the segment's generation number.
func (s *Segment) Generation() uint64 { return s.gen }

// Size returns the number of bytes written to the segment.
func (s *Segment) Size() int64 { return s.size }

// Writable reports whether the segment still accepts appends.
func (s *Segment) Writable() bool { return s.writer != nil }

var errSealed = errors.New("segment is sealed")

// Append encodes r, writes it at the end of the segment and returns its pointer.
func (s *Segment) Append(r Record) (LogPointer, error) {
	if s.writer == nil {
		return LogPointer{}, fmt.Errorf("append to segment %d: %w", s.gen, errSealed)
	}
	if err := checkRecordSize(r, frameHeaderSize+maxPayloadSize); err != nil {
		return LogPointer{}, err
	}

	start, end, err := s.writer.Write(encodeRecord(r))
	s.size = s.writer.Offset()
	if err != nil {
		return LogPointer{}, fmt.Errorf("segment %d: %w", s.gen, err)
	}
	if s.sync == SyncAlways {
		if err := s.writer.Sync(); err != nil {
			return LogPointer{}, err
		}
	}

	return LogPointer{Generation: s.gen, Offset: start, Length: end - start}, nil
}

// Read reads and decodes the record of the given length at offset.
func (s *Segment) Read(offset, length int64) (Record, error) {
	if s.poisoned.Load() {
		return Record{}, corruptError(s.gen, offset, "segment previously failed to decode")
	}

	frame, err := s.reader.ReadAt(offset, length)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		s.poisoned.Store(true)
		return Record{}, corruptError(s.gen, offset, "record truncated")
	}
	if err != nil {
		return Record{}, fmt.Errorf("segment %d: %w", s.gen, err)
	}

	r, err := decodeRecord(frame)
	if err != nil {
		s.poisoned.Store(true)
		return Record{}, corruptError(s.gen, offset, err.Error())
	}
	return r, nil
}

// Replay returns a scanner over every record in the segment, from offset 0
// to the end of the file as it is when Replay is called. Each call starts a
// fresh scan.
func (s *Segment) Replay() *Replayer {
	info, err := s.file.Stat()
	if err != nil {
		return &Replayer{seg: s, err: ioError("stat segment", err)}
	}
	section := io.NewSectionReader(s.file, 0, info.Size())
	return &Replayer{
		seg:     s,
		section: section,
		r:       bufio.NewReaderSize(section, 64*1024), // 64KB buffer
		end:     info.Size(),
	}
}

// seal stops further appends. The file stays open for reads.
func (s *Segment) seal() error {
	if s.writer == nil {
		return nil
	}
	err := s.writer.Sync()
	s.writer = nil
	return err
}

// truncate cuts the segment back to size bytes. Used to drop a partial
// trailing record before new appends land behind it.
func (s *Segment) truncate(size int64) error {
	if err := s.file.Truncate(size); err != nil {
		return ioError("truncate segment", err)
	}
	s.size = size
	if s.writer != nil {
		s.writer = newPositionedWriter(s.file, size)
	}
	return nil
}

// Sync commits appended records to stable storage.
func (s *Segment) Sync() error {
	if s.writer == nil {
		return nil
	}
	return s.writer.Sync()
}

func (s *Segment) close() error {
	var err error
	if s.writer != nil {
		err = s.writer.Sync()
	}
	if cerr := s.file.Close(); cerr != nil {
		err = multierr.Append(err, ioError("close segment", cerr))
	}
	return err
}

// Replayer scans a segment record by record.
//
//	it := seg.Replay()
//	for it.Next() {
//		rec, ptr := it.Record(), it.Pointer()
//	}
//	if err := it.Err(); err != nil { ... }
type Replayer struct {
	seg     *Segment
	section *io.SectionReader
	r       *bufio.Reader
	end     int64
	pos     int64

	rec       Record
	ptr       LogPointer
	err       error
	done      bool
	truncated bool
}

// Next decodes the next record. It returns false at the end of valid data or
// on error. A partial record at the tail of the file ends the scan without
// an error; Truncated reports that it happened.
func (it *Replayer) Next() bool {
	if it.err != nil || it.done {
		return false
	}

	remaining := it.end - it.pos
	if remaining == 0 {
		it.done = true
		return false
	}
	if remaining < frameHeaderSize {
		it.stopTruncated()
		return false
	}

	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(it.r, header[:]); err != nil {
		it.err = ioError("replay segment", err)
		return false
	}
	n, err := frameLength(header[:])
	if err != nil {
		if it.zeroTail() {
			it.stopTruncated()
			return false
		}
		it.err = corruptError(it.seg.gen, it.pos, err.Error())
		return false
	}
	length := int64(frameHeaderSize) + int64(n)
	if length > remaining {
		it.stopTruncated()
		return false
	}

	frame := make([]byte, length)
	copy(frame, header[:])
	if _, err := io.ReadFull(it.r, frame[frameHeaderSize:]); err != nil {
		it.err = ioError("replay segment", err)
		return false
	}
	rec, err := decodeRecord(frame)
	if err != nil {
		it.err = corruptError(it.seg.gen, it.pos, err.Error())
		return false
	}

	it.rec = rec
	it.ptr = LogPointer{Generation: it.seg.gen, Offset: it.pos, Length: length}
	it.pos += length
	return true
}

// zeroTail reports whether every byte from the current record to the end of
// the scan is zero. A crash after the file was extended but before the
// record reached the disk leaves such a tail.
func (it *Replayer) zeroTail() bool {
	buf := make([]byte, 32*1024)
	for off := it.pos; off < it.end; {
		n := it.end - off
		if n > int64(len(buf)) {
			n = int64(len(buf))
		}
		if _, err := it.section.ReadAt(buf[:n], off); err != nil && err != io.EOF {
			return false
		}
		for _, b := range buf[:n] {
			if b != 0 {
				return false
			}
		}
		off += n
	}
	return true
}

func (it *Replayer) stopTruncated() {
	it.done = true
	it.truncated = true
}

// Record returns the record decoded by the last call to Next.
func (it *Replayer) Record() Record { return it.rec }

// Pointer returns the location of the record decoded by the last call to Next.
func (it *Replayer) Pointer() LogPointer { return it.ptr }

// Err returns the error that stopped the scan, if any.
func (it *Replayer) Err() error { return it.err }

// Truncated reports whether the scan stopped at a partial trailing record.
func (it *Replayer) Truncated() bool { return it.truncated }

// ValidEnd returns the offset one past the last complete record scanned.
func (it *Replayer) ValidEnd() int64 { return it.pos }
