package storage

import (
	"errors"
	"io"
)

// appendFile is the subset of *os.File the positioned writer needs.
type appendFile interface {
	io.Writer
	Truncate(size int64) error
	Sync() error
}

// positionedWriter appends to a file and tracks the logical end offset, so
// every write can report where it landed without asking the file system.
//
// The file must be opened with O_APPEND: the writer never seeks.
type positionedWriter struct {
	file appendFile
	pos  int64
	// err is sticky once a failed write could not be rolled back; the tracked
	// offset no longer describes a clean record boundary after that.
	err error
}

func newPositionedWriter(file appendFile, pos int64) *positionedWriter {
	return &positionedWriter{file: file, pos: pos}
}

// Write appends p in a single call and returns the offset of its first byte
// and the offset one past its last byte.
//
// A short or failed write is rolled back by truncating to the start offset, so
// the next write still lands on a record boundary.
func (w *positionedWriter) Write(p []byte) (start, end int64, err error) {
	if w.err != nil {
		return w.pos, w.pos, w.err
	}

	start = w.pos
	n, err := w.file.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		if n > 0 {
			if terr := w.file.Truncate(start); terr != nil {
				w.pos += int64(n)
				w.err = ioError("roll back partial append", terr)
			}
		}
		return start, w.pos, ioError("append", err)
	}

	w.pos += int64(n)
	return start, w.pos, nil
}

// Offset returns the current end of the stream.
func (w *positionedWriter) Offset() int64 {
	return w.pos
}

// Sync commits written bytes to stable storage.
func (w *positionedWriter) Sync() error {
	if err := w.file.Sync(); err != nil {
		return ioError("sync", err)
	}
	return nil
}

// positionedReader reads byte ranges at explicit offsets. It keeps no cursor,
// so any number of goroutines can read through the same reader.
type positionedReader struct {
	r io.ReaderAt
}

// ReadAt reads exactly length bytes starting at offset. It returns
// io.ErrUnexpectedEOF, unwrapped, when the range runs past the end of the data.
func (r positionedReader) ReadAt(offset, length int64) ([]byte, error) {
	buf := make([]byte, length)
	n, err := r.r.ReadAt(buf, offset)
	if n == len(buf) {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return buf[:n], io.ErrUnexpectedEOF
	}
	return buf[:n], ioError("read", err)
}
