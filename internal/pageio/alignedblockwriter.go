// Package pageio implements sector-aligned, append-only block I/O on top of
// the operating system's direct-I/O facilities (O_DIRECT on Linux, F_NOCACHE
// on Darwin, buffered+fsync elsewhere). It is the write path of the BRIN
// data-page store (datastore.FileStore), which needs page-sized,
// page-aligned writes that bypass the OS page cache so that fsync ordering
// reflects what is actually on stable storage.
package pageio

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// AlignedBlockWriter is an append-only writer that batches writes into
// sector-aligned chunks of batchSize = alignment * batchBlocks bytes.
// Callers append arbitrary byte spans with WriteByte/WriteBytes; the writer
// pads the final partial batch with zeros on Close so every write to the
// underlying file is a whole number of alignment-sized sectors, which is a
// precondition for O_DIRECT on most platforms.
//
// A failed write poisons the writer: every subsequent call returns the same
// error without touching the file again.
type AlignedBlockWriter struct {
	mu sync.Mutex

	f         *os.File
	alignment int
	batchSize int // alignment * batchBlocks

	buf    []byte // aligned scratch buffer, capacity 2*batchSize
	filled int    // bytes of buf currently holding unwritten data

	writtenBlocks uint64 // number of alignment-sized blocks physically written
	closed        bool
	err           error
}

// Open creates (or truncates) path and returns an AlignedBlockWriter that
// writes batchBlocks*alignment bytes at a time. alignment must be a positive
// power of two matching the underlying device's sector size (4096 is a safe
// default); batchBlocks must be >= 1.
func Open(path string, alignment, batchBlocks int) (*AlignedBlockWriter, error) {
	if alignment <= 0 || alignment&(alignment-1) != 0 {
		return nil, errors.Errorf("pageio: alignment %d is not a positive power of two", alignment)
	}
	if batchBlocks < 1 {
		return nil, errors.Errorf("pageio: batchBlocks must be >= 1, got %d", batchBlocks)
	}

	f, err := openDirect(path, alignment)
	if err != nil {
		return nil, errors.Wrapf(err, "pageio: open %s", path)
	}

	batchSize := alignment * batchBlocks
	return &AlignedBlockWriter{
		f:         f,
		alignment: alignment,
		batchSize: batchSize,
		buf:       acquireAligned(alignment, 2*batchSize),
	}, nil
}

// WriteByte appends a single byte.
func (w *AlignedBlockWriter) WriteByte(b byte) error {
	return w.WriteBytes([]byte{b})
}

// WriteBytes appends an arbitrary byte span, flushing full batches to disk
// as they accumulate.
func (w *AlignedBlockWriter) WriteBytes(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}
	if w.closed {
		return errors.New("pageio: write on closed AlignedBlockWriter")
	}

	for len(p) > 0 {
		n := copy(w.buf[w.filled:], p)
		w.filled += n
		p = p[n:]

		for w.filled >= w.batchSize {
			if err := w.flushLocked(w.batchSize); err != nil {
				w.err = err
				return err
			}
		}
	}
	return nil
}

// Flush writes any buffered bytes as a single zero-padded batch and fsyncs
// the file, without closing the writer. The padded tail remains in the
// buffer logically discarded: subsequent writes start a fresh batch rather
// than continuing into the zero padding.
func (w *AlignedBlockWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushPartialLocked(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return errors.Wrap(err, "pageio: fsync")
	}
	return nil
}

// flushPartialLocked pads the current partial batch up to the next
// alignment boundary with zeros and writes it.
func (w *AlignedBlockWriter) flushPartialLocked() error {
	if w.err != nil {
		return w.err
	}
	if w.filled == 0 {
		return nil
	}
	padded := padUp(w.filled, w.alignment)
	for i := w.filled; i < padded; i++ {
		w.buf[i] = 0
	}
	if err := w.flushLocked(padded); err != nil {
		w.err = err
		return err
	}
	return nil
}

// flushLocked writes the first n bytes of buf (n must be a multiple of
// alignment) and slides any remaining buffered bytes down to the front.
func (w *AlignedBlockWriter) flushLocked(n int) error {
	if _, err := w.f.Write(w.buf[:n]); err != nil {
		return errors.Wrap(err, "pageio: write")
	}
	w.writtenBlocks += uint64(n / w.alignment)

	remaining := w.filled - n
	if remaining > 0 {
		copy(w.buf[:remaining], w.buf[n:w.filled])
	} else {
		remaining = 0 // a padded flush wrote past the buffered bytes
	}
	w.filled = remaining
	return nil
}

// WrittenBlocks returns the number of alignment-sized blocks physically
// written to the file so far (including zero-padded partial batches flushed
// by Flush or Close).
func (w *AlignedBlockWriter) WrittenBlocks() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writtenBlocks
}

// Sync fsyncs the underlying file.
func (w *AlignedBlockWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if err := w.f.Sync(); err != nil {
		return errors.Wrap(err, "pageio: fsync")
	}
	return nil
}

// Close pads and flushes any remaining buffered bytes, fsyncs, and closes
// the underlying file. Close is idempotent: later calls return the error
// the first call stored (nil if it succeeded). After Close, WriteBytes
// fails with a closed-writer error.
func (w *AlignedBlockWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return w.err
	}
	w.closed = true

	if w.err == nil {
		if err := w.flushPartialLocked(); err != nil {
			w.err = err
		}
	}
	if w.err == nil {
		if err := w.f.Sync(); err != nil {
			w.err = errors.Wrap(err, "pageio: fsync on close")
		}
	}
	if cerr := w.f.Close(); cerr != nil && w.err == nil {
		w.err = errors.Wrap(cerr, "pageio: close")
	}
	releaseAligned(w.buf)
	w.buf = nil
	return w.err
}

// padUp rounds n up to the next multiple of alignment.
func padUp(n, alignment int) int {
	if n%alignment == 0 {
		return n
	}
	return ((n / alignment) + 1) * alignment
}

var _ io.Closer = (*AlignedBlockWriter)(nil)
