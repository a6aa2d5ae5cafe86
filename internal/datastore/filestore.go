package datastore

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/brinstore/brinstore/internal/brinerr"
	"github.com/brinstore/brinstore/internal/pageio"
	"golang.org/x/exp/mmap"
)

// FileStore is a file-backed IndexDataStorage. New pages are appended
// through an AlignedBlockWriter (sector-aligned, direct I/O where the
// platform supports it); reads of already-durable pages go through a
// memory-mapped view of the file for zero-copy access, remapped whenever
// the file has grown past the current mapping.
//
// Pages are chained (see pageformat.go) so an entry list larger than one
// physical page spills into successive chunks; PageID is the head of the
// chain and is never reused, matching the monotonic-ID contract of
// IndexDataStorage.
type FileStore struct {
	mu       sync.Mutex
	path     string
	pageSize int
	writer   *pageio.AlignedBlockWriter
	nextID   atomic.Uint64

	mmapMu  sync.Mutex
	mmapR   *mmap.ReaderAt
	mmapLen int64
}

// OpenFileStore creates or truncates a new BRIN data-page file at path.
// FileStore is append-only: reopening an existing file for further writes
// is not supported (a BRIN checkpoint always writes a fresh generation of
// data pages, per spec.md §9's reclamation model).
func OpenFileStore(path string, pageSize int) (*FileStore, error) {
	if pageSize <= 0 {
		return nil, brinerr.New(brinerr.InvariantViolation, "datastore: pageSize must be positive")
	}
	w, err := pageio.Open(path, pageSize, 1)
	if err != nil {
		return nil, brinerr.Wrap(brinerr.StorageFailure, err, "datastore: open aligned writer")
	}
	return &FileStore{path: path, pageSize: pageSize, writer: w}, nil
}

// CreateDataPage implements IndexDataStorage.
func (fs *FileStore) CreateDataPage(entries []Entry) (PageID, error) {
	blob := EncodeEntries(entries)
	chunkCap := chunkCapacity(fs.pageSize)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	n := len(blob)
	chunks := 1
	if n > 0 {
		chunks = (n + chunkCap - 1) / chunkCap
	}
	ids := make([]PageID, chunks)
	for i := range ids {
		ids[i] = PageID(fs.nextID.Add(1))
	}

	for i := 0; i < chunks; i++ {
		start := i * chunkCap
		end := start + chunkCap
		if end > n {
			end = n
		}
		next := PageID(0)
		if i+1 < chunks {
			next = ids[i+1]
		}
		buf := make([]byte, fs.pageSize)
		initChunkPage(buf, ids[i], next)
		setChunkData(buf, blob[start:end])
		if err := fs.writer.WriteBytes(buf); err != nil {
			return 0, brinerr.Wrap(brinerr.StorageFailure, err, "datastore: write data page")
		}
	}
	if err := fs.writer.Sync(); err != nil {
		return 0, brinerr.Wrap(brinerr.StorageFailure, err, "datastore: sync data page")
	}
	return ids[0], nil
}

// LoadDataPage implements IndexDataStorage.
func (fs *FileStore) LoadDataPage(id PageID) ([]Entry, error) {
	var blob []byte
	next := id
	for next != 0 {
		buf, err := fs.readPage(next)
		if err != nil {
			return nil, err
		}
		if !verifyChunkCRC(buf) {
			return nil, brinerr.New(brinerr.Corruption, fmt.Sprintf("datastore: CRC mismatch on data page %d", next))
		}
		if chunkPageID(buf) != next {
			return nil, brinerr.New(brinerr.Corruption, fmt.Sprintf("datastore: data page %d has wrong id %d", next, chunkPageID(buf)))
		}
		blob = append(blob, chunkData(buf)...)
		next = chunkNext(buf)
	}
	return DecodeEntries(blob)
}

func (fs *FileStore) readPage(id PageID) ([]byte, error) {
	off := int64(id-1) * int64(fs.pageSize)

	fs.mmapMu.Lock()
	defer fs.mmapMu.Unlock()

	if fs.mmapR == nil || off+int64(fs.pageSize) > fs.mmapLen {
		if err := fs.remapLocked(); err != nil {
			return nil, err
		}
	}
	if off+int64(fs.pageSize) > fs.mmapLen {
		return nil, brinerr.New(brinerr.Corruption, fmt.Sprintf("datastore: page %d not yet durable", id))
	}

	buf := make([]byte, fs.pageSize)
	if _, err := fs.mmapR.ReadAt(buf, off); err != nil {
		return nil, brinerr.Wrap(brinerr.StorageFailure, err, fmt.Sprintf("datastore: read page %d", id))
	}
	return buf, nil
}

func (fs *FileStore) remapLocked() error {
	if fs.mmapR != nil {
		fs.mmapR.Close()
		fs.mmapR = nil
	}
	info, err := os.Stat(fs.path)
	if err != nil {
		return brinerr.Wrap(brinerr.StorageFailure, err, "datastore: stat")
	}
	if info.Size() == 0 {
		fs.mmapLen = 0
		return nil
	}
	r, err := mmap.Open(fs.path)
	if err != nil {
		return brinerr.Wrap(brinerr.StorageFailure, err, "datastore: mmap open")
	}
	fs.mmapR = r
	fs.mmapLen = info.Size()
	return nil
}

// Close flushes and closes the underlying writer and any mapping.
func (fs *FileStore) Close() error {
	fs.mmapMu.Lock()
	if fs.mmapR != nil {
		fs.mmapR.Close()
		fs.mmapR = nil
	}
	fs.mmapMu.Unlock()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.writer.Close()
}

var _ IndexDataStorage = (*FileStore)(nil)
