// Package nodestore implements a disk-backed, mmap-read associative array
// keyed by a dense 64-bit identifier, built for many concurrent writers
// followed by random-access reads. The renderer uses it to recover way and
// relation node coordinates during reassembly.
package nodestore

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

const (
	// SegBits is the log2 size of one segment of the backing file.
	SegBits = 27
	// SegBytes is one segment's size: 128 MiB.
	SegBytes = 1 << SegBits
	// MaxPending bounds the number of in-flight (unflushed) segment buffers,
	// capping worst-case resident memory at MaxPending*SegBytes (2.5 GiB).
	MaxPending = 20
	// Missing is the sentinel Get returns for a key never Put.
	Missing uint64 = 0
)

type flushJob struct {
	segment int64
	buf     []byte
}

// Table is a Mmap Long→Long Table. Create one with New, obtain Writer
// handles with NewWriter, Put through them concurrently, then Get: the
// first Get implicitly seals the table and makes it read-only.
type Table struct {
	path string
	file *os.File

	mu        sync.Mutex
	pending   map[int64][]byte
	positions []*atomic.Int64
	sem       chan struct{}

	sealMu   sync.Mutex
	sealed   atomic.Bool
	readFile *os.File
	mapped   []byte
	segments [][]byte
	fileSize int64
}

// New creates a Table backed by a temporary file in dir.
func New(dir string) (*Table, error) {
	f, err := os.CreateTemp(dir, "nodestore-*.bin")
	if err != nil {
		return nil, fmt.Errorf("nodestore: create backing file: %w", err)
	}
	return &Table{
		path:    f.Name(),
		file:    f,
		pending: make(map[int64][]byte),
		sem:     make(chan struct{}, MaxPending),
	}, nil
}

// Writer is a per-producer write handle. Keys issued through one Writer
// must be non-decreasing; the union of key ranges across Writers may
// overlap, but the result is only well-defined if no two Writers ever
// write the same key.
type Writer struct {
	table       *Table
	pos         *atomic.Int64
	lastSegment int64
	buf         []byte
}

// NewWriter registers a new writer handle against the table.
func (t *Table) NewWriter() *Writer {
	pos := &atomic.Int64{}
	t.mu.Lock()
	t.positions = append(t.positions, pos)
	t.mu.Unlock()
	return &Writer{table: t, pos: pos, lastSegment: -1}
}

// Put stores value under key. value must be non-zero: zero is reserved for
// Missing.
func (w *Writer) Put(key, value uint64) error {
	if value == Missing {
		return fmt.Errorf("nodestore: value 0 is reserved for Missing")
	}
	if w.table.sealed.Load() {
		return fmt.Errorf("nodestore: put after seal")
	}
	offset := int64(key) * 8
	segment := offset >> SegBits
	local := offset & (SegBytes - 1)

	if segment != w.lastSegment {
		buf, err := w.table.transition(w, segment)
		if err != nil {
			return err
		}
		w.buf = buf
		w.lastSegment = segment
	}

	binary.LittleEndian.PutUint64(w.buf[local:local+8], value)
	return nil
}

// transition performs the cross-segment handoff described in the write
// algorithm: advertise the writer's new position, evict and schedule for
// flush any pending segment now behind every writer, then acquire (reusing
// or allocating, respecting MaxPending) the buffer for the new segment.
func (t *Table) transition(w *Writer, newSegment int64) ([]byte, error) {
	t.mu.Lock()
	w.pos.Store(newSegment)
	minSegment := t.minSegmentLocked()

	var jobs []flushJob
	for seg, buf := range t.pending {
		if seg < minSegment {
			jobs = append(jobs, flushJob{seg, buf})
			delete(t.pending, seg)
		}
	}
	buf, exists := t.pending[newSegment]
	t.mu.Unlock()

	for _, j := range jobs {
		if err := t.flushSegment(j.segment, j.buf); err != nil {
			return nil, err
		}
		<-t.sem
	}

	if exists {
		return buf, nil
	}

	t.sem <- struct{}{}
	t.mu.Lock()
	defer t.mu.Unlock()
	if buf, exists = t.pending[newSegment]; exists {
		<-t.sem
		return buf, nil
	}
	buf = make([]byte, SegBytes)
	t.pending[newSegment] = buf
	return buf, nil
}

// minSegmentLocked returns the lowest segment any writer currently occupies.
// t.mu must be held.
func (t *Table) minSegmentLocked() int64 {
	min := int64(1)<<62 - 1
	for _, pos := range t.positions {
		if v := pos.Load(); v < min {
			min = v
		}
	}
	return min
}

func (t *Table) flushSegment(segment int64, buf []byte) error {
	_, err := t.file.WriteAt(buf, segment<<SegBits)
	if err != nil {
		return fmt.Errorf("nodestore: flush segment %d: %w", segment, err)
	}
	return nil
}

// seal flushes every remaining pending buffer, closes the write file, and
// memory-maps the result read-only. Idempotent: a second call is a no-op.
func (t *Table) seal() error {
	t.sealMu.Lock()
	defer t.sealMu.Unlock()
	if t.sealed.Load() {
		return nil
	}

	t.mu.Lock()
	jobs := make([]flushJob, 0, len(t.pending))
	for seg, buf := range t.pending {
		jobs = append(jobs, flushJob{seg, buf})
	}
	t.pending = make(map[int64][]byte)
	t.mu.Unlock()

	for _, j := range jobs {
		if err := t.flushSegment(j.segment, j.buf); err != nil {
			return err
		}
		<-t.sem
	}

	info, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("nodestore: stat backing file: %w", err)
	}
	size := info.Size()
	if err := t.file.Close(); err != nil {
		return fmt.Errorf("nodestore: close write file: %w", err)
	}

	rf, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("nodestore: reopen backing file: %w", err)
	}

	var mapped []byte
	if size > 0 {
		mapped, err = mmapFile(rf.Fd(), int(size))
		if err != nil {
			rf.Close()
			return fmt.Errorf("nodestore: mmap backing file: %w", err)
		}
	}

	t.readFile = rf
	t.mapped = mapped
	t.segments = splitSegments(mapped)
	t.fileSize = size
	t.sealed.Store(true)
	return nil
}

func splitSegments(mapped []byte) [][]byte {
	if len(mapped) == 0 {
		return nil
	}
	n := (len(mapped) + SegBytes - 1) / SegBytes
	segments := make([][]byte, n)
	for i := 0; i < n; i++ {
		lo := i * SegBytes
		hi := lo + SegBytes
		if hi > len(mapped) {
			hi = len(mapped)
		}
		segments[i] = mapped[lo:hi]
	}
	return segments
}

// Get seals the table on first call if it is not already sealed, then
// returns the value stored for key, or Missing if key was never written.
func (t *Table) Get(key uint64) (uint64, error) {
	if err := t.seal(); err != nil {
		return 0, err
	}
	offset := int64(key) * 8
	seg := offset >> SegBits
	local := offset & (SegBytes - 1)
	if seg < 0 || int(seg) >= len(t.segments) {
		return Missing, nil
	}
	data := t.segments[seg]
	if local+8 > int64(len(data)) {
		return Missing, nil
	}
	return binary.LittleEndian.Uint64(data[local : local+8]), nil
}

// DiskUsageBytes reports the backing file's size.
func (t *Table) DiskUsageBytes() (int64, error) {
	t.sealMu.Lock()
	sealed := t.sealed.Load()
	size := t.fileSize
	t.sealMu.Unlock()
	if sealed {
		return size, nil
	}
	info, err := t.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// EstimateMemoryUsageBytes always returns zero: the table's storage is
// memory-mapped, not counted as resident by the table itself.
func (t *Table) EstimateMemoryUsageBytes() int64 {
	return 0
}

// Close seals the table if needed, unmaps it, closes the read file, and
// deletes the backing file. Idempotent after sealing.
func (t *Table) Close() error {
	if err := t.seal(); err != nil {
		return err
	}
	t.sealMu.Lock()
	defer t.sealMu.Unlock()
	if t.mapped != nil {
		if err := munmapFile(t.mapped); err != nil {
			return fmt.Errorf("nodestore: unmap: %w", err)
		}
		t.mapped = nil
		t.segments = nil
	}
	if t.readFile != nil {
		if err := t.readFile.Close(); err != nil {
			return fmt.Errorf("nodestore: close read file: %w", err)
		}
		t.readFile = nil
	}
	return os.Remove(t.path)
}
