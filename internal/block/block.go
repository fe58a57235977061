// Package block implements the Block Manager: an allocator over a flat
// page-addressed backing file, with per-(path, offset) deterministic fault
// injection at sector granularity.
package block

import (
	"fmt"
	"os"

	"github.com/WiscADSL/cuttlefs/internal/faultseq"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

const (
	// PageSize is the size, in bytes, of a Block and of a buffered Page.
	PageSize = 4096
	// SectorSize is the granularity at which faults are injected and
	// physical writes are attempted.
	SectorSize = 512
)

const sectorsPerPage = PageSize / SectorSize

// Ref identifies the attachment point of a physical write: the file's
// host path (the Filesystem Facade passes the realpath it derives from
// the logical path inside the mount) and the page-aligned logical offset
// at which the write begins. Fault injection is keyed by (path, per-sector
// logical offset) derived from this, so an installed fault does not follow
// a file across a rename or a deferred-delete move.
type Ref struct {
	Path          string
	LogicalOffset int64
}

// metaRecord is the on-disk, textual Block Manager metadata record (§6.2).
type metaRecord struct {
	Size            int64    `yaml:"size"`
	LargestBlockNum uint64   `yaml:"largest_block_num"`
	FreeList        []uint64 `yaml:"free_list"`
}

// Manager owns the single backing file shared by every MemInode, plus the
// deterministic fault-injection oracles keyed by logical (path, offset).
type Manager struct {
	path     string
	metaPath string

	file *os.File

	size            int64
	largestBlockNum uint64
	freeList        []uint64

	// faultyPaths maps a logical path to the set of sector-granular logical
	// offsets within it that have an installed Fault Sequence.
	faultyPaths map[string]map[int64]*faultseq.Sequence
}

// Open opens (creating if absent) a backing file at path and a sibling
// metadata file at path+".meta". If the metadata file does not exist, the
// backing file is initialized to PageSize bytes and both files are
// synced.
func Open(path string) (*Manager, error) {
	m := &Manager{
		path:        path,
		metaPath:    path + ".meta",
		faultyPaths: make(map[string]map[int64]*faultseq.Sequence),
	}

	if _, err := os.Stat(m.metaPath); os.IsNotExist(err) {
		if err := m.initFresh(); err != nil {
			return nil, fmt.Errorf("block: initializing fresh backing store: %w", err)
		}
		return m, nil
	} else if err != nil {
		return nil, fmt.Errorf("block: statting meta file: %w", err)
	}

	if err := m.loadMeta(); err != nil {
		return nil, fmt.Errorf("block: loading meta file: %w", err)
	}

	return m, nil
}

func (m *Manager) initFresh() error {
	f, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("creating backing file: %w", err)
	}

	if err := f.Truncate(PageSize); err != nil {
		f.Close()
		return fmt.Errorf("truncating backing file: %w", err)
	}

	m.file = f
	m.size = PageSize
	m.largestBlockNum = 0
	m.freeList = nil

	if err := m.syncBackingFile(); err != nil {
		return err
	}

	if err := m.writeMeta(); err != nil {
		return err
	}

	return nil
}

func (m *Manager) loadMeta() error {
	data, err := os.ReadFile(m.metaPath)
	if err != nil {
		return err
	}

	var rec metaRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("parsing meta record: %w", err)
	}

	m.size = rec.Size
	m.largestBlockNum = rec.LargestBlockNum
	m.freeList = append([]uint64(nil), rec.FreeList...)

	return nil
}

func (m *Manager) writeMeta() error {
	rec := metaRecord{
		Size:            m.size,
		LargestBlockNum: m.largestBlockNum,
		FreeList:        m.freeList,
	}

	data, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("marshaling meta record: %w", err)
	}

	tmp := m.metaPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp meta file: %w", err)
	}

	tf, err := os.OpenFile(tmp, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("reopening temp meta file: %w", err)
	}
	if err := tf.Sync(); err != nil {
		tf.Close()
		return fmt.Errorf("fsyncing temp meta file: %w", err)
	}
	tf.Close()

	if err := os.Rename(tmp, m.metaPath); err != nil {
		return fmt.Errorf("renaming temp meta file into place: %w", err)
	}

	return nil
}

// ensureOpen lazily reopens the backing file handle if sync() previously
// closed it.
func (m *Manager) ensureOpen() error {
	if m.file != nil {
		return nil
	}

	f, err := os.OpenFile(m.path, os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("block: reopening backing file: %w", err)
	}

	m.file = f
	return nil
}

func (m *Manager) syncBackingFile() error {
	if m.file == nil {
		return nil
	}
	return m.file.Sync()
}

// Sync flushes and fsyncs the backing file, closes it, then atomically
// rewrites and fsyncs the metadata file.
func (m *Manager) Sync() error {
	if err := m.syncBackingFile(); err != nil {
		return fmt.Errorf("block: fsyncing backing file: %w", err)
	}

	if m.file != nil {
		if err := m.file.Close(); err != nil {
			return fmt.Errorf("block: closing backing file: %w", err)
		}
		m.file = nil
	}

	return m.writeMeta()
}

// AllocBlock returns a fresh block number: reused from the free list (LIFO)
// if non-empty, else the next never-before-allocated number.
func (m *Manager) AllocBlock() uint64 {
	if n := len(m.freeList); n > 0 {
		bnum := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return bnum
	}

	bnum := m.largestBlockNum
	m.largestBlockNum++
	return bnum
}

// DeallocBlock returns bnum to the free list. Not validated against double
// free; callers must avoid it.
func (m *Manager) DeallocBlock(bnum uint64) {
	m.freeList = append(m.freeList, bnum)
}

// Bread performs a positional read of PageSize bytes at bnum*PageSize. The
// caller must ensure that offset is within the current backing file size.
func (m *Manager) Bread(bnum uint64) ([]byte, error) {
	if err := m.ensureOpen(); err != nil {
		return nil, err
	}

	buf := make([]byte, PageSize)
	off := int64(bnum) * PageSize
	if off+PageSize > m.size {
		return nil, fmt.Errorf("block: bread(%d) out of bounds (size=%d)", bnum, m.size)
	}

	n, err := unix.Pread(int(m.file.Fd()), buf, off)
	if err != nil {
		return nil, fmt.Errorf("block: pread: %w", err)
	}
	if n < PageSize {
		// Short read against a hole in a sparse file; zero-fill the remainder.
		for i := n; i < PageSize; i++ {
			buf[i] = 0
		}
	}

	return buf, nil
}

// EnableFailuresOn installs an independent clone of seq at the sector
// offset(s) identified by idx. If isBlock, idx is a block index and every
// sector covering that block gets its own clone; otherwise idx is a sector
// index and a single offset is installed. It is an error for any target
// offset to already have a sequence installed.
func (m *Manager) EnableFailuresOn(path string, seq *faultseq.Sequence, idx int64, isBlock bool) error {
	var offsets []int64
	if isBlock {
		base := idx * PageSize
		for i := 0; i < sectorsPerPage; i++ {
			offsets = append(offsets, base+int64(i)*SectorSize)
		}
	} else {
		offsets = append(offsets, idx*SectorSize)
	}

	byOffset, ok := m.faultyPaths[path]
	if !ok {
		byOffset = make(map[int64]*faultseq.Sequence)
		m.faultyPaths[path] = byOffset
	}

	for _, off := range offsets {
		if _, exists := byOffset[off]; exists {
			return fmt.Errorf("block: fault sequence already installed at %s:%d", path, off)
		}
	}

	for _, off := range offsets {
		byOffset[off] = seq.Clone()
	}

	return nil
}

// ClearFailures removes every installed fault sequence across every path,
// implementing the "allow-all-writes" control command.
func (m *Manager) ClearFailures() {
	m.faultyPaths = make(map[string]map[int64]*faultseq.Sequence)
}

// Bwrite writes data sector-by-sector to block bnum. For each sector, if a
// fault sequence is installed at ref's corresponding logical offset, the
// sequence's outcome is consulted: a fail outcome skips that sector's
// physical write and marks the overall call failed, but every remaining
// sector is still attempted. Returns true iff every sector passed.
func (m *Manager) Bwrite(bnum uint64, data []byte, ref Ref) (bool, error) {
	if len(data) != PageSize {
		return false, fmt.Errorf("block: bwrite requires exactly %d bytes, got %d", PageSize, len(data))
	}

	if err := m.ensureOpen(); err != nil {
		return false, err
	}

	seqMap := m.faultyPaths[ref.Path]

	success := true
	for i := 0; i < sectorsPerPage; i++ {
		secLogical := ref.LogicalOffset + int64(i)*SectorSize
		sectorData := data[i*SectorSize : (i+1)*SectorSize]

		if seqMap != nil {
			if seq, ok := seqMap[secLogical]; ok {
				if seq.Next() == faultseq.Fail {
					success = false
					continue
				}
			}
		}

		off := int64(bnum)*PageSize + int64(i)*SectorSize
		if _, err := unix.Pwrite(int(m.file.Fd()), sectorData, off); err != nil {
			return false, fmt.Errorf("block: pwrite: %w", err)
		}
	}

	tailOffset := int64(bnum)*PageSize + PageSize
	if tailOffset > m.size {
		m.size = tailOffset
	}

	return success, nil
}

// Size returns the current backing-file size in bytes.
func (m *Manager) Size() int64 { return m.size }

// LargestBlockNum returns the next-fresh block counter.
func (m *Manager) LargestBlockNum() uint64 { return m.largestBlockNum }
