package pagecache

import (
	"fmt"
	"os"

	"github.com/WiscADSL/cuttlefs/internal/block"
	"gopkg.in/yaml.v3"
)

// fileMetaRecord is the on-disk, textual per-file metadata record (§6.1).
type fileMetaRecord struct {
	Size          int64             `yaml:"size"`
	Atime         float64           `yaml:"atime"`
	Mtime         float64           `yaml:"mtime"`
	OffsetToBlock map[string]uint64 `yaml:"offset_to_block"`
}

// MemInode is the in-memory record for one file: buffered pages, the
// offset->block map, size, and times.
type MemInode struct {
	HostInode uint64
	RealPath  string

	OffsetToBlock map[int64]uint64
	OffsetToPage  map[int64]*Page

	Size  int64
	Atime float64
	Mtime float64
}

// NewMemInode constructs a MemInode for hostInode backed by the per-file
// metadata record at realPath, loading it if present or starting from a
// zero-valued record (e.g. immediately after create(), before the first
// metadata write).
func NewMemInode(hostInode uint64, realPath string) (*MemInode, error) {
	m := &MemInode{
		HostInode:     hostInode,
		RealPath:      realPath,
		OffsetToBlock: make(map[int64]uint64),
		OffsetToPage:  make(map[int64]*Page),
	}

	if _, err := os.Stat(realPath); err == nil {
		if err := m.Load(); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("pagecache: statting %q: %w", realPath, err)
	}

	return m, nil
}

// Load (re)populates size, atime, mtime and the block map from the on-disk
// metadata record at m.RealPath.
func (m *MemInode) Load() error {
	data, err := os.ReadFile(m.RealPath)
	if err != nil {
		return fmt.Errorf("pagecache: reading metadata %q: %w", m.RealPath, err)
	}

	var rec fileMetaRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("pagecache: parsing metadata %q: %w", m.RealPath, err)
	}

	offsetToBlock := make(map[int64]uint64, len(rec.OffsetToBlock))
	for k, v := range rec.OffsetToBlock {
		var off int64
		if _, err := fmt.Sscanf(k, "%d", &off); err != nil {
			return fmt.Errorf("pagecache: bad offset key %q in %q: %w", k, m.RealPath, err)
		}
		offsetToBlock[off] = v
	}

	m.Size = rec.Size
	m.Atime = rec.Atime
	m.Mtime = rec.Mtime
	m.OffsetToBlock = offsetToBlock

	return nil
}

// Save persists the current size/atime/mtime/block-map to the on-disk
// metadata record at m.RealPath, fsyncing it.
func (m *MemInode) Save() error {
	strMap := make(map[string]uint64, len(m.OffsetToBlock))
	for off, bnum := range m.OffsetToBlock {
		strMap[fmt.Sprintf("%d", off)] = bnum
	}

	rec := fileMetaRecord{
		Size:          m.Size,
		Atime:         m.Atime,
		Mtime:         m.Mtime,
		OffsetToBlock: strMap,
	}

	data, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("pagecache: marshaling metadata: %w", err)
	}

	f, err := os.OpenFile(m.RealPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("pagecache: opening metadata %q: %w", m.RealPath, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("pagecache: writing metadata %q: %w", m.RealPath, err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("pagecache: fsyncing metadata %q: %w", m.RealPath, err)
	}

	return nil
}

// PageOffset returns the page-aligned offset containing the logical byte
// offset off.
func PageOffset(off int64) int64 {
	return (off / block.PageSize) * block.PageSize
}

// PageForOffset returns the buffered page for the page-aligned offset
// pageOff, materializing it (zero-filled, or loaded from its mapped block
// via reader) if it is not already buffered.
func (m *MemInode) PageForOffset(pageOff int64, reader BlockReader) (*Page, error) {
	if p, ok := m.OffsetToPage[pageOff]; ok {
		return p, nil
	}

	p := newPage(m.HostInode, pageOff)

	if bnum, ok := m.OffsetToBlock[pageOff]; ok {
		data, err := reader.Bread(bnum)
		if err != nil {
			return nil, fmt.Errorf("pagecache: materializing page at %d: %w", pageOff, err)
		}
		copy(p.Data, data)
	}

	m.OffsetToPage[pageOff] = p
	return p, nil
}

// DirtyPages returns the subset of buffered pages whose Dirty flag is set.
func (m *MemInode) DirtyPages() map[int64]*Page {
	dirty := make(map[int64]*Page)
	for off, p := range m.OffsetToPage {
		if p.Dirty {
			dirty[off] = p
		}
	}
	return dirty
}

// EvictCleanPages drops every buffered page that is not dirty.
func (m *MemInode) EvictCleanPages() {
	for off, p := range m.OffsetToPage {
		if !p.Dirty {
			delete(m.OffsetToPage, off)
		}
	}
}
