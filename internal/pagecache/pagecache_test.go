package pagecache

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/WiscADSL/cuttlefs/internal/block"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	pages map[uint64][]byte
}

func (f *fakeReader) Bread(bnum uint64) ([]byte, error) {
	if d, ok := f.pages[bnum]; ok {
		buf := make([]byte, block.PageSize)
		copy(buf, d)
		return buf, nil
	}
	return make([]byte, block.PageSize), nil
}

func TestNewMemInode_ZeroValueWhenNoMetadataFile(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMemInode(42, filepath.Join(dir, "nope.meta"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), m.Size)
	assert.Empty(t, m.OffsetToBlock)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.meta")

	m, err := NewMemInode(1, path)
	require.NoError(t, err)
	m.Size = 8192
	m.Atime = 100.5
	m.Mtime = 200.25
	m.OffsetToBlock[0] = 7
	m.OffsetToBlock[block.PageSize] = 9

	require.NoError(t, m.Save())

	m2, err := NewMemInode(1, path)
	require.NoError(t, err)
	assert.Equal(t, m.Size, m2.Size)
	assert.Equal(t, m.Atime, m2.Atime)
	assert.Equal(t, m.Mtime, m2.Mtime)
	assert.Equal(t, m.OffsetToBlock, m2.OffsetToBlock)
}

func TestPageForOffset_MaterializesFromBlockMap(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMemInode(1, filepath.Join(dir, "f.meta"))
	require.NoError(t, err)

	m.OffsetToBlock[0] = 3
	reader := &fakeReader{pages: map[uint64][]byte{3: bytes.Repeat([]byte{'a'}, block.PageSize)}}

	p, err := m.PageForOffset(0, reader)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{'a'}, block.PageSize), p.Data)
	assert.False(t, p.Dirty)

	// Second call returns the same buffered page, not re-reading.
	p2, err := m.PageForOffset(0, reader)
	require.NoError(t, err)
	assert.Same(t, p, p2)
}

func TestPageForOffset_ZeroFilledWhenUnmapped(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMemInode(1, filepath.Join(dir, "f.meta"))
	require.NoError(t, err)

	p, err := m.PageForOffset(0, &fakeReader{pages: map[uint64][]byte{}})
	require.NoError(t, err)
	assert.Equal(t, make([]byte, block.PageSize), p.Data)
}

func TestDirtyPages(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMemInode(1, filepath.Join(dir, "f.meta"))
	require.NoError(t, err)

	p0, err := m.PageForOffset(0, &fakeReader{})
	require.NoError(t, err)
	p1, err := m.PageForOffset(block.PageSize, &fakeReader{})
	require.NoError(t, err)
	p1.Dirty = true

	dirty := m.DirtyPages()
	assert.Len(t, dirty, 1)
	assert.Contains(t, dirty, int64(block.PageSize))
	_ = p0
}

func TestEvictCleanPages(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMemInode(1, filepath.Join(dir, "f.meta"))
	require.NoError(t, err)

	_, err = m.PageForOffset(0, &fakeReader{})
	require.NoError(t, err)
	p1, err := m.PageForOffset(block.PageSize, &fakeReader{})
	require.NoError(t, err)
	p1.Dirty = true

	m.EvictCleanPages()

	assert.Len(t, m.OffsetToPage, 1)
	_, ok := m.OffsetToPage[block.PageSize]
	assert.True(t, ok)
}

func TestCache_PersistsWhileReferenced(t *testing.T) {
	c := New()
	dir := t.TempDir()
	m, err := NewMemInode(5, filepath.Join(dir, "f.meta"))
	require.NoError(t, err)

	c.Put(5, m)
	assert.True(t, c.Contains(5))

	got, ok := c.Get(5)
	require.True(t, ok)
	assert.Same(t, m, got)

	c.Remove(5)
	assert.False(t, c.Contains(5))
}

func TestCache_EvictCleanPages(t *testing.T) {
	c := New()
	dir := t.TempDir()
	m, err := NewMemInode(5, filepath.Join(dir, "f.meta"))
	require.NoError(t, err)
	c.Put(5, m)

	_, err = m.PageForOffset(0, &fakeReader{})
	require.NoError(t, err)

	c.EvictCleanPages()
	assert.Empty(t, m.OffsetToPage)
}
