package fuseadapter

import (
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
)

func TestInodeTableRootIsPreseeded(t *testing.T) {
	tbl := newInodeTable()
	assert.Equal(t, "/", tbl.path(fuseops.RootInodeID))
	assert.Equal(t, fuseops.RootInodeID, tbl.lookup("/"))
}

func TestInodeTableLookupIsStable(t *testing.T) {
	tbl := newInodeTable()

	id1 := tbl.lookup("/foo")
	id2 := tbl.lookup("/foo")
	assert.Equal(t, id1, id2)
	assert.Equal(t, "/foo", tbl.path(id1))

	id3 := tbl.lookup("/bar")
	assert.NotEqual(t, id1, id3)
}

func TestInodeTableRename(t *testing.T) {
	tbl := newInodeTable()
	id := tbl.lookup("/old")

	tbl.rename("/old", "/new")

	assert.Equal(t, "/new", tbl.path(id))
	assert.Equal(t, id, tbl.lookup("/new"))
}

func TestInodeTableForget(t *testing.T) {
	tbl := newInodeTable()
	id := tbl.lookup("/gone")
	tbl.forget("/gone")

	assert.Equal(t, "", tbl.path(id))
	// A later lookup of the same path mints a fresh id.
	assert.NotEqual(t, id, tbl.lookup("/gone"))
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/foo", joinPath("/", "foo"))
	assert.Equal(t, "/foo/bar", joinPath("/foo", "bar"))
}

func TestDirHandleTable(t *testing.T) {
	tbl := newDirHandleTable()
	dh := &dirHandle{}

	id := tbl.put(dh)
	got, ok := tbl.get(id)
	assert.True(t, ok)
	assert.Same(t, dh, got)

	tbl.release(id)
	_, ok = tbl.get(id)
	assert.False(t, ok)
}
