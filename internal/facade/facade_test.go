package facade_test

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/WiscADSL/cuttlefs/internal/block"
	"github.com/WiscADSL/cuttlefs/internal/facade"
	"github.com/WiscADSL/cuttlefs/internal/faultseq"
	"github.com/WiscADSL/cuttlefs/internal/fsyncpolicy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(b byte) []byte { return bytes.Repeat([]byte{b}, block.PageSize) }

func concat(chunks ...[]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func openBlocks(t *testing.T, path string) *block.Manager {
	t.Helper()
	m, err := block.Open(path)
	require.NoError(t, err)
	return m
}

func mustFault(t *testing.T, blocks *block.Manager, realPath string, pattern string, blockIdx int64) {
	t.Helper()
	seq, err := faultseq.New(pattern)
	require.NoError(t, err)
	require.NoError(t, blocks.EnableFailuresOn(realPath, seq, blockIdx, true))
}

// writeThreeCommittedBlocks establishes the pre-state shared by S1-S5: a
// three-block file "a b c", already fsynced, fd closed.
func writeThreeCommittedBlocks(t *testing.T, fac *facade.Facade) {
	t.Helper()
	fd, err := fac.Create("/f", syscall.O_RDWR)
	require.NoError(t, err)
	_, err = fac.Write(fd, concat(page('a'), page('b'), page('c')), 0)
	require.NoError(t, err)
	require.NoError(t, fac.Fsync(fd))
	require.NoError(t, fac.Release(fd))
}

func TestS1OrderedWriteFsyncFailure(t *testing.T) {
	root := t.TempDir()
	blocks := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac, err := facade.New(root, blocks, fsyncpolicy.NewGenericFsync())
	require.NoError(t, err)

	writeThreeCommittedBlocks(t, fac)
	mustFault(t, blocks, filepath.Join(root, "f"), "xW", 1)

	fd, err := fac.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)
	_, err = fac.Write(fd, page('x'), block.PageSize)
	require.NoError(t, err)

	err = fac.Fsync(fd)
	assert.Equal(t, syscall.EIO, err)

	got, err := fac.Read(fd, 3*block.PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, concat(page('a'), page('x'), page('c')), got)
	require.NoError(t, fac.Release(fd))

	require.NoError(t, blocks.Sync())
	blocks2 := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac2, err := facade.New(root, blocks2, fsyncpolicy.NewGenericFsync())
	require.NoError(t, err)

	fd2, err := fac2.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)
	got2, err := fac2.Read(fd2, 3*block.PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, concat(page('a'), page('b'), page('c')), got2)
}

func TestS2Ext4DataLateReport(t *testing.T) {
	root := t.TempDir()
	blocks := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac, err := facade.New(root, blocks, fsyncpolicy.NewExt4Data())
	require.NoError(t, err)

	writeThreeCommittedBlocks(t, fac)
	mustFault(t, blocks, filepath.Join(root, "f"), "xW", 1)

	fd, err := fac.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)
	_, err = fac.Write(fd, page('x'), block.PageSize)
	require.NoError(t, err)

	assert.NoError(t, fac.Fsync(fd))
	assert.Equal(t, syscall.EIO, fac.Fsync(fd))
	require.NoError(t, fac.Release(fd))

	require.NoError(t, blocks.Sync())
	blocks2 := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac2, err := facade.New(root, blocks2, fsyncpolicy.NewExt4Data())
	require.NoError(t, err)
	fd2, err := fac2.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)
	got, err := fac2.Read(fd2, 3*block.PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, concat(page('a'), page('b'), page('c')), got)
}

func TestS3BtrfsRevert(t *testing.T) {
	root := t.TempDir()
	blocks := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac, err := facade.New(root, blocks, fsyncpolicy.NewBtrfs())
	require.NoError(t, err)

	writeThreeCommittedBlocks(t, fac)
	mustFault(t, blocks, filepath.Join(root, "f"), "xW", 1)

	fd, err := fac.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)
	_, err = fac.Write(fd, page('x'), block.PageSize)
	require.NoError(t, err)

	assert.Equal(t, syscall.EIO, fac.Fsync(fd))

	got, err := fac.Read(fd, 3*block.PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, concat(page('a'), page('b'), page('c')), got)
	require.NoError(t, fac.Release(fd))

	require.NoError(t, blocks.Sync())
	blocks2 := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac2, err := facade.New(root, blocks2, fsyncpolicy.NewBtrfs())
	require.NoError(t, err)
	fd2, err := fac2.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)
	got2, err := fac2.Read(fd2, 3*block.PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, concat(page('a'), page('b'), page('c')), got2)
}

func TestS4AppendUnderFaultOrdered(t *testing.T) {
	root := t.TempDir()
	blocks := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac, err := facade.New(root, blocks, fsyncpolicy.NewGenericFsync())
	require.NoError(t, err)

	writeThreeCommittedBlocks(t, fac)
	mustFault(t, blocks, filepath.Join(root, "f"), "xW", 3)

	fd, err := fac.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)

	_, err = fac.Write(fd, page('x'), 3*block.PageSize)
	require.NoError(t, err)
	assert.Equal(t, syscall.EIO, fac.Fsync(fd))

	_, err = fac.Write(fd, page('y'), 4*block.PageSize)
	require.NoError(t, err)
	assert.NoError(t, fac.Fsync(fd))

	got, err := fac.Read(fd, 5*block.PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, concat(page('a'), page('b'), page('c'), page('x'), page('y')), got)
	require.NoError(t, fac.Release(fd))

	require.NoError(t, blocks.Sync())
	blocks2 := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac2, err := facade.New(root, blocks2, fsyncpolicy.NewGenericFsync())
	require.NoError(t, err)
	fd2, err := fac2.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)

	prefix, err := fac2.Read(fd2, 3*block.PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, concat(page('a'), page('b'), page('c')), prefix)

	suffix, err := fac2.Read(fd2, block.PageSize, 4*block.PageSize)
	require.NoError(t, err)
	assert.Equal(t, page('y'), suffix)

	hole, err := fac2.Read(fd2, block.PageSize, 3*block.PageSize)
	require.NoError(t, err)
	assert.NotEqual(t, page('x'), hole)
}

func TestS5BtrfsAppendWithHole(t *testing.T) {
	root := t.TempDir()
	blocks := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac, err := facade.New(root, blocks, fsyncpolicy.NewBtrfs())
	require.NoError(t, err)

	writeThreeCommittedBlocks(t, fac)
	mustFault(t, blocks, filepath.Join(root, "f"), "xW", 3)

	fd, err := fac.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)

	_, err = fac.Write(fd, page('x'), 3*block.PageSize)
	require.NoError(t, err)
	assert.Equal(t, syscall.EIO, fac.Fsync(fd))

	_, err = fac.Write(fd, page('y'), 4*block.PageSize)
	require.NoError(t, err)
	assert.NoError(t, fac.Fsync(fd))

	got, err := fac.Read(fd, 5*block.PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, concat(page('a'), page('b'), page('c'), make([]byte, block.PageSize), page('y')), got)
	require.NoError(t, fac.Release(fd))

	require.NoError(t, blocks.Sync())
	blocks2 := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac2, err := facade.New(root, blocks2, fsyncpolicy.NewBtrfs())
	require.NoError(t, err)
	fd2, err := fac2.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)
	got2, err := fac2.Read(fd2, 5*block.PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, got, got2)
}

func TestS6DeferredDeleteWithOpenFD(t *testing.T) {
	root := t.TempDir()
	blocks := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac, err := facade.New(root, blocks, fsyncpolicy.NewGenericFsync())
	require.NoError(t, err)

	fd0, err := fac.Create("/f", syscall.O_RDWR)
	require.NoError(t, err)
	_, err = fac.Write(fd0, page('a'), 0)
	require.NoError(t, err)
	require.NoError(t, fac.Fsync(fd0))
	require.NoError(t, fac.Release(fd0))

	fd1, err := fac.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)

	require.NoError(t, fac.Unlink("/f"))

	got, err := fac.Read(fd1, block.PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, page('a'), got)

	require.NoError(t, fac.Release(fd1))

	_, err = fac.GetAttr("/f")
	assert.True(t, os.IsNotExist(err))

	reused := blocks.AllocBlock()
	assert.EqualValues(t, 0, reused)
}

func TestReadAfterWriteWithoutFsync(t *testing.T) {
	root := t.TempDir()
	blocks := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac, err := facade.New(root, blocks, fsyncpolicy.NewGenericFsync())
	require.NoError(t, err)

	fd, err := fac.Create("/f", syscall.O_RDWR)
	require.NoError(t, err)
	_, err = fac.Write(fd, page('a'), 0)
	require.NoError(t, err)

	got, err := fac.Read(fd, block.PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, page('a'), got)
}

func TestUnsyncedWritesLostOnReopen(t *testing.T) {
	root := t.TempDir()
	blocks := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac, err := facade.New(root, blocks, fsyncpolicy.NewGenericFsync())
	require.NoError(t, err)

	fd, err := fac.Create("/f", syscall.O_RDWR)
	require.NoError(t, err)
	_, err = fac.Write(fd, page('a'), 0)
	require.NoError(t, err)
	require.NoError(t, fac.Fsync(fd))

	_, err = fac.Write(fd, page('b'), 0)
	require.NoError(t, err)
	require.NoError(t, fac.Release(fd))

	fac2, err := facade.New(root, blocks, fsyncpolicy.NewGenericFsync())
	require.NoError(t, err)
	fd2, err := fac2.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)
	got, err := fac2.Read(fd2, block.PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, page('a'), got)
}

func TestNotificationOnNextOpener(t *testing.T) {
	root := t.TempDir()
	blocks := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac, err := facade.New(root, blocks, fsyncpolicy.NewGenericFsync())
	require.NoError(t, err)

	fd0, err := fac.Create("/f", syscall.O_RDWR)
	require.NoError(t, err)
	_, err = fac.Write(fd0, page('a'), 0)
	require.NoError(t, err)
	require.NoError(t, fac.Fsync(fd0))
	require.NoError(t, fac.Release(fd0))

	mustFault(t, blocks, filepath.Join(root, "f"), "xW", 0)

	fdA, err := fac.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)
	fdB, err := fac.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)

	_, err = fac.Write(fdA, page('x'), 0)
	require.NoError(t, err)

	assert.Equal(t, syscall.EIO, fac.Fsync(fdA))

	// fdB never calls fsync and closes without consuming its notification.
	require.NoError(t, fac.Release(fdB))

	fdC, err := fac.Open("/f", syscall.O_RDWR)
	require.NoError(t, err)

	assert.Equal(t, syscall.EIO, fac.Fsync(fdC))
	assert.NoError(t, fac.Fsync(fdC))

	require.NoError(t, fac.Release(fdA))
	require.NoError(t, fac.Release(fdC))
}

func TestTruncateGrowZeroFillsAndShrinkDropsTail(t *testing.T) {
	root := t.TempDir()
	blocks := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac, err := facade.New(root, blocks, fsyncpolicy.NewGenericFsync())
	require.NoError(t, err)

	fd, err := fac.Create("/f", syscall.O_RDWR)
	require.NoError(t, err)
	_, err = fac.Write(fd, page('a'), 0)
	require.NoError(t, err)

	require.NoError(t, fac.Truncate("/f", block.PageSize+10))
	got, err := fac.Read(fd, block.PageSize+10, 0)
	require.NoError(t, err)
	assert.Equal(t, page('a'), got[:block.PageSize])
	assert.Equal(t, make([]byte, 10), got[block.PageSize:])

	require.NoError(t, fac.Truncate("/f", 10))
	got, err = fac.Read(fd, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, page('a')[:10], got)

	attr, err := fac.GetAttr("/f")
	require.NoError(t, err)
	assert.EqualValues(t, 10, attr.Size)
}

func TestRenameUpdatesOpenFDRealPath(t *testing.T) {
	root := t.TempDir()
	blocks := openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))
	fac, err := facade.New(root, blocks, fsyncpolicy.NewGenericFsync())
	require.NoError(t, err)

	fd, err := fac.Create("/f", syscall.O_RDWR)
	require.NoError(t, err)
	_, err = fac.Write(fd, page('a'), 0)
	require.NoError(t, err)
	require.NoError(t, fac.Fsync(fd))

	require.NoError(t, fac.Rename("/f", "/g"))

	got, err := fac.Read(fd, block.PageSize, 0)
	require.NoError(t, err)
	assert.Equal(t, page('a'), got)

	require.NoError(t, fac.Release(fd))

	_, err = fac.GetAttr("/f")
	assert.True(t, os.IsNotExist(err))
	_, err = fac.GetAttr("/g")
	assert.NoError(t, err)
}

// setupCommittedFileWithFreshCache writes and fsyncs a one-block file
// through one Facade, then hands back a second Facade over the same
// backing store with an empty Page Cache, so every operation it performs
// on "/f" starts from a cache miss.
func setupCommittedFileWithFreshCache(t *testing.T, content []byte) (root string, blocks *block.Manager, fac *facade.Facade) {
	t.Helper()
	root = t.TempDir()
	blocks = openBlocks(t, filepath.Join(root, "cuttlefs.blocks"))

	setup, err := facade.New(root, blocks, fsyncpolicy.NewGenericFsync())
	require.NoError(t, err)

	fd, err := setup.Create("/f", syscall.O_RDWR)
	require.NoError(t, err)
	_, err = setup.Write(fd, content, 0)
	require.NoError(t, err)
	require.NoError(t, setup.Fsync(fd))
	require.NoError(t, setup.Release(fd))

	fac, err = facade.New(root, blocks, fsyncpolicy.NewGenericFsync())
	require.NoError(t, err)
	return root, blocks, fac
}

func TestGetAttrOnCacheMissDerivesFromMemInode(t *testing.T) {
	root, _, fac := setupCommittedFileWithFreshCache(t, page('a')[:10])

	attr, err := fac.GetAttr("/f")
	require.NoError(t, err)
	assert.EqualValues(t, 10, attr.Size)

	// The host metadata file holds the textual MemInode record, not the
	// 10 logical bytes; its raw length must not leak through as Size.
	fi, err := os.Stat(filepath.Join(root, "f"))
	require.NoError(t, err)
	assert.Greater(t, fi.Size(), int64(10))
}

func TestTruncateOnCacheMissLoadsMemInode(t *testing.T) {
	_, _, fac := setupCommittedFileWithFreshCache(t, page('a'))

	require.NoError(t, fac.Truncate("/f", 10))

	attr, err := fac.GetAttr("/f")
	require.NoError(t, err)
	assert.EqualValues(t, 10, attr.Size)
}

func TestUtimensOnCacheMissLoadsAndPersistsMemInode(t *testing.T) {
	_, _, fac := setupCommittedFileWithFreshCache(t, page('a'))

	require.NoError(t, fac.Utimens("/f", 123.5, 456.5))

	attr, err := fac.GetAttr("/f")
	require.NoError(t, err)
	assert.Equal(t, 123.5, attr.Atime)
	assert.Equal(t, 456.5, attr.Mtime)
}

func TestUnlinkOnCacheMissDeallocatesBlocks(t *testing.T) {
	_, blocks, fac := setupCommittedFileWithFreshCache(t, page('a'))

	require.NoError(t, fac.Unlink("/f"))

	reused := blocks.AllocBlock()
	assert.EqualValues(t, 0, reused)

	_, err := fac.GetAttr("/f")
	assert.True(t, os.IsNotExist(err))
}
