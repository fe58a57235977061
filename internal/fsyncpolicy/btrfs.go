package fsyncpolicy

import (
	"errors"
	"os"

	"github.com/WiscADSL/cuttlefs/internal/block"
	"github.com/WiscADSL/cuttlefs/internal/pagecache"
)

// Btrfs implements btrfs's copy-on-write fsync discipline: every dirty page
// in a flush is written to a freshly allocated block, never overwriting
// its current one. The first page write that fails aborts the rest of the
// flush, frees every block newly allocated during it, and reverts the
// MemInode to its last-committed on-disk state -- losing the entire
// flush's writes from the application's point of view, not just the
// failing page's.
type Btrfs struct {
	notify notifier
}

// NewBtrfs returns a Btrfs policy with empty bookkeeping.
func NewBtrfs() *Btrfs {
	return &Btrfs{notify: newNotifier()}
}

func (b *Btrfs) syncPagesCOW(ctx *Context, path string, minode *pagecache.MemInode, pages map[int64]*pagecache.Page) bool {
	newBlocks := make(map[int64]uint64, len(pages))
	oldBlocks := make(map[int64]uint64, len(pages))

	for _, off := range sortedOffsets(pages) {
		p := pages[off]

		if oldBnum, hadOld := minode.OffsetToBlock[off]; hadOld {
			oldBlocks[off] = oldBnum
		}

		newBnum := ctx.Blocks.AllocBlock()
		newBlocks[off] = newBnum

		passed, err := ctx.Blocks.Bwrite(newBnum, p.Data, block.Ref{Path: path, LogicalOffset: off})
		if err != nil || !passed {
			for _, nb := range newBlocks {
				ctx.Blocks.DeallocBlock(nb)
			}
			return false
		}

		p.Dirty = false
		minode.OffsetToBlock[off] = newBnum
	}

	for _, ob := range oldBlocks {
		ctx.Blocks.DeallocBlock(ob)
	}
	return true
}

// revertToDisk reloads minode's last-committed metadata record, discarding
// every in-memory mutation made by the failed flush, and evicts the
// buffered pages that flush touched so later reads repopulate from the
// (reverted) block map instead of the stale in-memory copy.
func revertToDisk(minode *pagecache.MemInode, touched map[int64]*pagecache.Page) {
	if err := minode.Load(); err != nil && errors.Is(err, os.ErrNotExist) {
		minode.Size = 0
		minode.Atime = 0
		minode.Mtime = 0
		minode.OffsetToBlock = make(map[int64]uint64)
	}

	for off := range touched {
		delete(minode.OffsetToPage, off)
	}
}

func (b *Btrfs) fsyncOrSyncWrite(ctx *Context, fd int, inode uint64, path string, minode *pagecache.MemInode, pages map[int64]*pagecache.Page) int {
	if b.notify.shouldNotifyFD(fd, inode) {
		b.notify.markFDNotified(fd, inode)
		return EIO
	}

	ok := b.syncPagesCOW(ctx, path, minode, pages)
	if ok {
		_ = syncMeta(minode)
		return 0
	}

	revertToDisk(minode, pages)
	b.notify.addFDsToNotify(ctx, inode)
	b.notify.markFDNotified(fd, inode)
	return EIO
}

func (b *Btrfs) OnFsync(ctx *Context, fd int, inode uint64, path string, minode *pagecache.MemInode) int {
	return b.fsyncOrSyncWrite(ctx, fd, inode, path, minode, minode.DirtyPages())
}

// OnSyncWrite is identical to OnFsync under btrfs: an O_SYNC write behaves
// like a write followed immediately by an fsync.
func (b *Btrfs) OnSyncWrite(ctx *Context, fd int, inode uint64, path string, minode *pagecache.MemInode, pages map[int64]*pagecache.Page) int {
	return b.fsyncOrSyncWrite(ctx, fd, inode, path, minode, pages)
}

func (b *Btrfs) OnCloseFD(fd int, inode uint64) {
	b.notify.onCloseFD(fd, inode)
}
