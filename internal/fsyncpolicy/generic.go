package fsyncpolicy

import "github.com/WiscADSL/cuttlefs/internal/pagecache"

// GenericFsync implements the ext4-ordered and XFS fsync discipline: both
// journaling modes report a writeback failure immediately -- to every fd
// open at the time of the failure, or the first fd to fsync or write
// after it -- and attempt every dirty page in a flush even once one of
// them has failed. Per spec.md §9 the two share a single implementation.
type GenericFsync struct {
	notify notifier
}

// NewGenericFsync returns a GenericFsync policy with empty bookkeeping.
func NewGenericFsync() *GenericFsync {
	return &GenericFsync{notify: newNotifier()}
}

func (g *GenericFsync) OnFsync(ctx *Context, fd int, inode uint64, path string, minode *pagecache.MemInode) int {
	dirty := minode.DirtyPages()
	ok := syncPages(ctx, path, minode, dirty)
	_ = syncMeta(minode)

	if !ok {
		g.notify.addFDsToNotify(ctx, inode)
	}

	if g.notify.shouldNotifyFD(fd, inode) {
		g.notify.markFDNotified(fd, inode)
		return EIO
	}
	return 0
}

func (g *GenericFsync) OnSyncWrite(ctx *Context, fd int, inode uint64, path string, minode *pagecache.MemInode, pages map[int64]*pagecache.Page) int {
	if g.notify.shouldNotifyFD(fd, inode) {
		g.notify.markFDNotified(fd, inode)
		return EIO
	}

	ok := syncPages(ctx, path, minode, pages)
	_ = syncMeta(minode)

	if !ok {
		g.notify.addFDsToNotify(ctx, inode)
		g.notify.markFDNotified(fd, inode)
		return EIO
	}
	return 0
}

func (g *GenericFsync) OnCloseFD(fd int, inode uint64) {
	g.notify.onCloseFD(fd, inode)
}
