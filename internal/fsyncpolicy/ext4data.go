package fsyncpolicy

import "github.com/WiscADSL/cuttlefs/internal/pagecache"

// Ext4Data implements ext4's data=journal discipline. Because file data is
// itself journaled, a failed writeback does not surface at the write call
// that triggered it: it is only discovered and reported the next time the
// inode's fd set is checked, which in practice means at the next fsync.
// on_sync_write therefore records the failure for the inode's open fds but
// never returns EIO directly from a write.
type Ext4Data struct {
	notify notifier
}

// NewExt4Data returns an Ext4Data policy with empty bookkeeping.
func NewExt4Data() *Ext4Data {
	return &Ext4Data{notify: newNotifier()}
}

// OnFsync delivers an already-owed deferred notification with no I/O at
// all. Only once no notification is owed does it attempt the flush, in
// which case a newly discovered failure is still deferred to the fsync
// after this one.
func (e *Ext4Data) OnFsync(ctx *Context, fd int, inode uint64, path string, minode *pagecache.MemInode) int {
	if e.notify.shouldNotifyFD(fd, inode) {
		e.notify.markFDNotified(fd, inode)
		return EIO
	}

	dirty := minode.DirtyPages()
	ok := syncPages(ctx, path, minode, dirty)
	_ = syncMeta(minode)

	if !ok {
		e.notify.addFDsToNotify(ctx, inode)
	}
	return 0
}

// OnSyncWrite writes the pages and journals minode's metadata, but defers
// reporting any failure to the next fsync on this inode: this is the
// corrected call, passing minode itself to syncMeta rather than a bare
// inode number.
func (e *Ext4Data) OnSyncWrite(ctx *Context, fd int, inode uint64, path string, minode *pagecache.MemInode, pages map[int64]*pagecache.Page) int {
	ok := syncPages(ctx, path, minode, pages)
	_ = syncMeta(minode)

	if !ok {
		e.notify.addFDsToNotify(ctx, inode)
	}
	return 0
}

func (e *Ext4Data) OnCloseFD(fd int, inode uint64) {
	e.notify.onCloseFD(fd, inode)
}
