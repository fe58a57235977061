package facade

import (
	"os"
	"syscall"

	"github.com/WiscADSL/cuttlefs/internal/block"
	"github.com/WiscADSL/cuttlefs/internal/pagecache"
)

// Attr is the subset of stat(2) fields the Facade overrides for a regular
// file whose authoritative size/atime/mtime live in its MemInode rather
// than on the host file itself.
type Attr struct {
	Size  int64
	Atime float64
	Mtime float64
}

func (f *Facade) lookupInode(path string) (uint64, error) {
	fi, err := os.Stat(f.realpath(path))
	if err != nil {
		return 0, err
	}
	return hostInode(fi)
}

// ensureMemInode returns the cached MemInode for inode, constructing it
// from the on-disk metadata record at realPath and caching it if this is
// the first reference since the last time the inode was dropped from the
// Page Cache (e.g. a stat or truncate reaching a file that was never
// opened since the last remount).
func (f *Facade) ensureMemInode(inode uint64, realPath string) (*pagecache.MemInode, error) {
	if minode, ok := f.cache.Get(inode); ok {
		return minode, nil
	}

	minode, err := pagecache.NewMemInode(inode, realPath)
	if err != nil {
		return nil, err
	}
	f.cache.Put(inode, minode)
	return minode, nil
}

// Truncate implements truncate(path, length), mutating the MemInode's own
// page and block maps directly in every branch (never a Facade-level
// copy of them).
func (f *Facade) Truncate(path string, length int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	inode, err := f.lookupInode(path)
	if err != nil {
		return err
	}
	minode, err := f.ensureMemInode(inode, f.realpath(path))
	if err != nil {
		return err
	}

	switch {
	case length == minode.Size:
		return nil
	case length == 0:
		return f.truncateToZero(minode)
	case length < minode.Size:
		return f.truncateShrink(minode, length)
	default:
		return f.truncateGrow(minode, length)
	}
}

func (f *Facade) truncateToZero(minode *pagecache.MemInode) error {
	for _, bnum := range minode.OffsetToBlock {
		f.blocks.DeallocBlock(bnum)
	}
	minode.OffsetToPage = make(map[int64]*pagecache.Page)
	minode.OffsetToBlock = make(map[int64]uint64)
	minode.Size = 0
	return minode.Save()
}

func (f *Facade) truncateShrink(minode *pagecache.MemInode, length int64) error {
	lastPageOff := pagecache.PageOffset(length - 1)

	page, err := minode.PageForOffset(lastPageOff, f.blocks)
	if err != nil {
		return err
	}
	tailStart := length % block.PageSize
	for i := tailStart; i < block.PageSize; i++ {
		page.Data[i] = 0
	}
	page.Dirty = true

	for off := range minode.OffsetToPage {
		if off > lastPageOff && off < minode.Size {
			delete(minode.OffsetToPage, off)
		}
	}
	for off, bnum := range minode.OffsetToBlock {
		if off > lastPageOff && off < minode.Size {
			f.blocks.DeallocBlock(bnum)
			delete(minode.OffsetToBlock, off)
		}
	}

	minode.Size = length
	return minode.Save()
}

func (f *Facade) truncateGrow(minode *pagecache.MemInode, length int64) error {
	for pageOff := pagecache.PageOffset(minode.Size); pageOff < length; pageOff += block.PageSize {
		page, err := minode.PageForOffset(pageOff, f.blocks)
		if err != nil {
			return err
		}
		start := int64(0)
		if pageOff < minode.Size {
			start = minode.Size - pageOff
		}
		for i := start; i < block.PageSize; i++ {
			page.Data[i] = 0
		}
		page.Dirty = true
	}

	minode.Size = length
	return minode.Save()
}

// Unlink implements unlink(path): deferred delete if any fd still
// references the inode, otherwise immediate reclamation.
func (f *Facade) Unlink(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlinkLocked(path)
}

// unlinkLocked assumes mu is already held; used directly by Rename so
// that clobbering an existing destination happens under the same
// critical section as the rest of the operation. Loads the MemInode on
// demand when the inode has no open fd and was never cached, so its
// blocks are deallocated rather than leaked.
func (f *Facade) unlinkLocked(path string) error {
	inode, err := f.lookupInode(path)
	if err != nil {
		return err
	}

	if len(f.openFDsFor(inode)) > 0 {
		return f.deferDelete(inode, f.realpath(path))
	}

	minode, err := f.ensureMemInode(inode, f.realpath(path))
	if err != nil {
		return err
	}
	for _, bnum := range minode.OffsetToBlock {
		f.blocks.DeallocBlock(bnum)
	}
	f.cache.Remove(inode)

	return os.Remove(f.realpath(path))
}

func (f *Facade) deferDelete(inode uint64, realPath string) error {
	newPath := f.deferredDeletePath()
	if err := os.Rename(realPath, newPath); err != nil {
		return err
	}

	if minode, ok := f.cache.Get(inode); ok {
		minode.RealPath = newPath
	}
	for _, e := range f.fdTable {
		if e.Inode == inode {
			e.RealPath = newPath
		}
	}
	return nil
}

// Rename implements rename(old, new): unlinks an existing destination
// first, then either renames the host file directly (inode not cached)
// or updates every open reference before renaming.
func (f *Facade) Rename(oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(f.realpath(newPath)); err == nil {
		if err := f.unlinkLocked(newPath); err != nil {
			return err
		}
	}

	oldReal := f.realpath(oldPath)
	newReal := f.realpath(newPath)

	inode, err := f.lookupInode(oldPath)
	if err != nil {
		return err
	}

	minode, ok := f.cache.Get(inode)
	if !ok {
		return os.Rename(oldReal, newReal)
	}

	minode.RealPath = newReal
	for _, e := range f.fdTable {
		if e.Inode == inode {
			e.RealPath = newReal
		}
	}
	return os.Rename(oldReal, newReal)
}

// GetAttr implements getattr(path): size/atime/mtime always come from the
// MemInode, never from the host metadata file's own byte length, which
// holds the textual record and not the logical file content.
func (f *Facade) GetAttr(path string) (Attr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	inode, err := f.lookupInode(path)
	if err != nil {
		return Attr{}, err
	}

	minode, err := f.ensureMemInode(inode, f.realpath(path))
	if err != nil {
		return Attr{}, err
	}

	return Attr{Size: minode.Size, Atime: minode.Atime, Mtime: minode.Mtime}, nil
}

// Utimens implements utimens(path, atime, mtime): loads the MemInode on
// demand if this path hasn't been opened since the last remount, then
// updates its times directly.
func (f *Facade) Utimens(path string, atime, mtime float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	inode, err := f.lookupInode(path)
	if err != nil {
		return err
	}
	minode, err := f.ensureMemInode(inode, f.realpath(path))
	if err != nil {
		return err
	}
	minode.Atime = atime
	minode.Mtime = mtime
	return minode.Save()
}

// Statfs implements statfs: delegated to the host filesystem backing
// f.root, since capacity accounting is out of scope here.
func (f *Facade) Statfs() (syscall.Statfs_t, error) {
	var st syscall.Statfs_t
	err := syscall.Statfs(f.root, &st)
	return st, err
}

// Flush implements flush(path, fd): for this filesystem flush carries no
// additional obligation beyond what release() already performs, so it is
// a no-op that validates the fd.
func (f *Facade) Flush(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.fdTable[fd]; !ok {
		return syscall.EBADF
	}
	return nil
}

// Checkpoint implements fs_checkpoint(): flushes every cached MemInode
// through the active Fsync Policy, as if each had just called fsync with
// no owning fd.
func (f *Facade) Checkpoint() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, minode := range f.cache.All() {
		f.policy.OnFsync(f.syncContext(), -1, minode.HostInode, minode.RealPath, minode)
	}
}

// AllowAllWrites implements the allow-all-writes control command.
func (f *Facade) AllowAllWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks.ClearFailures()
}

// EvictCleanPages implements the evict-clean-pages control command.
func (f *Facade) EvictCleanPages() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache.EvictCleanPages()
}
