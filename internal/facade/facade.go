// Package facade implements the Filesystem Facade: the single,
// coarse-locked collaborator consumed by the FUSE adapter. It owns the fd
// table, dispatches regular-file operations to the Block Manager, Page
// Cache, and Fsync Policy Engine, and implements the deferred-delete
// protocol for files unlinked while still open.
//
// LOCK ORDERING
//
// Per spec, fine-grained locking is a non-goal: a single mutex (mu) guards
// every mutable field below, for the lifetime of every exported method.
// There is no per-inode or per-handle lock to order against it.
package facade

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/WiscADSL/cuttlefs/internal/block"
	"github.com/WiscADSL/cuttlefs/internal/fsyncpolicy"
	"github.com/WiscADSL/cuttlefs/internal/pagecache"
	"github.com/google/uuid"
)

const deferredDeleteDir = "to_be_deleted"

// fdEntry is one open-file-descriptor record.
//
// GUARDED_BY(mu)
type fdEntry struct {
	Inode    uint64
	RealPath string
	Sync     bool
}

// Facade is the single collaborator the FUSE adapter talks to for every
// regular-file operation.
type Facade struct {
	// mu guards every field below.
	mu sync.Mutex

	root   string
	policy fsyncpolicy.Policy
	blocks *block.Manager
	cache  *pagecache.Cache

	// GUARDED_BY(mu)
	fdTable map[int]*fdEntry
	// nextFD is the next fd to hand out.
	//
	// INVARIANT: for all keys k in fdTable, k < nextFD
	// GUARDED_BY(mu)
	nextFD int
}

// New constructs a Facade rooted at root (the directory backing the
// mount's regular files and holding the reserved to_be_deleted
// directory), using blocks as the shared Block Manager and policy as the
// active Fsync Policy Engine variant.
func New(root string, blocks *block.Manager, policy fsyncpolicy.Policy) (*Facade, error) {
	if err := os.MkdirAll(filepath.Join(root, deferredDeleteDir), 0o755); err != nil {
		return nil, fmt.Errorf("facade: creating reserved directory: %w", err)
	}

	return &Facade{
		root:    root,
		policy:  policy,
		blocks:  blocks,
		cache:   pagecache.New(),
		fdTable: make(map[int]*fdEntry),
		nextFD:  1,
	}, nil
}

func (f *Facade) realpath(path string) string {
	return filepath.Join(f.root, path)
}

func hostInode(fi os.FileInfo) (uint64, error) {
	stat, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, fmt.Errorf("facade: cannot determine host inode number")
	}
	return stat.Ino, nil
}

// openFDsFor implements fsyncpolicy.Context's OpenFDs capability: every fd
// currently referencing inode.
func (f *Facade) openFDsFor(inode uint64) map[int]struct{} {
	set := make(map[int]struct{})
	for fd, e := range f.fdTable {
		if e.Inode == inode {
			set[fd] = struct{}{}
		}
	}
	return set
}

func (f *Facade) syncContext() *fsyncpolicy.Context {
	return &fsyncpolicy.Context{Blocks: f.blocks, OpenFDs: f.openFDsFor}
}

func (f *Facade) allocFD(inode uint64, realPath string, sync bool) int {
	fd := f.nextFD
	f.nextFD++
	f.fdTable[fd] = &fdEntry{Inode: inode, RealPath: realPath, Sync: sync}
	return fd
}

// Create implements create(path, mode, flags): it creates the host
// metadata file, writes its initial (empty) record, installs a fresh
// MemInode in the Page Cache, and allocates a fd. O_DIRECT and O_NOFOLLOW
// are rejected as unimplemented.
func (f *Facade) Create(path string, flags int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if flags&syscall.O_DIRECT != 0 || flags&syscall.O_NOFOLLOW != 0 {
		return 0, syscall.ENOTSUP
	}

	realPath := f.realpath(path)

	file, err := os.OpenFile(realPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	file.Close()

	fi, err := os.Stat(realPath)
	if err != nil {
		return 0, err
	}
	inode, err := hostInode(fi)
	if err != nil {
		return 0, err
	}

	minode, err := pagecache.NewMemInode(inode, realPath)
	if err != nil {
		return 0, err
	}
	now := nowFractional()
	minode.Atime = now
	minode.Mtime = now
	if err := minode.Save(); err != nil {
		return 0, err
	}
	f.cache.Put(inode, minode)

	fd := f.allocFD(inode, realPath, isSyncFlag(flags))
	return fd, nil
}

func isSyncFlag(flags int) bool {
	return flags&syscall.O_SYNC != 0 || flags&syscall.O_DSYNC != 0
}

func nowFractional() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Open implements open(path, flags): ensures a MemInode is present for
// the path (constructing it from on-disk metadata if this is the first
// reference), and allocates a fd.
func (f *Facade) Open(path string, flags int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	realPath := f.realpath(path)

	fi, err := os.Stat(realPath)
	if err != nil {
		return 0, err
	}
	inode, err := hostInode(fi)
	if err != nil {
		return 0, err
	}

	if _, ok := f.cache.Get(inode); !ok {
		minode, err := pagecache.NewMemInode(inode, realPath)
		if err != nil {
			return 0, err
		}
		f.cache.Put(inode, minode)
	}

	fd := f.allocFD(inode, realPath, isSyncFlag(flags))
	return fd, nil
}

// Read implements read(path, size, offset, fd): assembles the requested
// byte range out of (possibly freshly materialized) buffered pages.
func (f *Facade) Read(fd int, size int, offset int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.fdTable[fd]
	if !ok {
		return nil, syscall.EBADF
	}
	minode, ok := f.cache.Get(entry.Inode)
	if !ok {
		return nil, syscall.EBADF
	}

	if size == 0 || offset >= minode.Size {
		return nil, nil
	}
	if offset+int64(size) > minode.Size {
		size = int(minode.Size - offset)
	}

	out := make([]byte, 0, size)
	remaining := int64(size)
	off := offset

	for remaining > 0 {
		pageOff := pagecache.PageOffset(off)
		page, err := minode.PageForOffset(pageOff, f.blocks)
		if err != nil {
			return nil, err
		}

		start := off - pageOff
		end := start + remaining
		if end > block.PageSize {
			end = block.PageSize
		}

		out = append(out, page.Data[start:end]...)
		consumed := end - start
		off += consumed
		remaining -= consumed
	}

	return out, nil
}

// Write implements write(path, data, offset, fd): overwrites the
// intersecting page range, marks touched pages dirty, and -- for a sync
// fd -- immediately hands the written pages to the active Fsync Policy.
func (f *Facade) Write(fd int, data []byte, offset int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.fdTable[fd]
	if !ok {
		return 0, syscall.EBADF
	}
	minode, ok := f.cache.Get(entry.Inode)
	if !ok {
		return 0, syscall.EBADF
	}

	dirty := make(map[int64]*pagecache.Page)
	off := offset
	var remaining, consumed int64 = int64(len(data)), 0

	for remaining > 0 {
		pageOff := pagecache.PageOffset(off)
		page, err := minode.PageForOffset(pageOff, f.blocks)
		if err != nil {
			return int(consumed), err
		}

		start := off - pageOff
		n := remaining
		if start+n > block.PageSize {
			n = block.PageSize - start
		}

		copy(page.Data[start:start+n], data[consumed:consumed+n])
		page.Dirty = true
		dirty[pageOff] = page

		off += n
		remaining -= n
		consumed += n
	}

	if newSize := offset + int64(len(data)); newSize > minode.Size {
		minode.Size = newSize
	}
	minode.Mtime = nowFractional()

	if entry.Sync {
		ret := f.policy.OnSyncWrite(f.syncContext(), fd, entry.Inode, entry.RealPath, minode, dirty)
		if ret < 0 {
			return int(consumed), syscall.Errno(-ret)
		}
	}

	return int(consumed), nil
}

// Fsync implements fsync(path, datasync, fd): if the fd's inode is not in
// the Page Cache there is nothing buffered to flush.
func (f *Facade) Fsync(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.fdTable[fd]
	if !ok {
		return syscall.EBADF
	}
	minode, ok := f.cache.Get(entry.Inode)
	if !ok {
		return nil
	}

	ret := f.policy.OnFsync(f.syncContext(), fd, entry.Inode, entry.RealPath, minode)
	if ret < 0 {
		return syscall.Errno(-ret)
	}
	return nil
}

// Release implements release(path, fd): deregisters the fd, notifies the
// Fsync Policy, and -- if this was the inode's last fd and it currently
// lives under the reserved deferred-delete directory -- completes the
// delayed unlink.
func (f *Facade) Release(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.fdTable[fd]
	if !ok {
		return syscall.EBADF
	}
	delete(f.fdTable, fd)

	f.policy.OnCloseFD(fd, entry.Inode)

	if len(f.openFDsFor(entry.Inode)) > 0 {
		return nil
	}

	if filepath.Dir(entry.RealPath) != filepath.Join(f.root, deferredDeleteDir) {
		return nil
	}

	return f.finishDeferredDelete(entry.Inode, entry.RealPath)
}

func (f *Facade) finishDeferredDelete(inode uint64, realPath string) error {
	if minode, ok := f.cache.Get(inode); ok {
		for _, bnum := range minode.OffsetToBlock {
			f.blocks.DeallocBlock(bnum)
		}
		f.cache.Remove(inode)
	}
	return os.Remove(realPath)
}

func (f *Facade) deferredDeletePath() string {
	return filepath.Join(f.root, deferredDeleteDir, fmt.Sprintf("file_%d_%s", time.Now().UnixNano(), uuid.NewString()))
}
