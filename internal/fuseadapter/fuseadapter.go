// Package fuseadapter binds the Filesystem Facade to the real FUSE
// kernel protocol via github.com/jacobsa/fuse, the way the teacher's
// fs/fs.go binds gcsfuse's inode tree to fuseutil.FileSystem: one method
// per fuseops.*Op, filling in the response and returning an error.
//
// Regular-file operations delegate to the Facade. Directory operations
// (MkDir, RmDir, OpenDir, ReadDir, ReleaseDirHandle) pass through directly
// to the host directory backing the mount. Symlink, link, permission, and
// xattr operations are not implemented and report ENOSYS.
package fuseadapter

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/WiscADSL/cuttlefs/internal/facade"
	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// FS is the jacobsa/fuse-facing shim. It embeds
// fuseutil.NotImplementedFileSystem so that any op this package doesn't
// override (symlinks, xattrs) reports ENOSYS rather than panicking,
// following the same embedding the teacher's fileSystem struct uses.
type FS struct {
	fuseutil.NotImplementedFileSystem

	facade     *facade.Facade
	root       string
	inodes     *inodeTable
	dirHandles *dirHandleTable

	uid uint32
	gid uint32
}

// New constructs an FS rooted at root (the same host directory passed
// to facade.New) delegating regular-file operations to f.
func New(root string, f *facade.Facade, uid, gid uint32) *FS {
	return &FS{
		facade:     f,
		root:       root,
		inodes:     newInodeTable(),
		dirHandles: newDirHandleTable(),
		uid:        uid,
		gid:        gid,
	}
}

func (fs *FS) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	st, err := fs.facade.Statfs()
	if err != nil {
		return err
	}
	op.BlockSize = uint32(st.Bsize)
	op.Blocks = st.Blocks
	op.BlocksFree = st.Bfree
	op.BlocksAvailable = st.Bavail
	op.IoSize = uint32(st.Bsize)
	op.Inodes = st.Files
	op.InodesFree = st.Ffree
	return nil
}

func (fs *FS) attrFor(path string, hostMode os.FileMode) (fuseops.InodeAttributes, error) {
	attr, err := fs.facade.GetAttr(path)
	if err != nil {
		return fuseops.InodeAttributes{}, translateErr(err)
	}

	return fuseops.InodeAttributes{
		Size:  uint64(attr.Size),
		Nlink: 1,
		Mode:  hostMode,
		Uid:   fs.uid,
		Gid:   fs.gid,
		Atime: secondsToTime(attr.Atime),
		Mtime: secondsToTime(attr.Mtime),
	}, nil
}

func secondsToTime(s float64) time.Time {
	if s == 0 {
		return time.Time{}
	}
	whole := int64(s)
	frac := s - float64(whole)
	return time.Unix(whole, int64(frac*1e9))
}

func timeToSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// translateErr maps host errors (from os/syscall) to the jacobsa/fuse
// sentinels the kernel expects, matching the teacher's use of bare
// fuse.ENOENT / fuse.EEXIST sentinel errors returned straight from
// Facade-calling methods.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return fuse.ENOENT
	case os.IsExist(err):
		return fuse.EEXIST
	case os.IsPermission(err):
		return syscall.EACCES
	}
	if errno, ok := err.(syscall.Errno); ok {
		return errno
	}
	return err
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	parentPath := fs.inodes.path(op.Parent)
	childPath := joinPath(parentPath, op.Name)

	attr, err := fs.attrForHost(childPath)
	if err != nil {
		return err
	}

	op.Entry.Child = fs.inodes.lookup(childPath)
	op.Entry.Attributes = attr
	return nil
}

// attrForHost fills attributes for path, overriding size/atime/mtime
// from the MemInode for regular files (per getattr's normative rule)
// and falling back to a plain host stat for directories/symlinks.
func (fs *FS) attrForHost(path string) (fuseops.InodeAttributes, error) {
	hostPath := fs.hostPath(path)
	fi, err := os.Lstat(hostPath)
	if err != nil {
		return fuseops.InodeAttributes{}, translateErr(err)
	}

	if fi.Mode().IsRegular() {
		return fs.attrFor(path, fi.Mode())
	}

	return fuseops.InodeAttributes{
		Size:  uint64(fi.Size()),
		Nlink: 1,
		Mode:  fi.Mode(),
		Uid:   fs.uid,
		Gid:   fs.gid,
		Atime: fi.ModTime(),
		Mtime: fi.ModTime(),
	}, nil
}

func (fs *FS) hostPath(path string) string {
	if path == "/" {
		return fs.root
	}
	return fs.root + path
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	path := fs.inodes.path(op.Inode)
	attr, err := fs.attrForHost(path)
	if err != nil {
		return err
	}
	op.Attributes = attr
	return nil
}

func (fs *FS) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) error {
	path := fs.inodes.path(op.Inode)

	if op.Size != nil {
		if err := fs.facade.Truncate(path, int64(*op.Size)); err != nil {
			return translateErr(err)
		}
	}
	if op.Atime != nil || op.Mtime != nil {
		attr, err := fs.facade.GetAttr(path)
		if err != nil {
			return translateErr(err)
		}
		atime, mtime := attr.Atime, attr.Mtime
		if op.Atime != nil {
			atime = timeToSeconds(*op.Atime)
		}
		if op.Mtime != nil {
			mtime = timeToSeconds(*op.Mtime)
		}
		if err := fs.facade.Utimens(path, atime, mtime); err != nil {
			return translateErr(err)
		}
	}

	attr, err := fs.attrForHost(path)
	if err != nil {
		return err
	}
	op.Attributes = attr
	return nil
}

func (fs *FS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *FS) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) error {
	parentPath := fs.inodes.path(op.Parent)
	childPath := joinPath(parentPath, op.Name)

	fd, err := fs.facade.Create(childPath, os.O_RDWR|os.O_CREATE)
	if err != nil {
		return translateErr(err)
	}

	attr, err := fs.attrForHost(childPath)
	if err != nil {
		return err
	}

	op.Entry.Child = fs.inodes.lookup(childPath)
	op.Entry.Attributes = attr
	op.Handle = fuseops.HandleID(fd)
	return nil
}

func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	path := fs.inodes.path(op.Inode)

	fd, err := fs.facade.Open(path, int(op.OpenFlags))
	if err != nil {
		return translateErr(err)
	}
	op.Handle = fuseops.HandleID(fd)
	return nil
}

func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	data, err := fs.facade.Read(int(op.Handle), len(op.Dst), op.Offset)
	if err != nil {
		return translateErr(err)
	}
	op.BytesRead = copy(op.Dst, data)
	return nil
}

func (fs *FS) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) error {
	_, err := fs.facade.Write(int(op.Handle), op.Data, op.Offset)
	if err != nil {
		return translateErr(err)
	}
	return nil
}

func (fs *FS) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) error {
	if err := fs.facade.Fsync(int(op.Handle)); err != nil {
		return translateErr(err)
	}
	return nil
}

func (fs *FS) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) error {
	if err := fs.facade.Flush(int(op.Handle)); err != nil {
		return translateErr(err)
	}
	return nil
}

func (fs *FS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	if err := fs.facade.Release(int(op.Handle)); err != nil {
		return translateErr(err)
	}
	return nil
}

func (fs *FS) Unlink(ctx context.Context, op *fuseops.UnlinkOp) error {
	parentPath := fs.inodes.path(op.Parent)
	childPath := joinPath(parentPath, op.Name)

	if err := fs.facade.Unlink(childPath); err != nil {
		return translateErr(err)
	}
	fs.inodes.forget(childPath)
	return nil
}

func (fs *FS) Rename(ctx context.Context, op *fuseops.RenameOp) error {
	oldPath := joinPath(fs.inodes.path(op.OldParent), op.OldName)
	newPath := joinPath(fs.inodes.path(op.NewParent), op.NewName)

	if err := fs.facade.Rename(oldPath, newPath); err != nil {
		return translateErr(err)
	}
	fs.inodes.rename(oldPath, newPath)
	return nil
}
