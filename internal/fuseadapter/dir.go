package fuseadapter

import (
	"context"
	"os"
	"sync"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
)

// dirHandle holds a snapshot of a directory's entries, served page by
// page to successive ReadDir calls, the same shape as the teacher's
// fs/dir_handle.go but backed directly by os.ReadDir against the host
// directory instead of a GCS listing.
type dirHandle struct {
	mu      sync.Mutex
	entries []fuseutil.Dirent
}

func newDirHandle(hostPath string) (*dirHandle, error) {
	des, err := os.ReadDir(hostPath)
	if err != nil {
		return nil, err
	}

	entries := make([]fuseutil.Dirent, 0, len(des))
	for i, de := range des {
		typ := fuseutil.DT_File
		if de.IsDir() {
			typ = fuseutil.DT_Directory
		}
		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(i + 1),
			Name:   de.Name(),
			Type:   typ,
		})
	}

	return &dirHandle{entries: entries}, nil
}

func (dh *dirHandle) readDir(op *fuseops.ReadDirOp) {
	dh.mu.Lock()
	defer dh.mu.Unlock()

	idx := int(op.Offset)
	for idx < len(dh.entries) {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], dh.entries[idx])
		if n == 0 {
			break
		}
		op.BytesRead += n
		idx++
	}
}

func (fs *FS) MkDir(ctx context.Context, op *fuseops.MkDirOp) error {
	parentPath := fs.inodes.path(op.Parent)
	childPath := joinPath(parentPath, op.Name)

	if err := os.Mkdir(fs.hostPath(childPath), op.Mode); err != nil {
		return translateErr(err)
	}

	attr, err := fs.attrForHost(childPath)
	if err != nil {
		return err
	}
	op.Entry.Child = fs.inodes.lookup(childPath)
	op.Entry.Attributes = attr
	return nil
}

func (fs *FS) RmDir(ctx context.Context, op *fuseops.RmDirOp) error {
	parentPath := fs.inodes.path(op.Parent)
	childPath := joinPath(parentPath, op.Name)

	if err := os.Remove(fs.hostPath(childPath)); err != nil {
		return translateErr(err)
	}
	fs.inodes.forget(childPath)
	return nil
}

func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	path := fs.inodes.path(op.Inode)

	dh, err := newDirHandle(fs.hostPath(path))
	if err != nil {
		return translateErr(err)
	}

	handle := fs.dirHandles.put(dh)
	op.Handle = handle
	return nil
}

func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	dh, ok := fs.dirHandles.get(op.Handle)
	if !ok {
		return os.ErrInvalid
	}
	dh.readDir(op)
	return nil
}

func (fs *FS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	fs.dirHandles.release(op.Handle)
	return nil
}
