// Package fsyncpolicy implements the Fsync Policy Engine: a family of
// pluggable state machines (ext4-ordered/xfs, ext4-data, btrfs) governing
// what happens when dirty pages are flushed, how partial failures mutate
// in-memory and on-disk state, and when and to which file descriptors an
// EIO is surfaced.
package fsyncpolicy

import (
	"syscall"

	"github.com/WiscADSL/cuttlefs/internal/block"
)

// EIO is the negative errno value every policy returns on a surfaced fault.
const EIO = -int(syscall.EIO)

// Context carries the two capabilities a policy needs from its caller: the
// Block Manager, and a way to learn which file descriptors are currently
// open for a given inode. It is passed explicitly rather than via a
// back-reference to the Filesystem Facade.
type Context struct {
	Blocks  *block.Manager
	OpenFDs func(inode uint64) map[int]struct{}
}

func (c *Context) openFDs(inode uint64) map[int]struct{} {
	if c.OpenFDs == nil {
		return nil
	}
	return c.OpenFDs(inode)
}
