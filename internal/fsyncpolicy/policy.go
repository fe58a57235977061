package fsyncpolicy

import (
	"sort"

	"github.com/WiscADSL/cuttlefs/internal/block"
	"github.com/WiscADSL/cuttlefs/internal/pagecache"
)

// Policy is the capability table every fsync variant implements: the
// portable realization of the source's subtype-polymorphic fsync
// behavior, dispatched through the three methods below; the shared
// notification helpers live in notifier.
type Policy interface {
	OnFsync(ctx *Context, fd int, inode uint64, path string, minode *pagecache.MemInode) int
	OnSyncWrite(ctx *Context, fd int, inode uint64, path string, minode *pagecache.MemInode, pages map[int64]*pagecache.Page) int
	OnCloseFD(fd int, inode uint64)
}

// sortedOffsets returns the keys of pages in ascending order, so that
// multi-page sync attempts (and their partial-failure behavior) are
// deterministic.
func sortedOffsets(pages map[int64]*pagecache.Page) []int64 {
	offs := make([]int64, 0, len(pages))
	for off := range pages {
		offs = append(offs, off)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	return offs
}

// syncPages implements the ordered/XFS and ext4-data discipline: every
// dirty page is attempted, even after an earlier one fails (a single
// multi-block bio where one block's failure does not spare the others
// from being submitted). The per-page dirty flag is cleared before the
// physical write attempt, not after -- this ordering is deliberate and
// load-bearing for the failure-surfacing invariants in spec.md §5/§9.
func syncPages(ctx *Context, path string, minode *pagecache.MemInode, pages map[int64]*pagecache.Page) bool {
	allPassed := true

	for _, off := range sortedOffsets(pages) {
		p := pages[off]

		bnum, ok := minode.OffsetToBlock[off]
		if !ok {
			bnum = ctx.Blocks.AllocBlock()
			minode.OffsetToBlock[off] = bnum
		}

		p.Dirty = false

		passed, err := ctx.Blocks.Bwrite(bnum, p.Data, block.Ref{Path: path, LogicalOffset: off})
		if err != nil || !passed {
			allPassed = false
		}
	}

	return allPassed
}

func syncMeta(minode *pagecache.MemInode) error {
	return minode.Save()
}
