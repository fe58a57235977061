// Package pagecache implements the user-space page cache and in-memory
// inode bookkeeping: buffered file data, the offset->block map, and
// size/atime/mtime metadata, plus the inode-indexed registry that never
// evicts a MemInode while any file descriptor references it.
package pagecache

import "github.com/WiscADSL/cuttlefs/internal/block"

// Page is a PAGE_SIZE-aligned, buffered region of one file's contents.
type Page struct {
	InodeID uint64
	Offset  int64 // logical file offset; always a multiple of block.PageSize.
	Data    []byte
	Dirty   bool
}

func newPage(inode uint64, offset int64) *Page {
	return &Page{
		InodeID: inode,
		Offset:  offset,
		Data:    make([]byte, block.PageSize),
	}
}

// BlockReader is the subset of the Block Manager that page materialization
// needs. Kept as an interface to make MemInode unit-testable without a
// real backing file.
type BlockReader interface {
	Bread(bnum uint64) ([]byte, error)
}
