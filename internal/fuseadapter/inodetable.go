package fuseadapter

import (
	"sync"

	"github.com/jacobsa/fuse/fuseops"
)

// inodeTable bridges the FUSE kernel's integer InodeIDs to the logical
// paths the Filesystem Facade operates on. The real FUSE protocol only
// ever names an entry via (parent InodeID, child name); this table is
// what lets the adapter recover the full logical path to hand to the
// Facade, mirroring the teacher's fs.inodes map keyed the same way but
// over a GCS object name instead of a host path.
type inodeTable struct {
	mu sync.Mutex

	pathToID map[string]fuseops.InodeID
	idToPath map[fuseops.InodeID]string
	nextID   fuseops.InodeID
}

func newInodeTable() *inodeTable {
	t := &inodeTable{
		pathToID: make(map[string]fuseops.InodeID),
		idToPath: make(map[fuseops.InodeID]string),
		nextID:   fuseops.RootInodeID + 1,
	}
	t.idToPath[fuseops.RootInodeID] = "/"
	t.pathToID["/"] = fuseops.RootInodeID
	return t
}

// lookup returns the InodeID for path, minting a fresh one if this is
// the first time it has been named.
func (t *inodeTable) lookup(path string) fuseops.InodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.pathToID[path]; ok {
		return id
	}

	id := t.nextID
	t.nextID++
	t.pathToID[path] = id
	t.idToPath[id] = path
	return id
}

// path returns the logical path for id, or "" if none is registered.
func (t *inodeTable) path(id fuseops.InodeID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idToPath[id]
}

// rename updates the table after a successful host rename, preserving
// the InodeID of the moved entry (any previous occupant of newPath is
// assumed already unlinked by the caller).
func (t *inodeTable) rename(oldPath, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.pathToID[oldPath]
	if !ok {
		return
	}
	delete(t.pathToID, oldPath)
	t.pathToID[newPath] = id
	t.idToPath[id] = newPath
}

// forget drops path's entry entirely, called after a successful Unlink or
// RmDir. ForgetInode does not call it.
func (t *inodeTable) forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.pathToID[path]
	if !ok {
		return
	}
	delete(t.pathToID, path)
	delete(t.idToPath, id)
}
