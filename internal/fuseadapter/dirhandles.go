package fuseadapter

import (
	"sync"

	"github.com/jacobsa/fuse/fuseops"
)

// dirHandleTable allocates and tracks open directory handles, mirroring
// the Facade's own fd table but scoped to the passthrough directory ops.
type dirHandleTable struct {
	mu      sync.Mutex
	handles map[fuseops.HandleID]*dirHandle
	next    fuseops.HandleID
}

func newDirHandleTable() *dirHandleTable {
	return &dirHandleTable{handles: make(map[fuseops.HandleID]*dirHandle), next: 1}
}

func (t *dirHandleTable) put(dh *dirHandle) fuseops.HandleID {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.next
	t.next++
	t.handles[id] = dh
	return id
}

func (t *dirHandleTable) get(id fuseops.HandleID) (*dirHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	dh, ok := t.handles[id]
	return dh, ok
}

func (t *dirHandleTable) release(id fuseops.HandleID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handles, id)
}
