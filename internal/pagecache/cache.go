package pagecache

// Cache is the host_inode -> MemInode registry. Once present, a MemInode is
// never evicted while any fd references it; only unlink (directly when no
// fd is open, otherwise from the release of the last fd, both driven by
// the Filesystem Facade) removes an entry.
type Cache struct {
	inodes map[uint64]*MemInode
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{inodes: make(map[uint64]*MemInode)}
}

// Get returns the MemInode registered for inode, if any.
func (c *Cache) Get(inode uint64) (*MemInode, bool) {
	m, ok := c.inodes[inode]
	return m, ok
}

// Put registers m under inode, overwriting any previous entry.
func (c *Cache) Put(inode uint64, m *MemInode) {
	c.inodes[inode] = m
}

// Contains reports whether inode has a registered MemInode.
func (c *Cache) Contains(inode uint64) bool {
	_, ok := c.inodes[inode]
	return ok
}

// Remove discards the entry for inode. Any buffered dirty state is
// discarded; the caller is responsible for ensuring that is safe (e.g.
// after deallocating the inode's blocks).
func (c *Cache) Remove(inode uint64) {
	delete(c.inodes, inode)
}

// All returns every MemInode currently registered, used by checkpoint
// operations that must visit every open inode.
func (c *Cache) All() []*MemInode {
	all := make([]*MemInode, 0, len(c.inodes))
	for _, m := range c.inodes {
		all = append(all, m)
	}
	return all
}

// EvictCleanPages drops every non-dirty buffered page from every
// registered MemInode (the "evict-clean-pages" control command).
func (c *Cache) EvictCleanPages() {
	for _, m := range c.inodes {
		m.EvictCleanPages()
	}
}
