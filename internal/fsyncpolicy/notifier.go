package fsyncpolicy

// notifier is the shared "fds that still owe an EIO notification"
// bookkeeping used by every policy variant: failedInodes maps an inode to
// the set of fds that must still be told about a failure. An entry present
// with an empty set is an explicit sentinel meaning "the next fd opened
// after this failure must be notified".
type notifier struct {
	failedInodes map[uint64]map[int]struct{}
}

func newNotifier() notifier {
	return notifier{failedInodes: make(map[uint64]map[int]struct{})}
}

// addFDsToNotify unions the current set of open fds for inode (possibly
// empty) into failedInodes[inode], creating the entry if absent.
func (n *notifier) addFDsToNotify(ctx *Context, inode uint64) {
	current := ctx.openFDs(inode)

	set, ok := n.failedInodes[inode]
	if !ok {
		set = make(map[int]struct{})
	}
	for fd := range current {
		set[fd] = struct{}{}
	}
	n.failedInodes[inode] = set
}

// shouldNotifyFD reports whether fd is owed a notification for inode: true
// iff an entry exists and either the set is empty (any fd qualifies) or fd
// is a member of it.
func (n *notifier) shouldNotifyFD(fd int, inode uint64) bool {
	set, ok := n.failedInodes[inode]
	if !ok {
		return false
	}
	if len(set) == 0 {
		return true
	}
	_, in := set[fd]
	return in
}

// markFDNotified consumes fd's notification for inode. The entry is
// removed entirely only when the set becomes empty through this call
// (i.e. via notification), never as a side effect of onCloseFD.
func (n *notifier) markFDNotified(fd int, inode uint64) {
	set, ok := n.failedInodes[inode]
	if !ok {
		return
	}
	delete(set, fd)
	if len(set) == 0 {
		delete(n.failedInodes, inode)
	}
}

// onCloseFD removes fd from inode's owed-notification set but preserves an
// emptied entry, so that the next fd opened on the inode still sees the
// sentinel and is notified.
func (n *notifier) onCloseFD(fd int, inode uint64) {
	set, ok := n.failedInodes[inode]
	if !ok {
		return
	}
	delete(set, fd)
	n.failedInodes[inode] = set
}
