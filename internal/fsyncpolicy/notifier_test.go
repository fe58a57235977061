package fsyncpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func fixedFDs(fds ...int) func(uint64) map[int]struct{} {
	set := make(map[int]struct{}, len(fds))
	for _, fd := range fds {
		set[fd] = struct{}{}
	}
	return func(uint64) map[int]struct{} { return set }
}

func TestNotifier_AddFDsToNotify_UnionsOpenFDs(t *testing.T) {
	n := newNotifier()
	ctx := &Context{OpenFDs: fixedFDs(3, 4)}

	n.addFDsToNotify(ctx, 1)

	assert.True(t, n.shouldNotifyFD(3, 1))
	assert.True(t, n.shouldNotifyFD(4, 1))
	assert.False(t, n.shouldNotifyFD(5, 1))
}

func TestNotifier_EmptySetIsSentinelForAnyFD(t *testing.T) {
	n := newNotifier()
	ctx := &Context{OpenFDs: fixedFDs()}

	n.addFDsToNotify(ctx, 1)

	assert.True(t, n.shouldNotifyFD(99, 1))
}

func TestNotifier_MarkFDNotified_RemovesEntryWhenEmptied(t *testing.T) {
	n := newNotifier()
	ctx := &Context{OpenFDs: fixedFDs(3)}
	n.addFDsToNotify(ctx, 1)

	n.markFDNotified(3, 1)

	assert.False(t, n.shouldNotifyFD(3, 1))
	_, ok := n.failedInodes[1]
	assert.False(t, ok)
}

func TestNotifier_OnCloseFD_PreservesEmptiedSentinel(t *testing.T) {
	n := newNotifier()
	ctx := &Context{OpenFDs: fixedFDs(3)}
	n.addFDsToNotify(ctx, 1)

	n.onCloseFD(3, 1)

	set, ok := n.failedInodes[1]
	assert.True(t, ok)
	assert.Empty(t, set)

	// The sentinel means a newly opened fd is still owed notification.
	assert.True(t, n.shouldNotifyFD(7, 1))
}

func TestNotifier_ShouldNotifyFD_FalseWhenNoFailure(t *testing.T) {
	n := newNotifier()
	assert.False(t, n.shouldNotifyFD(1, 1))
}
