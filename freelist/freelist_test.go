package freelist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"berrypool/freelist"
	"berrypool/internal/vfs"
)

func TestList_PushPopWithinRun(t *testing.T) {
	f, err := vfs.NewMemory().OpenData("t")
	require.NoError(t, err)

	l, err := freelist.Open(f, 4096, 0)
	require.NoError(t, err)
	assert.True(t, l.Empty())

	l.Push(5)
	l.Push(7)
	assert.False(t, l.Empty())
	assert.Equal(t, uint64(7), l.Pop())
	assert.Equal(t, uint64(5), l.Pop())
	assert.True(t, l.Empty())
}

func TestList_FlushAndReopen(t *testing.T) {
	f, err := vfs.NewMemory().OpenData("t")
	require.NoError(t, err)

	l, err := freelist.Open(f, 4096, 0)
	require.NoError(t, err)
	l.Push(1)
	l.Push(2)
	l.Push(3)

	next := uint64(10)
	head, err := l.Flush(func() uint64 { p := next; next++; return p })
	require.NoError(t, err)
	assert.Equal(t, uint64(10), head)

	reopened, err := freelist.Open(f, 4096, head)
	require.NoError(t, err)
	assert.False(t, reopened.Empty())
	assert.Equal(t, uint64(3), reopened.Pop())
	assert.Equal(t, uint64(2), reopened.Pop())
	assert.Equal(t, uint64(1), reopened.Pop())
	assert.True(t, reopened.Empty())
}

func TestList_FlushReusesItsOwnHeadPage(t *testing.T) {
	f, err := vfs.NewMemory().OpenData("t")
	require.NoError(t, err)

	l, err := freelist.Open(f, 4096, 0)
	require.NoError(t, err)
	l.Push(100)
	next := uint64(1)
	head1, err := l.Flush(func() uint64 { p := next; next++; return p })
	require.NoError(t, err)

	l.Push(200)
	head2, err := l.Flush(func() uint64 { p := next; next++; return p })
	require.NoError(t, err)
	assert.Equal(t, head1, head2)

	reopened, err := freelist.Open(f, 4096, head2)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), reopened.Pop())
	assert.Equal(t, uint64(100), reopened.Pop())
	assert.True(t, reopened.Empty())
}

func TestList_ReopenThenFlushReusesTheOpenedHeadPage(t *testing.T) {
	f, err := vfs.NewMemory().OpenData("t")
	require.NoError(t, err)

	l, err := freelist.Open(f, 4096, 0)
	require.NoError(t, err)
	l.Push(100)
	next := uint64(1)
	head1, err := l.Flush(func() uint64 { p := next; next++; return p })
	require.NoError(t, err)

	reopened, err := freelist.Open(f, 4096, head1)
	require.NoError(t, err)
	reopened.Push(200)
	head2, err := reopened.Flush(func() uint64 { p := next; next++; return p })
	require.NoError(t, err)
	assert.Equal(t, head1, head2)

	again, err := freelist.Open(f, 4096, head2)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), again.Pop())
	assert.Equal(t, uint64(100), again.Pop())
	assert.True(t, again.Empty())
}
