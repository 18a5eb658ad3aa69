package pagepool_test

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"berrypool/internal/page"
	"berrypool/pagepool"
)

func TestPool_CapacityAndPinning(t *testing.T) {
	p := pagepool.New(12, 1)

	e, err := p.AllocPage()
	require.NoError(t, err)
	assert.Equal(t, 1, p.AllocatedPages())
	assert.Equal(t, 0, p.UnusedPages())
	assert.Equal(t, 1, p.PinnedPages())

	_, err = p.AllocPage()
	assert.ErrorIs(t, err, pagepool.ErrPoolFull)

	p.UnpinUnassignedPage(e)
	assert.Equal(t, 1, p.AllocatedPages())
	assert.Equal(t, 1, p.UnusedPages())
	assert.Equal(t, 0, p.PinnedPages())

	e2, err := p.AllocPage()
	require.NoError(t, err)
	assert.Same(t, e, e2)
	assert.Equal(t, 1, p.AllocatedPages())
	assert.Equal(t, 0, p.UnusedPages())
	assert.Equal(t, 1, p.PinnedPages())
}

func TestPool_FreeListReuse(t *testing.T) {
	p := pagepool.New(12, 1)

	e, err := p.AllocPage()
	require.NoError(t, err)
	p.UnpinUnassignedPage(e)

	e2, err := p.AllocPage()
	require.NoError(t, err)
	assert.Same(t, e, e2)
}

func TestPool_LRUReuseAcrossStores(t *testing.T) {
	p := pagepool.New(12, 1)
	s := newStubStore("S")

	e, err := p.AllocPage()
	require.NoError(t, err)
	require.NoError(t, p.AssignPageToStore(e, s, 0, pagepool.IgnorePageData))
	e.MarkDirty(false)
	p.UnpinStorePage(e)

	e2, err := p.AllocPage()
	require.NoError(t, err)
	assert.Same(t, e, e2)
	assert.False(t, e2.Assigned())
	assert.True(t, e2.Pinned())

	// (S, 0) is gone from the identity map, so StorePage cannot hit the
	// cached entry and must allocate; the pool's only slot is pinned.
	_, err = p.StorePage(s, 0, pagepool.IgnorePageData)
	assert.ErrorIs(t, err, pagepool.ErrPoolFull)
}

// Eviction that hits a write-back failure asks the store to close and
// leaves the evicted entry unassigned rather than leaking it.
func TestPool_EvictionWriteFailureRequestsClose(t *testing.T) {
	p := pagepool.New(12, 1)
	s := newStubStore("S")
	s.writeErr = errors.New("disk full")

	e, err := p.StorePage(s, 0, pagepool.IgnorePageData)
	require.NoError(t, err)
	e.Data()[0] = 1
	e.MarkDirty(true)
	p.UnpinStorePage(e)

	_, err = p.AllocPage()
	require.NoError(t, err)

	assert.True(t, s.closeAsked)
	assert.False(t, e.Assigned())
}

func TestPool_RoundTripFourPages(t *testing.T) {
	p := pagepool.New(12, 2)
	s := newStubStore("S")

	originals := make(map[uint64][]byte)
	for id := uint64(0); id < 4; id++ {
		e, err := p.AllocPage()
		require.NoError(t, err)
		require.NoError(t, p.AssignPageToStore(e, s, id, pagepool.IgnorePageData))

		buf := make([]byte, p.PageSize())
		rand.Read(buf)
		copy(e.Data(), buf)
		e.MarkDirty(true)
		originals[id] = buf

		require.NoError(t, e.Identity().Store.WritePage(e))
		e.MarkDirty(false)
		p.UnpinStorePage(e)
	}

	for id := uint64(0); id < 4; id++ {
		e, err := p.StorePage(s, id, pagepool.FetchPageData)
		require.NoError(t, err)
		assert.Equal(t, originals[id], e.Data())
		p.UnpinStorePage(e)
	}
}

func TestPool_PinnedPagesInvariant(t *testing.T) {
	p := pagepool.New(12, 4)
	s := newStubStore("S")

	var entries []*page.Entry
	for id := uint64(0); id < 4; id++ {
		e, err := p.StorePage(s, id, pagepool.IgnorePageData)
		require.NoError(t, err)
		entries = append(entries, e)
		assert.Equal(t, p.AllocatedPages()-p.UnusedPages()-p.LRUPages(), p.PinnedPages())
	}
	assert.Equal(t, 4, p.PinnedPages())
	assert.Len(t, entries, 4)
}

func TestPool_AllocPageErrorsWhenFull(t *testing.T) {
	p := pagepool.New(12, 1)
	_, err := p.AllocPage()
	require.NoError(t, err)

	_, err = p.AllocPage()
	assert.ErrorIs(t, err, pagepool.ErrPoolFull)
}

// A write-back failure on unpin asks the store to close. A real store's
// RequestClose drains synchronously, and its drain always starts with
// PinStorePage to pull the entry off the LRU list (and pin it) before
// unassigning it, precisely so a reentrant unassign during
// UnpinAndWriteStorePage can never leave a since-unassigned entry
// sitting in lruList. This test models that same drain against the
// entry UnpinAndWriteStorePage just pushed onto the LRU list, and
// checks the pool comes out consistent: no stale LRU membership, no
// panic on a later AllocPage eviction.
func TestPool_UnpinAndWriteStorePage_FailureUnassignedDuringClose(t *testing.T) {
	p := pagepool.New(12, 2)
	s := newStubStore("S")
	s.writeErr = errors.New("disk full")

	e, err := p.StorePage(s, 0, pagepool.IgnorePageData)
	require.NoError(t, err)
	e.Data()[0] = 1
	e.MarkDirty(true)

	// Model store.FileStore.drainAssigned's real order: pin (which also
	// erases the entry from the LRU list if it's there), forget its
	// identity, unassign, then return it to the free-list.
	s.onRequestClose = func() {
		p.PinStorePage(e)
		p.ForgetStorePage(e)
		p.UnassignPageFromStore(e)
		p.UnpinUnassignedPage(e)
	}

	err = p.UnpinAndWriteStorePage(e)
	assert.Error(t, err)
	assert.True(t, s.closeAsked)
	assert.False(t, e.Assigned())
	assert.Equal(t, 0, p.LRUPages())
	assert.Equal(t, 1, p.UnusedPages())

	// A subsequent AllocPage must not panic and must not hand back a
	// corrupted pool: allocating the freed page plus the other capacity
	// slot should succeed cleanly.
	_, err = p.AllocPage()
	require.NoError(t, err)
	_, err = p.AllocPage()
	require.NoError(t, err)
}
