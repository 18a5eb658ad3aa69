// Package pagepool implements the bounded, LRU-evicting buffer cache
// that mediates between in-memory consumers and the block-addressable
// files backing one or more stores.
//
// Pool is built for a single-threaded cooperative model: every exported
// method runs to completion before another pool operation may begin,
// and none of them suspend internally except for the synchronous file
// I/O a Store performs on the pool's behalf. Pool takes no internal
// lock; a caller that needs safe concurrent access (berrypool.DB does)
// wraps it in a single coarse lock instead.
package pagepool

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"berrypool/internal/list"
	"berrypool/internal/page"
)

// FetchMode controls whether StorePage/AssignPageToStore reads a page's
// data from its store, or leaves the buffer for the caller to overwrite.
type FetchMode int

const (
	// FetchPageData reads the page from the store after assignment.
	// Correct for almost every caller.
	FetchPageData FetchMode = iota

	// IgnorePageData skips the read because the caller promises to
	// overwrite the whole page. The pool marks the entry dirty and, in
	// checked builds, fills it with a recognizable garbage pattern so
	// accidental reads of uninitialized data are obvious.
	IgnorePageData
)

func (m FetchMode) String() string {
	if m == IgnorePageData {
		return "IgnorePageData"
	}
	return "FetchPageData"
}

// fillPattern is written across a freshly IgnorePageData-assigned
// buffer in checked builds, so a stale or uninitialized read is
// immediately obvious in a debugger instead of looking like zeroed data.
const fillPattern byte = 0xCD

type identityKey struct {
	store  page.Store
	pageID uint64
}

// Pool owns every page.Entry it has ever created, the free-list, the
// LRU list, and the identity map from (store, page id) to the live
// entry caching it.
type Pool struct {
	pageShift uint
	pageSize  int
	capacity  int
	allocated int

	freeList *list.List[*page.Entry]
	lruList  *list.List[*page.Entry]
	identity map[identityKey]*page.Entry

	log *logrus.Entry
}

// New creates a page pool with the given page size (1<<pageShift bytes)
// and entry capacity. pageShift must be in [9, 24] and capacity must be
// at least 1.
func New(pageShift uint, capacity int) *Pool {
	if pageShift < 9 || pageShift > 24 {
		panic(fmt.Sprintf("pagepool: page_shift %d out of range [9, 24]", pageShift))
	}
	if capacity < 1 {
		panic("pagepool: page_capacity must be >= 1")
	}

	return &Pool{
		pageShift: pageShift,
		pageSize:  1 << pageShift,
		capacity:  capacity,
		freeList:  list.New[*page.Entry](),
		lruList:   list.New[*page.Entry](),
		identity:  make(map[identityKey]*page.Entry),
		log:       logrus.WithField("component", "pagepool"),
	}
}

// PageShift returns the base-2 log of the pool's page size.
func (p *Pool) PageShift() uint { return p.pageShift }

// PageSize returns the size of a page in bytes. Always a power of two.
func (p *Pool) PageSize() int { return p.pageSize }

// PageCapacity returns the maximum number of entries the pool will hold.
func (p *Pool) PageCapacity() int { return p.capacity }

// AllocatedPages returns the total number of entries the pool has
// created so far (allocated <= PageCapacity).
func (p *Pool) AllocatedPages() int { return p.allocated }

// UnusedPages returns the number of allocated entries sitting idle on
// the free-list.
func (p *Pool) UnusedPages() int { return p.freeList.Size() }

// LRUPages returns the number of assigned-but-unpinned entries on the
// LRU list, eligible for eviction.
func (p *Pool) LRUPages() int { return p.lruList.Size() }

// PinnedPages returns the number of entries currently pinned by a
// caller. allocated == UnusedPages + LRUPages + PinnedPages always.
func (p *Pool) PinnedPages() int {
	return p.allocated - p.freeList.Size() - p.lruList.Size()
}

// Destroyable reports whether the pool can be safely torn down: no
// pinned entries and nothing left to evict, i.e. every store that ever
// used this pool has closed cleanly.
func (p *Pool) Destroyable() bool {
	return p.PinnedPages() == 0 && p.lruList.Empty()
}

// StorePage returns a pinned entry caching (store, pageID), fetching it
// from the store if it wasn't already cached.
func (p *Pool) StorePage(store page.Store, pageID uint64, mode FetchMode) (*page.Entry, error) {
	key := identityKey{store, pageID}

	if entry, ok := p.identity[key]; ok {
		entry.Pin()
		p.lruList.Erase(&entry.PoolNode)
		return entry, nil
	}

	entry, err := p.AllocPage()
	if err != nil {
		return nil, err
	}

	if err := p.AssignPageToStore(entry, store, pageID, mode); err != nil {
		return nil, err
	}

	p.identity[key] = entry
	return entry, nil
}

// UnpinStorePage removes one pin from an assigned entry previously
// obtained via StorePage. Once the last pin is removed the entry is
// pushed onto the LRU tail (the most-recently-used end) but stays in
// the identity map, so a subsequent StorePage for the same identity
// still hits.
func (p *Pool) UnpinStorePage(entry *page.Entry) {
	p.requireAssigned(entry, "UnpinStorePage")
	entry.Unpin()
	if !entry.Pinned() {
		p.lruList.PushBack(&entry.PoolNode)
	}
}

// UnpinAndWriteStorePage is UnpinStorePage, but if entry is dirty its
// buffer is written back through the store before the pin is dropped.
// Once unpinned, entry is pushed onto the LRU list before any close is
// requested. On a write failure the store is then asked to close, which
// may run its close sweep synchronously and unassign entry (taking it
// back off the LRU list) before this returns.
func (p *Pool) UnpinAndWriteStorePage(entry *page.Entry) error {
	p.requireAssigned(entry, "UnpinAndWriteStorePage")

	identity := entry.Identity()
	var writeErr error
	if entry.Dirty() {
		if err := identity.Store.WritePage(entry); err != nil {
			writeErr = errors.Wrap(ErrIO, err.Error())
		} else {
			entry.MarkDirty(false)
		}
	}

	entry.Unpin()
	if entry.Assigned() && !entry.Pinned() {
		p.lruList.PushBack(&entry.PoolNode)
	}

	if writeErr != nil {
		p.log.WithError(writeErr).Warn("write-back failed on unpin; requesting store close")
		identity.Store.RequestClose()
	}
	return writeErr
}

// AllocPage returns a pinned, unassigned entry, preferring the free-list
// (LIFO reuse), then LRU eviction, then growing the pool, then
// ErrPoolFull.
func (p *Pool) AllocPage() (*page.Entry, error) {
	if !p.freeList.Empty() {
		entry := p.freeList.PopFront().Value
		entry.Pin()
		return entry, nil
	}

	if !p.lruList.Empty() {
		entry := p.lruList.PopFront().Value
		entry.Pin()
		p.ForgetStorePage(entry)
		p.UnassignPageFromStore(entry)
		return entry, nil
	}

	if p.allocated < p.capacity {
		entry := page.New(p.pageSize)
		entry.Pin()
		p.allocated++
		return entry, nil
	}

	return nil, ErrPoolFull
}

// UnpinUnassignedPage removes one pin from an unassigned entry (one
// obtained from AllocPage but never assigned, or already rolled back by
// AssignPageToStore). Once unpinned it is pushed onto the free-list, LIFO.
func (p *Pool) UnpinUnassignedPage(entry *page.Entry) {
	if entry.Assigned() {
		panic("pagepool: UnpinUnassignedPage called on an assigned entry")
	}
	entry.Unpin()
	if !entry.Pinned() {
		p.freeList.PushFront(&entry.PoolNode)
	}
}

// AssignPageToStore assigns a pinned, unassigned entry to cache
// (store, pageID), then fetches its data per mode. On a read failure
// the assignment is rolled back and the entry returned to the
// free-list; the caller (typically StorePage) must not use entry again.
func (p *Pool) AssignPageToStore(entry *page.Entry, store page.Store, pageID uint64, mode FetchMode) error {
	if entry.Assigned() || !entry.Pinned() {
		panic("pagepool: AssignPageToStore requires a pinned, unassigned entry")
	}

	entry.Assign(page.Identity{Store: store, PageID: pageID})
	store.PageAssigned(entry)

	if err := p.FetchStorePage(entry, mode); err != nil {
		store.PageUnassigned(entry)
		entry.Unassign()
		p.UnpinUnassignedPage(entry)
		return err
	}

	return nil
}

// UnassignPageFromStore frees an assigned entry from its store: writing
// back first if dirty (ignoring write failure beyond requesting the
// store to close), notifying the store, and unassigning. Precondition:
// entry is assigned and pinned. Does not touch the identity map or any
// pool list; callers that permanently remove the entry from its
// identity (AllocPage's eviction branch, a store's close sweep) must
// call ForgetStorePage themselves, before or after this call.
func (p *Pool) UnassignPageFromStore(entry *page.Entry) {
	p.requireAssigned(entry, "UnassignPageFromStore")

	identity := entry.Identity()
	writeFailed := false
	if entry.Dirty() {
		if err := identity.Store.WritePage(entry); err != nil {
			writeFailed = true
			p.log.WithError(err).Warn("write-back failed during unassign")
		}
		entry.MarkDirty(false)
	}

	identity.Store.PageUnassigned(entry)
	entry.Unassign()

	if writeFailed {
		identity.Store.RequestClose()
	}
}

// ForgetStorePage removes entry's (store, pageID) identity from the
// pool's cache map without otherwise touching it. Every caller that
// permanently removes an assigned entry from circulation for a given
// store (AllocPage's LRU-eviction branch, a store's own close sweep)
// must call this exactly once per entry, or a stale map entry outlives
// the unassign and could shadow a future identical identity.
func (p *Pool) ForgetStorePage(entry *page.Entry) {
	identity := entry.Identity()
	delete(p.identity, identityKey{identity.Store, identity.PageID})
}

// FetchStorePage populates or marks-dirty a freshly-assigned entry
// according to mode. Intended for internal pool use and for tests that
// want to exercise AssignPageToStore's constituent steps directly.
func (p *Pool) FetchStorePage(entry *page.Entry, mode FetchMode) error {
	if mode == FetchPageData {
		if err := entry.Identity().Store.ReadPage(entry); err != nil {
			return errors.Wrap(ErrIO, err.Error())
		}
		return nil
	}

	entry.MarkDirty(true)
	if debugFill {
		buf := entry.Data()
		for i := range buf {
			buf[i] = fillPattern
		}
	}
	return nil
}

// PinStorePage adds an extra pin to an already-cached, currently
// unpinned entry, removing it from the LRU list if present. Intended
// for internal use: a store's close sweep uses it to force a pin onto
// every entry it is about to unassign, so the entry can't be evicted by
// another caller mid-sweep.
func (p *Pool) PinStorePage(entry *page.Entry) {
	p.requireAssigned(entry, "PinStorePage")
	p.lruList.Erase(&entry.PoolNode)
	entry.Pin()
}

func (p *Pool) requireAssigned(entry *page.Entry, op string) {
	if !entry.Assigned() {
		panic(fmt.Sprintf("pagepool: %s requires an assigned entry", op))
	}
}
