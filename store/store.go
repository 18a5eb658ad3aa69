// Package store implements the page pool's store adapter: a single
// open data file, the header page that anchors its free-list and root
// catalog, and the bookkeeping a store needs to unwind cleanly when
// closed or when the pool reports a write-back failure.
package store

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"berrypool/freelist"
	"berrypool/header"
	"berrypool/internal/list"
	"berrypool/internal/page"
	"berrypool/internal/vfs"
	"berrypool/pagepool"
)

type state int

const (
	stateOpen state = iota
	stateClosing
	stateClosed
)

// headerPageID is the page reserved for header.Header; real pages start
// at 1.
const headerPageID = 0

// FileStore is a page pool store backed by one vfs.File. It satisfies
// page.Store.
type FileStore struct {
	id   uuid.UUID
	file vfs.File
	pool *pagepool.Pool

	pageSize   int
	lastPageID uint64
	catalogID  uint64

	freeList *freelist.List
	assigned *list.List[*page.Entry]

	state state
	log   *logrus.Entry
}

var _ page.Store = (*FileStore)(nil)

// Open opens (creating if necessary) the data file at path through v,
// reads or initializes its header, and returns a store ready to be used
// with pool. pool's page size must match the store's on-disk page size.
func Open(v vfs.VFS, path string, pool *pagepool.Pool) (*FileStore, error) {
	f, err := v.OpenData(path)
	if err != nil {
		return nil, errors.Wrapf(err, "store: open %q", path)
	}

	s := &FileStore{
		id:       uuid.New(),
		file:     f,
		pool:     pool,
		pageSize: pool.PageSize(),
		assigned: list.New[*page.Entry](),
		log:      logrus.WithField("component", "store"),
	}
	s.log = s.log.WithField("store", s.id.String())

	size, err := f.Size()
	if err != nil {
		return nil, errors.Wrap(err, "store: stat data file")
	}

	if size == 0 {
		s.lastPageID = 0
		s.freeList, err = freelist.Open(f, s.pageSize, 0)
		if err != nil {
			return nil, err
		}
		if err := s.writeHeader(); err != nil {
			return nil, err
		}
		return s, nil
	}

	buf := make([]byte, s.pageSize)
	if err := f.ReadAt(0, buf); err != nil {
		return nil, errors.Wrap(err, "store: read header page")
	}
	h, err := header.Decode(buf)
	if err != nil {
		return nil, errors.Wrap(err, "store: decode header")
	}
	s.catalogID = h.CatalogPageID
	s.lastPageID = uint64(size/int64(s.pageSize)) - 1

	s.freeList, err = freelist.Open(f, s.pageSize, h.FreeListHead)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// ID returns the store's process-lifetime instance identifier, useful
// for correlating log lines across a store's lifecycle.
func (s *FileStore) ID() uuid.UUID { return s.id }

// IsClosed reports whether the store has fully closed.
func (s *FileStore) IsClosed() bool { return s.state == stateClosed }

// CatalogPageID returns the root catalog page id recorded in the
// store's header, 0 if none has been set yet.
func (s *FileStore) CatalogPageID() uint64 { return s.catalogID }

// SetCatalogPageID records the root catalog page id and persists the
// header immediately.
func (s *FileStore) SetCatalogPageID(id uint64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.catalogID = id
	return s.writeHeader()
}

// NewPage allocates a fresh page id, preferring a freed page over
// growing the file.
func (s *FileStore) NewPage() (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if !s.freeList.Empty() {
		return s.freeList.Pop(), nil
	}
	s.lastPageID++
	return s.lastPageID, nil
}

// FreePage returns pageID to the store's free-list and persists the
// updated free-list head into the header.
func (s *FileStore) FreePage(pageID uint64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.freeList.Push(pageID)
	return s.flushFreeList()
}

// ReadPage implements page.Store. Unlike the store's own public
// operations, this stays callable while the store is stateClosing: the
// pool's close sweep writes back dirty pages through WritePage before
// the store finishes closing, so only a fully-closed store rejects it.
func (s *FileStore) ReadPage(entry *page.Entry) error {
	if s.state == stateClosed {
		return pagepool.ErrAlreadyClosed
	}
	off := int64(entry.Identity().PageID) * int64(s.pageSize)
	if err := s.file.ReadAt(off, entry.Data()); err != nil {
		return errors.Wrapf(err, "store: read page %d", entry.Identity().PageID)
	}
	return nil
}

// WritePage implements page.Store. See ReadPage for why this only
// rejects a fully-closed store, not one still running its close sweep.
func (s *FileStore) WritePage(entry *page.Entry) error {
	if s.state == stateClosed {
		return pagepool.ErrAlreadyClosed
	}
	off := int64(entry.Identity().PageID) * int64(s.pageSize)
	if err := s.file.WriteAt(off, entry.Data()); err != nil {
		return errors.Wrapf(err, "store: write page %d", entry.Identity().PageID)
	}
	return nil
}

// checkOpen returns pagepool.ErrAlreadyClosed if the store is not fully
// open, for operations a caller drives directly rather than ones the
// pool invokes as part of its own bookkeeping.
func (s *FileStore) checkOpen() error {
	if s.state != stateOpen {
		return pagepool.ErrAlreadyClosed
	}
	return nil
}

// PageAssigned implements page.Store.
func (s *FileStore) PageAssigned(entry *page.Entry) {
	s.assigned.PushBack(&entry.StoreNode)
}

// PageUnassigned implements page.Store.
func (s *FileStore) PageUnassigned(entry *page.Entry) {
	s.assigned.Erase(&entry.StoreNode)
}

// RequestClose implements page.Store. It is invoked by the pool when a
// write-back it attempted fails; the store transitions to closing and
// unwinds its remaining assigned pages. Idempotent: a second call while
// already closing/closed is a no-op.
func (s *FileStore) RequestClose() {
	if s.state != stateOpen {
		return
	}
	s.log.Warn("closing store after a write-back failure")
	s.state = stateClosing
	s.drainAssigned()
	s.finishClose()
}

// Close closes the store cleanly: every remaining assigned page is
// unassigned (writing back if dirty), the header is flushed, and the
// underlying file is closed. Safe to call more than once.
func (s *FileStore) Close() error {
	if s.state != stateOpen {
		return nil
	}
	s.state = stateClosing
	s.drainAssigned()
	if err := s.writeHeader(); err != nil {
		s.finishClose()
		return err
	}
	if err := s.file.Sync(); err != nil {
		s.finishClose()
		return errors.Wrap(err, "store: sync on close")
	}
	err := s.file.Close()
	s.finishClose()
	if err != nil {
		return errors.Wrap(err, "store: close data file")
	}
	return nil
}

// drainAssigned force-unassigns every entry still assigned to this
// store: pin it (removing it from the LRU list if it's there), drop its
// identity from the pool's cache map so a closed store can never shadow
// a future identity, unassign (writing back if dirty; a further write
// failure here is ignored, since the store is already closing), then
// return the entry to the pool's free-list.
func (s *FileStore) drainAssigned() {
	for !s.assigned.Empty() {
		entry := s.assigned.Front().Value
		s.pool.PinStorePage(entry)
		s.pool.ForgetStorePage(entry)
		s.pool.UnassignPageFromStore(entry)
		s.pool.UnpinUnassignedPage(entry)
	}
}

func (s *FileStore) finishClose() {
	s.state = stateClosed
}

func (s *FileStore) flushFreeList() error {
	head, err := s.freeList.Flush(func() uint64 {
		s.lastPageID++
		return s.lastPageID
	})
	if err != nil {
		return err
	}
	return s.writeHeaderWithFreeListHead(head)
}

func (s *FileStore) writeHeader() error {
	return s.writeHeaderWithFreeListHead(s.freeList.HeadPage())
}

func (s *FileStore) writeHeaderWithFreeListHead(freeListHead uint64) error {
	buf := make([]byte, s.pageSize)
	header.Encode(header.Header{
		FreeListHead:  freeListHead,
		CatalogPageID: s.catalogID,
	}, buf)
	if err := s.file.WriteAt(headerPageID*int64(s.pageSize), buf); err != nil {
		return errors.Wrap(err, "store: write header page")
	}
	return nil
}
