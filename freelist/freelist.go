// Package freelist implements a store's free-page list: the set of
// page ids a store may reuse before growing its data file, referenced
// from the store's header and persisted as one compressed run page.
//
// The page pool itself never looks inside a free-page list; a store
// talks to its free-page list directly and only hands the pool whatever
// page id NewPage decides to return. Freed ids are batched into one run
// and compressed with snappy, so a store that frees many pages in a
// burst (a large delete, say) does not spend one page per freed id.
package freelist

import (
	"encoding/binary"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"berrypool/internal/vfs"
)

// runHeaderSize is the fixed prefix of a run page: the length of the
// compressed payload that follows.
const runHeaderSize = 4

// List is a LIFO free-page list for one store. It keeps its run fully
// materialized in memory and persists it to a single page on Flush,
// reusing that page on every later flush rather than allocating a new
// one each time.
type List struct {
	file     vfs.File
	pageSize int

	headPage uint64 // page the in-memory run was last flushed to, 0 if none
	ids      []uint64
}

// Open loads the free-list whose run starts at headPage (0 for an empty
// list, as stored in the store's header).
func Open(file vfs.File, pageSize int, headPage uint64) (*List, error) {
	l := &List{file: file, pageSize: pageSize, headPage: headPage}
	if headPage == 0 {
		return l, nil
	}

	ids, err := l.readRun(headPage)
	if err != nil {
		return nil, err
	}
	l.ids = ids
	return l, nil
}

// Empty reports whether the free-list currently has no ids to hand out.
func (l *List) Empty() bool {
	return len(l.ids) == 0
}

// HeadPage returns the page id of the run currently backing the
// in-memory list, for the caller to persist into the store header.
func (l *List) HeadPage() uint64 {
	return l.headPage
}

// Push adds pageID to the list, LIFO: it is the next id Pop returns.
func (l *List) Push(pageID uint64) {
	l.ids = append(l.ids, pageID)
}

// Pop removes and returns the most recently pushed id. It panics if the
// list is empty; callers must check Empty first.
func (l *List) Pop() uint64 {
	if len(l.ids) == 0 {
		panic("freelist: pop from empty list")
	}
	id := l.ids[len(l.ids)-1]
	l.ids = l.ids[:len(l.ids)-1]
	return id
}

// Flush persists the in-memory run to a page, allocating one via
// nextPageID the first time (typically the store's own page-growth
// counter) and reusing that same page on every later call. Returns the
// page id the caller should record as the free-list head in the store
// header. If the list is empty, it returns 0 and writes nothing.
func (l *List) Flush(nextPageID func() uint64) (uint64, error) {
	if len(l.ids) == 0 {
		return 0, nil
	}

	page := l.headPage
	if page == 0 {
		page = nextPageID()
	}
	if err := l.writeRun(page, l.ids); err != nil {
		return 0, err
	}
	l.headPage = page
	return page, nil
}

func (l *List) readRun(page uint64) ([]uint64, error) {
	prefix := make([]byte, runHeaderSize)
	if err := l.file.ReadAt(int64(page)*int64(l.pageSize), prefix); err != nil {
		return nil, errors.Wrapf(err, "freelist: read run header at page %d", page)
	}
	compLen := binary.BigEndian.Uint32(prefix[0:4])

	comp := make([]byte, compLen)
	if err := l.file.ReadAt(int64(page)*int64(l.pageSize)+runHeaderSize, comp); err != nil {
		return nil, errors.Wrapf(err, "freelist: read run payload at page %d", page)
	}

	raw, err := snappy.Decode(nil, comp)
	if err != nil {
		return nil, errors.Wrapf(err, "freelist: decompress run at page %d", page)
	}

	ids := make([]uint64, len(raw)/8)
	for i := range ids {
		ids[i] = binary.BigEndian.Uint64(raw[i*8:])
	}
	return ids, nil
}

func (l *List) writeRun(page uint64, ids []uint64) error {
	raw := make([]byte, len(ids)*8)
	for i, id := range ids {
		binary.BigEndian.PutUint64(raw[i*8:], id)
	}
	comp := snappy.Encode(nil, raw)

	if runHeaderSize+len(comp) > l.pageSize {
		return errors.Errorf("freelist: compressed run (%d bytes) does not fit in a %d byte page", len(comp), l.pageSize)
	}

	buf := make([]byte, l.pageSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(comp)))
	copy(buf[runHeaderSize:], comp)

	if err := l.file.WriteAt(int64(page)*int64(l.pageSize), buf); err != nil {
		return errors.Wrapf(err, "freelist: write run at page %d", page)
	}
	return nil
}
