// Package berrypool is the public façade over the page pool subsystem:
// a single DB holding one pagepool.Pool shared by every store it opens,
// guarded by a single coarse lock above the otherwise lock-free core.
package berrypool

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"berrypool/internal/page"
	"berrypool/internal/vfs"
	"berrypool/pagepool"
	"berrypool/store"
	"berrypool/txn"
)

const (
	defaultPageShift    = 12 // 4 KiB pages
	defaultPageCapacity = 1024
)

// Option configures a DB at Open time.
type Option func(*config)

type config struct {
	pageShift    uint
	pageCapacity int
	vfs          vfs.VFS
}

// WithPageShift sets the base-2 log of the page size (1<<shift bytes).
// Must be in [9, 24]; defaults to 12 (4 KiB).
func WithPageShift(shift uint) Option {
	return func(c *config) { c.pageShift = shift }
}

// WithPageCapacity sets the maximum number of pages the pool will hold
// in memory at once. Defaults to 1024.
func WithPageCapacity(capacity int) Option {
	return func(c *config) { c.pageCapacity = capacity }
}

// WithVFS overrides the file access layer, primarily for tests that
// want vfs.NewMemory() instead of the OS-backed default.
func WithVFS(v vfs.VFS) Option {
	return func(c *config) { c.vfs = v }
}

// DB is a page pool and every store currently open against it.
type DB struct {
	mu sync.Mutex

	pool   *pagepool.Pool
	vfs    vfs.VFS
	stores map[string]*store.FileStore

	log *logrus.Entry
}

// Open creates a DB ready to open stores through. It does not itself
// open any store; call OpenStore for that.
func Open(opts ...Option) *DB {
	cfg := config{
		pageShift:    defaultPageShift,
		pageCapacity: defaultPageCapacity,
		vfs:          vfs.Default,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &DB{
		pool:   pagepool.New(cfg.pageShift, cfg.pageCapacity),
		vfs:    cfg.vfs,
		stores: make(map[string]*store.FileStore),
		log:    logrus.WithField("component", "berrypool"),
	}
}

// OpenStore opens (creating if necessary) the store at path, or returns
// the already-open *Store if this DB has it open already.
func (db *DB) OpenStore(path string) (*Store, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	fs, ok := db.stores[path]
	if !ok {
		var err error
		fs, err = store.Open(db.vfs, path, db.pool)
		if err != nil {
			return nil, errors.Wrapf(err, "berrypool: open store %q", path)
		}
		db.stores[path] = fs
	}

	return &Store{db: db, fs: fs, path: path}, nil
}

// CloseStore closes the named store and releases its slot in this DB.
// The store's pages are fully unassigned (dirty ones written back first)
// and returned to the pool's free-list before this returns.
func (db *DB) CloseStore(path string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	fs, ok := db.stores[path]
	if !ok {
		return nil
	}
	delete(db.stores, path)
	return fs.Close()
}

// Close closes every store this DB still has open.
func (db *DB) Close() error {
	db.mu.Lock()
	paths := make([]string, 0, len(db.stores))
	for p := range db.stores {
		paths = append(paths, p)
	}
	db.mu.Unlock()

	var firstErr error
	for _, p := range paths {
		if err := db.CloseStore(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PoolStats is a point-in-time snapshot of the pool's bookkeeping
// counters, for the cmd/berrypoolctl CLI and for tests.
type PoolStats struct {
	PageSize       int
	AllocatedPages int
	UnusedPages    int
	LRUPages       int
	PinnedPages    int
}

// Stats returns the current pool counters.
func (db *DB) Stats() PoolStats {
	db.mu.Lock()
	defer db.mu.Unlock()

	return PoolStats{
		PageSize:       db.pool.PageSize(),
		AllocatedPages: db.pool.AllocatedPages(),
		UnusedPages:    db.pool.UnusedPages(),
		LRUPages:       db.pool.LRUPages(),
		PinnedPages:    db.pool.PinnedPages(),
	}
}

// Store is a handle to one open store, with page access mediated
// through the DB's shared pool and coarse lock.
type Store struct {
	db   *DB
	fs   *store.FileStore
	path string
}

// Page is a pinned page handle a caller must release with Unpin.
type Page struct {
	entry *page.Entry
}

// ID returns the page's id.
func (p *Page) ID() uint64 { return p.entry.Identity().PageID }

// Data returns the page's buffer. Valid until Unpin.
func (p *Page) Data() []byte { return p.entry.Data() }

// Fetch pins and returns the page with the given id, reading its
// current contents.
func (s *Store) Fetch(id uint64) (*Page, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	entry, err := s.db.pool.StorePage(s.fs, id, pagepool.FetchPageData)
	if err != nil {
		return nil, err
	}
	return &Page{entry: entry}, nil
}

// New allocates a fresh page id and pins a page for it without reading
// (the caller is expected to fill the whole buffer).
func (s *Store) New(t *txn.Transaction) (*Page, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	id, err := s.fs.NewPage()
	if err != nil {
		return nil, err
	}
	entry, err := s.db.pool.StorePage(s.fs, id, pagepool.IgnorePageData)
	if err != nil {
		return nil, err
	}
	return &Page{entry: entry}, nil
}

// Unpin releases a page previously obtained via Fetch or New. If dirty
// is true the page is written back before (or as part of) eviction.
func (s *Store) Unpin(p *Page, dirty bool) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	p.entry.MarkDirty(dirty)
	s.db.pool.UnpinStorePage(p.entry)
	return nil
}

// Free returns a page's id to the store's free-list, deferred until t
// commits.
func (s *Store) Free(t *txn.Transaction, id uint64) {
	t.FreePage(id)
}

// Commit persists every page t queued for freeing via Free.
func (s *Store) Commit(t *txn.Transaction) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, id := range t.FreedPages() {
		if err := s.fs.FreePage(id); err != nil {
			return err
		}
	}
	t.Finish()
	return nil
}

// CatalogPageID returns the store's root catalog page id.
func (s *Store) CatalogPageID() uint64 {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.fs.CatalogPageID()
}

// SetCatalogPageID sets the store's root catalog page id.
func (s *Store) SetCatalogPageID(id uint64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.fs.SetCatalogPageID(id)
}
