package pagepool_test

import (
	"berrypool/internal/page"
)

// stubStore is a minimal page.Store used to exercise pagepool.Pool in
// isolation: the smallest collaborator needed, rather than a full disk
// manager.
type stubStore struct {
	name string

	readErr  error
	writeErr error

	reads  int
	writes int

	// pages holds the last buffer written for each page id, so a later
	// ReadPage returns it.
	pages map[uint64][]byte

	assigned   map[*page.Entry]bool
	closeAsked bool

	// onRequestClose, when set, runs during RequestClose, so tests can
	// model the reentrant drain a real store performs (unassigning
	// whatever it still has assigned) before RequestClose returns.
	onRequestClose func()
}

func newStubStore(name string) *stubStore {
	return &stubStore{name: name, assigned: make(map[*page.Entry]bool), pages: make(map[uint64][]byte)}
}

func (s *stubStore) ReadPage(entry *page.Entry) error {
	s.reads++
	if s.readErr != nil {
		return s.readErr
	}
	buf := entry.Data()
	if written, ok := s.pages[entry.Identity().PageID]; ok {
		copy(buf, written)
		return nil
	}
	for i := range buf {
		buf[i] = byte(entry.Identity().PageID)
	}
	return nil
}

func (s *stubStore) WritePage(entry *page.Entry) error {
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	s.pages[entry.Identity().PageID] = append([]byte(nil), entry.Data()...)
	return nil
}

func (s *stubStore) PageAssigned(entry *page.Entry)   { s.assigned[entry] = true }
func (s *stubStore) PageUnassigned(entry *page.Entry) { delete(s.assigned, entry) }

func (s *stubStore) RequestClose() {
	if s.closeAsked {
		return
	}
	s.closeAsked = true
	if s.onRequestClose != nil {
		s.onRequestClose()
	}
}
