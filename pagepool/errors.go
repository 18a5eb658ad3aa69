package pagepool

import "github.com/pkg/errors"

// Closed error taxonomy. These are the only sentinel kinds the pool
// itself ever returns; io errors from a Store are wrapped with
// ErrIO so callers can still errors.Is(err, pagepool.ErrIO) through a
// pkg/errors chain. The Store's original error survives only as the
// wrap's message text; errors.Cause returns ErrIO itself.
var (
	// ErrPoolFull is returned by AllocPage/StorePage when no reusable
	// slot can be found and the pool is already at capacity.
	// Recoverable: the caller can drop pins elsewhere and retry.
	ErrPoolFull = errors.New("pagepool: pool is full")

	// ErrAlreadyClosed is returned by a store's own operations (see
	// store.FileStore's NewPage, FreePage, SetCatalogPageID) once its
	// state is Closing or Closed, and by its ReadPage/WritePage once it
	// is Closed. The pool does not return it: a ReadPage/WritePage
	// failure reaches pool callers wrapped as ErrIO.
	ErrAlreadyClosed = errors.New("pagepool: store is already closed")

	// ErrIO wraps any failure surfaced by a Store's ReadPage/WritePage.
	// The original error is kept only in the message text.
	ErrIO = errors.New("pagepool: io error")
)
