// Package vfs defines the block-access file interface store adapters
// read and write through, plus the factory that produces one.
//
// Offsets and lengths that cross this interface are always multiples of
// the caller's page size; File itself is agnostic to page size.
package vfs

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// File is a block-access file of fixed-size blocks. Implementations
// only need to be safe for single-threaded cooperative use: the pool
// never issues two operations on the same File concurrently.
type File interface {
	// ReadAt reads len(buf) bytes starting at offset into buf. It
	// returns an error (wrapping io.ErrUnexpectedEOF) if fewer bytes are
	// available.
	ReadAt(offset int64, buf []byte) error

	// WriteAt writes buf to the file starting at offset.
	WriteAt(offset int64, buf []byte) error

	// Sync flushes any buffered writes to stable storage.
	Sync() error

	// Close releases the file's resources. After Close, no other
	// method may be called.
	Close() error

	// Size returns the current length of the file in bytes.
	Size() (int64, error)
}

// VFS creates and opens the data and log files for a store, keyed
// externally by filesystem path.
type VFS interface {
	// OpenData opens (creating if necessary) the data file at path.
	OpenData(path string) (File, error)

	// OpenLog opens (creating if necessary) the log file at path.
	OpenLog(path string) (File, error)

	// Remove deletes the file at path. Used by tests to clean up.
	Remove(path string) error
}

// Default is the OS-file-backed VFS used outside of tests.
var Default VFS = osVFS{}

type osVFS struct{}

func (osVFS) OpenData(path string) (File, error) {
	return openOSFile(path)
}

func (osVFS) OpenLog(path string) (File, error) {
	return openOSFile(path)
}

func (osVFS) Remove(path string) error {
	return os.Remove(path)
}

type osFile struct {
	f  *os.File
	mu sync.Mutex
}

func openOSFile(path string) (File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "vfs: open %q", path)
	}
	return &osFile{f: f}, nil
}

func (o *osFile) ReadAt(offset int64, buf []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	n, err := o.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return errors.Wrap(err, "vfs: read")
	}
	if n != len(buf) {
		return errors.Wrapf(io.ErrUnexpectedEOF, "vfs: short read at offset %d, got %d of %d bytes", offset, n, len(buf))
	}
	return nil
}

func (o *osFile) WriteAt(offset int64, buf []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	n, err := o.f.WriteAt(buf, offset)
	if err != nil {
		return errors.Wrap(err, "vfs: write")
	}
	if n != len(buf) {
		return errors.Errorf("vfs: short write at offset %d, wrote %d of %d bytes", offset, n, len(buf))
	}
	return nil
}

func (o *osFile) Sync() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.f.Sync(); err != nil {
		return errors.Wrap(err, "vfs: sync")
	}
	return nil
}

func (o *osFile) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.f.Close(); err != nil {
		return errors.Wrap(err, "vfs: close")
	}
	return nil
}

func (o *osFile) Size() (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	stat, err := o.f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "vfs: stat")
	}
	return stat.Size(), nil
}
