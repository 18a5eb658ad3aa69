package vfs

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// NewMemory returns a VFS backed entirely by process memory, used for
// tests that want deterministic, fast I/O without touching a
// filesystem: a lock-guarded map stands in for real block storage.
func NewMemory() VFS {
	return &memoryVFS{files: make(map[string]*sharedData)}
}

type memoryVFS struct {
	mu    sync.Mutex
	files map[string]*sharedData
}

// sharedData is the content backing a path, independent of any one
// handle's open/closed state, matching OS semantics: closing one handle
// to a file doesn't invalidate a later Open of the same path.
type sharedData struct {
	mu   sync.Mutex
	data []byte
}

func (m *memoryVFS) open(path string) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.files[path]
	if !ok {
		d = &sharedData{}
		m.files[path] = d
	}
	return &memoryFile{shared: d}, nil
}

func (m *memoryVFS) OpenData(path string) (File, error) { return m.open(path) }
func (m *memoryVFS) OpenLog(path string) (File, error)  { return m.open(path) }

func (m *memoryVFS) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

// memoryFile is one handle onto a sharedData block. Its closed flag is
// per-handle, matching OS semantics where closing one fd doesn't affect
// a separate fd opened later against the same path.
type memoryFile struct {
	shared *sharedData
	closed bool
}

func (f *memoryFile) ReadAt(offset int64, buf []byte) error {
	if f.closed {
		return errors.New("vfs: read on closed memory file")
	}
	f.shared.mu.Lock()
	defer f.shared.mu.Unlock()

	end := offset + int64(len(buf))
	if end > int64(len(f.shared.data)) {
		return errors.Wrapf(io.ErrUnexpectedEOF, "vfs: short read at offset %d, file is %d bytes", offset, len(f.shared.data))
	}
	copy(buf, f.shared.data[offset:end])
	return nil
}

func (f *memoryFile) WriteAt(offset int64, buf []byte) error {
	if f.closed {
		return errors.New("vfs: write on closed memory file")
	}
	f.shared.mu.Lock()
	defer f.shared.mu.Unlock()

	end := offset + int64(len(buf))
	if end > int64(len(f.shared.data)) {
		grown := make([]byte, end)
		copy(grown, f.shared.data)
		f.shared.data = grown
	}
	copy(f.shared.data[offset:end], buf)
	return nil
}

func (f *memoryFile) Sync() error { return nil }

func (f *memoryFile) Close() error {
	f.closed = true
	return nil
}

func (f *memoryFile) Size() (int64, error) {
	f.shared.mu.Lock()
	defer f.shared.mu.Unlock()
	return int64(len(f.shared.data)), nil
}
