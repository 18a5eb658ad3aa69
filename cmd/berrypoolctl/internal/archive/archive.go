// Package archive holds the compression and verification helpers
// berrypoolctl's commands wrap: lz4 for a page export stream, xz for a
// full-file backup archive, and a header checksum check reused from the
// header package.
package archive

import (
	"io"

	"github.com/dustin/go-humanize"
	"github.com/pierrec/lz4"
	"github.com/ulikunitz/xz"

	"berrypool/berrypool"
	"berrypool/header"
)

// HumanizeBytes renders a byte count the way operators expect
// (1.2 MB, not 1234000).
func HumanizeBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

// ExportPagesLZ4 streams pages 1..count of store to w, lz4-compressed,
// one page's worth of bytes at a time. Returns the number of compressed
// bytes written.
func ExportPagesLZ4(store *berrypool.Store, count uint64, w io.Writer) (int64, error) {
	counting := &countingWriter{w: w}
	zw := lz4.NewWriter(counting)
	closed := false
	defer func() {
		if !closed {
			zw.Close()
		}
	}()

	for id := uint64(1); id <= count; id++ {
		page, err := store.Fetch(id)
		if err != nil {
			return counting.n, err
		}
		if _, err := zw.Write(page.Data()); err != nil {
			store.Unpin(page, false)
			return counting.n, err
		}
		if err := store.Unpin(page, false); err != nil {
			return counting.n, err
		}
	}

	closed = true
	if err := zw.Close(); err != nil {
		return counting.n, err
	}
	return counting.n, nil
}

// BackupXZ copies src to dst through an xz compressor, returning the
// number of compressed bytes written.
func BackupXZ(src io.Reader, dst io.Writer) (int64, error) {
	counting := &countingWriter{w: dst}
	zw, err := xz.NewWriter(counting)
	if err != nil {
		return 0, err
	}

	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()
		return counting.n, err
	}
	if err := zw.Close(); err != nil {
		return counting.n, err
	}
	return counting.n, nil
}

// VerifyHeader reads a store's page-0 header and checks its checksum.
func VerifyHeader(r io.Reader) (bool, error) {
	buf := make([]byte, header.Size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return false, err
	}
	_, err := header.Decode(buf)
	if err == header.ErrChecksumMismatch {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
