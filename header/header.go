// Package header encodes and decodes the fixed-layout header every
// store keeps in its page 0: the free-list's head run pointer, the
// root catalog page id, and a checksum guarding the rest against
// silent corruption.
package header

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

// Size is the number of bytes a Header occupies at the front of page 0.
// A store's page size must be at least this large.
const Size = 8 + 8 + 32

// ErrChecksumMismatch is returned by Decode when the stored checksum
// does not match the decoded fields, indicating a torn or corrupted
// header write.
var ErrChecksumMismatch = errors.New("header: checksum mismatch")

// Header is the metadata a store keeps in page 0.
type Header struct {
	FreeListHead  uint64
	CatalogPageID uint64
}

// Encode writes h into the front of dest, which must be at least Size
// bytes, stamping it with a fresh checksum over the encoded fields.
func Encode(h Header, dest []byte) {
	if len(dest) < Size {
		panic("header: destination buffer smaller than header.Size")
	}
	binary.BigEndian.PutUint64(dest[0:], h.FreeListHead)
	binary.BigEndian.PutUint64(dest[8:], h.CatalogPageID)

	sum := blake3.Sum256(dest[:16])
	copy(dest[16:Size], sum[:])
}

// Decode reads a Header from the front of src, which must be at least
// Size bytes, and verifies its checksum.
func Decode(src []byte) (Header, error) {
	if len(src) < Size {
		panic("header: source buffer smaller than header.Size")
	}

	want := src[16:Size]
	got := blake3.Sum256(src[:16])
	if !bytes.Equal(got[:], want) {
		return Header{}, ErrChecksumMismatch
	}

	return Header{
		FreeListHead:  binary.BigEndian.Uint64(src[0:]),
		CatalogPageID: binary.BigEndian.Uint64(src[8:]),
	}, nil
}
