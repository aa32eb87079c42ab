package segment

import (
	"unsafe"

	"github.com/juju/errors"
	"github.com/ncw/directio"
	"golang.org/x/sys/unix"

	"github.com/xmemtx/xstm-server/server/common"
)

// isPowerOfTwo reports whether n is a power of two, per the alignment
// contract in §6 of the interface: alignment must be a power of two.
func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// alignedAlloc returns a zero-initialized buffer of exactly size bytes
// whose first byte sits at an address congruent to zero modulo alignment.
//
// When the requested alignment fits within the host's page size we get
// the buffer from directio.AlignedBlock, which already over-aligns to
// the page boundary (page-aligned memory trivially satisfies any smaller
// power-of-two alignment). Larger alignments fall back to a manual
// over-allocate-and-slice, the same trick AlignedBlock itself uses
// internally, just parameterized on an arbitrary alignment instead of a
// fixed page size.
func alignedAlloc(size, alignment uint64) ([]byte, error) {
	if !isPowerOfTwo(alignment) {
		return nil, errors.Annotatef(common.ErrOutOfMemory, "alignment %d is not a power of two", alignment)
	}
	if size == 0 || size%alignment != 0 {
		return nil, errors.Annotatef(common.ErrOutOfMemory, "size %d is not a positive multiple of alignment %d", size, alignment)
	}

	if alignment <= uint64(unix.Getpagesize()) {
		buf := directio.AlignedBlock(int(size))
		for i := range buf {
			buf[i] = 0
		}
		return buf, nil
	}

	return overAllocate(size, alignment)
}

func overAllocate(size, alignment uint64) ([]byte, error) {
	raw := make([]byte, size+alignment)
	base := uintptr(unsafe.Pointer(&raw[0]))
	rem := uint64(base) % alignment
	var offset uint64
	if rem != 0 {
		offset = alignment - rem
	}
	return raw[offset : offset+size : offset+size], nil
}

// addressOf returns the address of a buffer's first byte. The buffer
// must be non-empty and must not be moved or reallocated afterward; the
// segment that owns it keeps the slice header alive for exactly that
// reason.
func addressOf(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}
