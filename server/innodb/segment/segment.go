// Package segment implements the unit of concurrency control for the
// transactional engine: an aligned, address-stable byte buffer guarded
// by a non-blocking reader-writer latch.
//
// The type here plays the role that BufferPage/BufferBlock play in a
// buffer-pool design (mutex-guarded content plus a boolean state flag),
// but there is no pool, no pinning and no disk behind it: a Segment is
// just memory for the lifetime between its allocation and its free.
package segment

import (
	"github.com/OneOfOne/xxhash"

	"github.com/xmemtx/xstm-server/server/innodb/latch"
)

// Segment is a contiguous, aligned byte buffer and the lock that
// protects it. It is the only thing a transaction ever locks.
type Segment struct {
	lock *latch.Latch

	base       uintptr
	memory     []byte
	size       uint64
	root       bool
	tombstoned bool
}

// New allocates a zero-initialized segment of size bytes, whose base
// address is congruent to zero modulo alignment. root marks the segment
// created alongside the region (never freeable).
func New(size, alignment uint64, root bool) (*Segment, error) {
	buf, err := alignedAlloc(size, alignment)
	if err != nil {
		return nil, err
	}
	return &Segment{
		lock:   latch.NewLatch(),
		base:   addressOf(buf),
		memory: buf,
		size:   size,
		root:   root,
	}, nil
}

// Base returns the segment's start address.
func (s *Segment) Base() uintptr { return s.base }

// Size returns the segment's length in bytes.
func (s *Segment) Size() uint64 { return s.size }

// IsRoot reports whether this is the region's non-freeable root segment.
func (s *Segment) IsRoot() bool { return s.root }

// Contains reports whether address falls within [base, base+size).
func (s *Segment) Contains(address uintptr) bool {
	return address >= s.base && address < s.base+uintptr(s.size)
}

// Bytes exposes the raw backing buffer. Callers must already hold the
// segment's lock in the mode appropriate for how they intend to use it.
func (s *Segment) Bytes() []byte { return s.memory }

// TryAcquireShared attempts to take the lock in shared (reader) mode.
// Non-blocking: returns false immediately if it cannot be granted.
func (s *Segment) TryAcquireShared() bool { return s.lock.TryRLock() }

// TryAcquireExclusive attempts to take the lock in exclusive (writer)
// mode. Non-blocking: returns false immediately if it cannot be granted.
func (s *Segment) TryAcquireExclusive() bool { return s.lock.TryLock() }

// ReleaseShared releases a previously acquired shared hold.
func (s *Segment) ReleaseShared() { s.lock.RUnlock() }

// ReleaseExclusive releases a previously acquired exclusive hold.
func (s *Segment) ReleaseExclusive() { s.lock.Unlock() }

// IsTombstoned reports whether some uncommitted transaction has
// requested this segment be freed. The caller must hold the segment's
// lock (shared is enough to read; the flag is only ever written by
// whoever holds it exclusively).
func (s *Segment) IsTombstoned() bool { return s.tombstoned }

// MarkTombstoned flags the segment for deletion on commit. The caller
// must already hold the segment's lock exclusively.
func (s *Segment) MarkTombstoned() { s.tombstoned = true }

// ClearTombstone undoes MarkTombstoned, used when the transaction that
// requested the free aborts instead of committing. The caller must
// already hold the segment's lock exclusively.
func (s *Segment) ClearTombstone() { s.tombstoned = false }

// Destroy releases the segment's buffer. Per §4.1, the buffer is only
// released once the lock protecting it is no longer held; callers
// release the lock (if they were holding it) before calling Destroy.
func (s *Segment) Destroy() { s.memory = nil }

// Checksum returns a fast, non-cryptographic fingerprint of the
// segment's current bytes. It exists for rollback diagnostics: abort's
// undo replay logs a segment's checksum before and after restoring its
// pre-image, which is the cheapest way to notice in a log line that a
// restore actually changed something (or unexpectedly didn't) without
// dumping the buffer itself. The caller must hold the segment's lock,
// same as Bytes.
func (s *Segment) Checksum() uint64 {
	h := xxhash.New64()
	h.Write(s.memory)
	return h.Sum64()
}
