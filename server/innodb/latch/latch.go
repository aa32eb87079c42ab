// Package latch is the segment lock: a reader-writer latch that never
// blocks its caller. A transaction that cannot get a segment's lock
// immediately aborts instead of waiting for it — there are no
// suspension points anywhere in this engine (every acquisition a
// transaction ever issues is a Try call) — so, unlike a general-purpose
// RWMutex wrapper, Latch deliberately has no blocking Lock/RLock at
// all: there is nothing in this codebase that is allowed to call them.
package latch

import "sync"

// Latch guards one segment's bytes. Exclusive and shared holds are
// mutually exclusive in the usual RWMutex sense; what's different from
// a plain mutex is that every acquisition here is an attempt, never a
// wait.
type Latch struct {
	mu sync.RWMutex
}

func NewLatch() *Latch {
	return &Latch{}
}

// TryLock attempts to acquire the latch in exclusive mode, returning
// immediately with false if it is already held in either mode. A
// goroutine that already holds the latch shared cannot promote that
// hold to exclusive by calling TryLock again — sync.RWMutex counts its
// own outstanding readers, so the call fails exactly as if a different
// goroutine held it; lock strength is never silently upgraded.
func (l *Latch) TryLock() bool { return l.mu.TryLock() }

// TryRLock attempts to acquire the latch in shared mode, returning
// immediately with false if it is already held exclusively.
func (l *Latch) TryRLock() bool { return l.mu.TryRLock() }

// Unlock releases a previously acquired exclusive hold.
func (l *Latch) Unlock() { l.mu.Unlock() }

// RUnlock releases a previously acquired shared hold.
func (l *Latch) RUnlock() { l.mu.RUnlock() }
