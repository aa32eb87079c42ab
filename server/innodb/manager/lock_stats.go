package manager

import "sync/atomic"

// LockStats tracks how often segment lock acquisitions succeed or are
// contended. There is no waiting, timeout or deadlock concept here: a
// try-acquire either succeeds immediately or fails immediately, so the
// fields that would have tracked wait queues and deadlock cycles in a
// blocking lock manager have no counterpart and are dropped.
type LockStats struct {
	GrantedShared    uint64
	GrantedExclusive uint64
	Contended        uint64
	AlreadyHeld      uint64
}

func (s *LockStats) recordGrantedShared()    { atomic.AddUint64(&s.GrantedShared, 1) }
func (s *LockStats) recordGrantedExclusive() { atomic.AddUint64(&s.GrantedExclusive, 1) }
func (s *LockStats) recordContended()        { atomic.AddUint64(&s.Contended, 1) }
func (s *LockStats) recordAlreadyHeld()      { atomic.AddUint64(&s.AlreadyHeld, 1) }

// Snapshot returns a copy of the current counters, safe to read while
// the engine continues to mutate the live stats.
func (s *LockStats) Snapshot() LockStats {
	return LockStats{
		GrantedShared:    atomic.LoadUint64(&s.GrantedShared),
		GrantedExclusive: atomic.LoadUint64(&s.GrantedExclusive),
		Contended:        atomic.LoadUint64(&s.Contended),
		AlreadyHeld:      atomic.LoadUint64(&s.AlreadyHeld),
	}
}
