// Package manager hosts the transactional engine: the operation layer
// that exposes begin/end/read/write/alloc/free and carries out the
// concurrency and rollback protocol over the region, segment and txn
// packages. It plays the role the xmysql transaction manager plays for
// SQL transactions, but there is no redo log, no MVCC read view and no
// on-disk state — commit visibility comes entirely from the segment
// locks a transaction has acquired by the time it ends.
package manager

import (
	"sync"
	"sync/atomic"

	"github.com/xmemtx/xstm-server/logger"

	"github.com/xmemtx/xstm-server/server/innodb/region"
	"github.com/xmemtx/xstm-server/server/innodb/segment"
	"github.com/xmemtx/xstm-server/server/innodb/txn"
)

// engineLog tags every trace line below with the "engine" component so
// it reads apart from region/config log output sharing the same sink.
var engineLog = logger.Component("engine")

// AllocOutcome is the three-way result alloc can return; unlike every
// other operation, a failed alloc does not abort its transaction.
type AllocOutcome int

const (
	AllocSuccess AllocOutcome = iota
	AllocNoMem
	AllocAbort
)

// Engine is the transactional engine bound to a single region. One
// Engine typically exists per region for the region's lifetime.
type Engine struct {
	mu         sync.Mutex
	nextTxnID  int64
	activeTxns map[int64]*txn.Transaction

	region *region.Region
	stats  *LockStats
}

// NewEngine binds an engine to r. r must already exist (region.Create).
func NewEngine(r *region.Region) *Engine {
	return &Engine{
		activeTxns: make(map[int64]*txn.Transaction),
		region:     r,
		stats:      &LockStats{},
	}
}

// Stats exposes the engine's lock-contention counters.
func (e *Engine) Stats() LockStats { return e.stats.Snapshot() }

// Begin allocates a fresh transaction bound to the engine's region. No
// locks are acquired; it cannot fail in this implementation (no bound
// on the number of live transactions), but the return matches the
// operation's nominal {handle, error} shape so callers treat it
// uniformly with every other entry point.
func (e *Engine) Begin(readOnly bool) (*txn.Transaction, error) {
	e.mu.Lock()
	id := atomic.AddInt64(&e.nextTxnID, 1)
	t := txn.New(id, e.region, readOnly)
	e.activeTxns[id] = t
	e.mu.Unlock()

	e.region.BeginTxn()
	engineLog.Debugf("txn %d: begin (read_only=%v)", id, readOnly)
	return t, nil
}

// End commits a transaction. Read-only transactions simply release
// their shared locks. Read-write transactions delete pending frees,
// release the remaining exclusive and pending-alloc locks, and drop
// the undo log. End never aborts in this design: eager locking during
// read/write/alloc/free already resolved every conflict, so nothing is
// left to validate at commit time.
func (e *Engine) End(t *txn.Transaction) bool {
	if t.ReadOnly() {
		t.ForEachShared(func(seg *segment.Segment) { seg.ReleaseShared() })
		e.finish(t, txn.StateCommitted)
		return true
	}

	t.ForEachPendingFree(func(seg *segment.Segment) {
		seg.ReleaseExclusive()
		e.region.RemoveSegment(seg)
	})
	t.ForEachExclusive(func(seg *segment.Segment) {
		if !seg.IsTombstoned() {
			seg.ReleaseExclusive()
		}
	})
	t.ForEachPendingAlloc(func(seg *segment.Segment) {
		if !seg.IsTombstoned() {
			seg.ReleaseExclusive()
		}
	})

	t.UndoLog().Replay(func(txn.UndoLogEntry) {}) // drop without applying: committed values are canonical
	e.finish(t, txn.StateCommitted)
	engineLog.Debugf("txn %d: committed", t.ID())
	return true
}

// Read copies size bytes from source into dst, aborting the
// transaction on any of the failure conditions in the read protocol.
func (e *Engine) Read(t *txn.Transaction, source uintptr, size uint64, dst []byte) bool {
	seg, ok := e.region.Locate(source)
	if !ok {
		e.abort(t)
		return false
	}

	if !t.AlreadyHolds(seg) {
		if !seg.TryAcquireShared() {
			e.stats.recordContended()
			e.abort(t)
			return false
		}
		e.stats.recordGrantedShared()
		t.RegisterShared(seg)
	} else {
		e.stats.recordAlreadyHeld()
	}

	if seg.IsTombstoned() {
		e.abort(t)
		return false
	}

	offset := source - seg.Base()
	copy(dst, seg.Bytes()[offset:offset+uintptr(size)])
	return true
}

// Write copies size bytes from src into the segment containing target,
// first capturing a pre-image of the overwritten bytes in the
// transaction's undo log.
func (e *Engine) Write(t *txn.Transaction, src []byte, size uint64, target uintptr) bool {
	if t.ReadOnly() {
		e.abort(t)
		return false
	}

	seg, ok := e.region.Locate(target)
	if !ok {
		e.abort(t)
		return false
	}

	if !t.HeldExclusively(seg) {
		if !seg.TryAcquireExclusive() {
			e.stats.recordContended()
			e.abort(t)
			return false
		}
		e.stats.recordGrantedExclusive()
		t.RegisterExclusive(seg)
	} else {
		e.stats.recordAlreadyHeld()
	}

	if seg.IsTombstoned() {
		e.abort(t)
		return false
	}

	offset := target - seg.Base()
	previous := make([]byte, size)
	copy(previous, seg.Bytes()[offset:offset+uintptr(size)])
	t.RecordUndo(target, size, previous)

	copy(seg.Bytes()[offset:offset+uintptr(size)], src[:size])
	return true
}

// Alloc creates a new segment of size bytes, zero-initialized, and
// makes it visible in the region under a lock the allocating
// transaction already holds. Unlike every other failure path, running
// out of memory here leaves the transaction live: the caller may retry
// the allocation or commit whatever it has already done.
func (e *Engine) Alloc(t *txn.Transaction, size uint64) (uintptr, AllocOutcome) {
	if t.ReadOnly() {
		e.abort(t)
		return 0, AllocAbort
	}

	seg, err := segment.New(size, e.region.Alignment(), false)
	if err != nil {
		engineLog.Debugf("txn %d: alloc(%d) out of memory: %v", t.ID(), size, err)
		return 0, AllocNoMem
	}

	if !seg.TryAcquireExclusive() {
		// Cannot happen: nobody else holds a reference to a segment
		// that was just constructed. Treated as a hard abort rather
		// than swallowed, since it signals a broken lock invariant.
		e.abort(t)
		return 0, AllocAbort
	}
	t.RegisterAlloc(seg)
	e.region.InsertSegment(seg)

	return seg.Base(), AllocSuccess
}

// Free locates the segment whose base equals target, tombstones it and
// defers its deletion to commit. Root segments must never be passed in
// (callers' responsibility; behavior is undefined otherwise).
func (e *Engine) Free(t *txn.Transaction, target uintptr) bool {
	if t.ReadOnly() {
		e.abort(t)
		return false
	}

	seg, ok := e.region.Locate(target)
	if !ok || seg.Base() != target || seg.IsRoot() {
		e.abort(t)
		return false
	}

	// A shared-only hold must not be treated as exclusive ownership: a
	// transaction that only read a segment still has to contend for its
	// exclusive lock before it can free it, same as any other writer.
	if !t.HeldExclusively(seg) {
		if !seg.TryAcquireExclusive() {
			e.stats.recordContended()
			e.abort(t)
			return false
		}
		e.stats.recordGrantedExclusive()
		t.RegisterExclusive(seg)
	}

	seg.MarkTombstoned()
	t.RegisterFree(seg)
	return true
}

// abort runs the rollback protocol and destroys the transaction. It is
// the single path every failing operation above funnels through.
func (e *Engine) abort(t *txn.Transaction) {
	if t.ReadOnly() {
		t.ForEachShared(func(seg *segment.Segment) { seg.ReleaseShared() })
		e.finish(t, txn.StateAborted)
		return
	}

	t.UndoLog().Replay(func(entry txn.UndoLogEntry) {
		seg, ok := e.region.Locate(entry.TargetAddress)
		if !ok {
			return
		}
		before := seg.Checksum()
		offset := entry.TargetAddress - seg.Base()
		copy(seg.Bytes()[offset:offset+uintptr(entry.Size)], entry.PreviousBytes)
		engineLog.Debugf("txn %d: restored %#x..%#x (checksum %x -> %x)",
			t.ID(), entry.TargetAddress, entry.TargetAddress+uintptr(entry.Size), before, seg.Checksum())
	})

	t.ForEachPendingFree(func(seg *segment.Segment) { seg.ClearTombstone() })
	t.ForEachPendingAlloc(func(seg *segment.Segment) {
		seg.ReleaseExclusive()
		e.region.RemoveSegment(seg)
	})

	t.ForEachExclusive(func(seg *segment.Segment) {
		if !seg.IsTombstoned() {
			seg.ReleaseExclusive()
		}
	})
	t.ForEachShared(func(seg *segment.Segment) { seg.ReleaseShared() })

	e.finish(t, txn.StateAborted)
	engineLog.Debugf("txn %d: aborted", t.ID())
}

// finish marks the transaction terminal and removes it from the
// engine's active set.
func (e *Engine) finish(t *txn.Transaction, state txn.State) {
	if state == txn.StateCommitted {
		t.MarkCommitted()
	} else {
		t.MarkAborted()
	}

	e.mu.Lock()
	delete(e.activeTxns, t.ID())
	e.mu.Unlock()
	e.region.EndTxn()
}

// ActiveCount reports how many transactions are currently live against
// this engine, mainly useful for diagnostics and tests.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.activeTxns)
}
