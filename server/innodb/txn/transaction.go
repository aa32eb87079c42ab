// Package txn is the per-transaction bookkeeping described in §4.3:
// a state container, nothing more. Every method here is a plain
// accessor or registration call; the concurrency and rollback protocol
// that decides *when* to call them lives one layer up, in the engine.
//
// A Transaction is owned by exactly one goroutine for its whole
// lifetime (begin through end/abort) and is never touched by another,
// so none of its fields need their own synchronization.
package txn

import (
	"github.com/dolthub/swiss"

	"github.com/xmemtx/xstm-server/server/innodb/region"
	"github.com/xmemtx/xstm-server/server/innodb/segment"
)

// State is the transaction's position in its two-way terminal state
// machine: active, then exactly one of committed or aborted.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

const defaultSetCapacity = 8

// Transaction holds everything the engine needs to isolate one
// transaction's effects from every other: which segment locks it
// holds and in what mode, the undo log that can unwind its writes,
// and the sets of segments whose existence is contingent on how this
// transaction ends.
type Transaction struct {
	id       int64
	region   *region.Region
	readOnly bool
	state    State

	undo UndoLog

	heldExclusive *swiss.Map[*segment.Segment, struct{}]
	heldShared    *swiss.Map[*segment.Segment, struct{}]
	pendingAllocs *swiss.Map[*segment.Segment, struct{}]
	pendingFrees  *swiss.Map[*segment.Segment, struct{}]
}

// New creates a fresh, active transaction bound to r. No locks are
// held yet; begin never touches the region's segments.
func New(id int64, r *region.Region, readOnly bool) *Transaction {
	return &Transaction{
		id:       id,
		region:   r,
		readOnly: readOnly,
		state:    StateActive,

		heldExclusive: swiss.NewMap[*segment.Segment, struct{}](defaultSetCapacity),
		heldShared:    swiss.NewMap[*segment.Segment, struct{}](defaultSetCapacity),
		pendingAllocs: swiss.NewMap[*segment.Segment, struct{}](defaultSetCapacity),
		pendingFrees:  swiss.NewMap[*segment.Segment, struct{}](defaultSetCapacity),
	}
}

func (t *Transaction) ID() int64              { return t.id }
func (t *Transaction) Region() *region.Region { return t.region }
func (t *Transaction) ReadOnly() bool         { return t.readOnly }
func (t *Transaction) State() State           { return t.state }

func (t *Transaction) MarkCommitted() { t.state = StateCommitted }
func (t *Transaction) MarkAborted()   { t.state = StateAborted }

// RecordUndo adds a pre-image record at the front of the log (see UndoLog).
func (t *Transaction) RecordUndo(target uintptr, size uint64, previousBytes []byte) {
	t.undo.Prepend(UndoLogEntry{TargetAddress: target, Size: size, PreviousBytes: previousBytes})
}

// UndoLog exposes the transaction's undo log for replay during rollback.
func (t *Transaction) UndoLog() *UndoLog { return &t.undo }

func (t *Transaction) RegisterShared(seg *segment.Segment)    { t.heldShared.Put(seg, struct{}{}) }
func (t *Transaction) RegisterExclusive(seg *segment.Segment) { t.heldExclusive.Put(seg, struct{}{}) }
func (t *Transaction) RegisterAlloc(seg *segment.Segment)     { t.pendingAllocs.Put(seg, struct{}{}) }
func (t *Transaction) RegisterFree(seg *segment.Segment)      { t.pendingFrees.Put(seg, struct{}{}) }

// AlreadyHolds reports whether this transaction already owns seg's
// lock, in any of the ways that count as owning it: an exclusive hold,
// a shared hold, or having allocated it (whose lock nobody else can
// even attempt to acquire). Read consults this before issuing a
// try-acquire, which is how the engine avoids a transaction
// self-deadlocking by trying to lock a segment it has already locked;
// write and free consult HeldExclusively instead.
func (t *Transaction) AlreadyHolds(seg *segment.Segment) bool {
	return t.heldExclusive.Has(seg) || t.heldShared.Has(seg) || t.pendingAllocs.Has(seg)
}

// HeldExclusively reports whether seg is held by this transaction in a
// mode that already amounts to an exclusive hold — either registered
// in held_exclusive directly, or still sitting in pending_allocs (the
// lock acquired by this transaction's own alloc, which is exclusive in
// every sense except which set it was filed under; see the design note
// on pending-alloc bookkeeping). A shared-only hold is deliberately not
// included: write and free must not silently treat a reader's lock as
// a writer's lock (lock strength is never promoted in place).
func (t *Transaction) HeldExclusively(seg *segment.Segment) bool {
	return t.heldExclusive.Has(seg) || t.pendingAllocs.Has(seg)
}

func (t *Transaction) ForEachExclusive(fn func(*segment.Segment)) {
	t.heldExclusive.Iter(func(seg *segment.Segment, _ struct{}) bool {
		fn(seg)
		return false
	})
}

func (t *Transaction) ForEachShared(fn func(*segment.Segment)) {
	t.heldShared.Iter(func(seg *segment.Segment, _ struct{}) bool {
		fn(seg)
		return false
	})
}

func (t *Transaction) ForEachPendingAlloc(fn func(*segment.Segment)) {
	t.pendingAllocs.Iter(func(seg *segment.Segment, _ struct{}) bool {
		fn(seg)
		return false
	})
}

func (t *Transaction) ForEachPendingFree(fn func(*segment.Segment)) {
	t.pendingFrees.Iter(func(seg *segment.Segment, _ struct{}) bool {
		fn(seg)
		return false
	})
}
