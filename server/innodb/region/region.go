// Package region implements the shared memory region: the collection of
// segments a transaction operates against, plus the structural index
// that maps an address to the segment containing it.
//
// Per the concurrency model, the index is guarded by its own short-held
// mutex and that mutex is never held across a segment-lock acquisition
// — it protects the container, not the content. Segment bases never
// move once allocated, so an ordered index keyed by base address turns
// locate from the naive linear scan into an O(log n) descent; this is
// the interval-structure substitution the design explicitly allows.
package region

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/juju/errors"

	"github.com/xmemtx/xstm-server/server/common"
	"github.com/xmemtx/xstm-server/server/innodb/segment"
)

const btreeDegree = 32

// segmentItem is the btree.Item stored in the region's index. Ordering
// is by base address only; the index never needs to compare two
// segments' sizes or contents.
type segmentItem struct {
	base uintptr
	seg  *segment.Segment
}

func (s segmentItem) Less(than btree.Item) bool {
	return s.base < than.(segmentItem).base
}

// Region is the collection of segments sharing one alignment, plus the
// identity of the root segment created alongside it.
type Region struct {
	indexMu sync.Mutex
	index   *btree.BTree

	alignment uint64
	root      *segment.Segment

	activeTxns int64 // atomic; Destroy refuses while non-zero
}

// Create allocates a region with one root segment of size bytes,
// zero-initialized and aligned to alignment. Both size and alignment
// must be positive and alignment must be a power of two.
func Create(size, alignment uint64) (*Region, error) {
	root, err := segment.New(size, alignment, true)
	if err != nil {
		return nil, errors.Annotate(err, "region.Create")
	}

	r := &Region{
		index:     btree.New(btreeDegree),
		alignment: alignment,
		root:      root,
	}
	r.index.ReplaceOrInsert(segmentItem{base: root.Base(), seg: root})
	return r, nil
}

// Destroy releases every live segment (root included) and the region
// itself. The precondition is that no transaction is currently
// executing against the region; violating it is reported rather than
// silently corrupting state, which the active-transaction counter makes
// essentially free to check.
func (r *Region) Destroy() error {
	if atomic.LoadInt64(&r.activeTxns) != 0 {
		return errors.Annotate(common.ErrRegionBusy, "region.Destroy")
	}

	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	r.index.Ascend(func(item btree.Item) bool {
		item.(segmentItem).seg.Destroy()
		return true
	})
	r.index = btree.New(btreeDegree)
	r.root = nil
	return nil
}

// Start returns the root segment's base address.
func (r *Region) Start() uintptr { return r.root.Base() }

// Size returns the root segment's size in bytes.
func (r *Region) Size() uint64 { return r.root.Size() }

// Alignment returns the region's byte alignment.
func (r *Region) Alignment() uint64 { return r.alignment }

// Locate returns the segment whose [base, base+size) range contains
// address, if any.
func (r *Region) Locate(address uintptr) (*segment.Segment, bool) {
	r.indexMu.Lock()
	pivot := segmentItem{base: address}
	var candidate *segment.Segment
	r.index.DescendLessOrEqual(pivot, func(item btree.Item) bool {
		candidate = item.(segmentItem).seg
		return false
	})
	r.indexMu.Unlock()

	if candidate == nil || !candidate.Contains(address) {
		return nil, false
	}
	return candidate, true
}

// InsertSegment makes a newly allocated segment visible to future
// Locate calls. Used by alloc once the segment's lock is held so no
// other transaction observes it before the allocating transaction
// decides to commit or abort.
func (r *Region) InsertSegment(seg *segment.Segment) {
	r.indexMu.Lock()
	r.index.ReplaceOrInsert(segmentItem{base: seg.Base(), seg: seg})
	r.indexMu.Unlock()
}

// RemoveSegment drops a segment from the index and destroys its buffer.
// Used both by commit (pending frees) and by abort (pending allocs).
func (r *Region) RemoveSegment(seg *segment.Segment) {
	r.indexMu.Lock()
	r.index.Delete(segmentItem{base: seg.Base()})
	r.indexMu.Unlock()
	seg.Destroy()
}

// BeginTxn and EndTxn bracket a transaction's lifetime against this
// region so Destroy can refuse to run concurrently with one.
func (r *Region) BeginTxn() { atomic.AddInt64(&r.activeTxns, 1) }
func (r *Region) EndTxn()   { atomic.AddInt64(&r.activeTxns, -1) }
