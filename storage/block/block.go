// Package block implements fixed capacity blocks of tuple slots and the
// density bucketed ordered sets used to pick compaction candidates.
package block

import (
	"fmt"

	"github.com/tansudb/tansu/storage/tuple"
)

// NumBuckets is the number of density buckets per snapshot partition.
// Bucket NumBuckets-1 holds fully packed blocks and, for capacities above
// NumBuckets, blocks within one bucket width of full; bucket 0 the
// emptiest.
const NumBuckets = 20

// NoBucket marks a block that is not in any bucket.
const NoBucket = -1

// PartitionState tags which snapshot partition a block belongs to, or that
// it is pinned by a snapshot iterator and temporarily belongs to neither.
type PartitionState int8

const (
	NotPendingSnapshot PartitionState = iota
	PendingSnapshot
	PinnedBySnapshot
)

func (ps PartitionState) String() string {
	switch ps {
	case NotPendingSnapshot:
		return "not-pending-snapshot"
	case PendingSnapshot:
		return "pending-snapshot"
	case PinnedBySnapshot:
		return "pinned"
	}

	return fmt.Sprintf("unknown(%d)", int8(ps))
}

// Block is a contiguous region holding a uniform number of tuple slots.
// Its id is assigned once at allocation and orders blocks everywhere.
type Block struct {
	id          int64
	data        []byte
	tupleLength int
	capacity    int

	activeCount      int
	freeList         []int
	nextUnusedOffset int

	// Compaction may drain only slot offsets below this when this block is
	// a merge source; capacity means unrestricted.
	lastCompactionOffset int

	state  PartitionState
	bucket int
}

func New(id int64, data []byte, tupleLength int) *Block {
	if tupleLength < tuple.HeaderSize {
		panic(fmt.Sprintf("block: tuple length too small: %d", tupleLength))
	}
	capacity := len(data) / tupleLength
	if capacity < 1 {
		panic(fmt.Sprintf("block: %d bytes can not hold a %d byte tuple", len(data), tupleLength))
	}

	return &Block{
		id:                   id,
		data:                 data,
		tupleLength:          tupleLength,
		capacity:             capacity,
		lastCompactionOffset: capacity,
		state:                NotPendingSnapshot,
		bucket:               NoBucket,
	}
}

func (tb *Block) ID() int64 {
	return tb.id
}

func (tb *Block) Data() []byte {
	return tb.data
}

func (tb *Block) Capacity() int {
	return tb.capacity
}

func (tb *Block) ActiveCount() int {
	return tb.activeCount
}

func (tb *Block) HasFreeSlots() bool {
	return len(tb.freeList) > 0 || tb.nextUnusedOffset < tb.capacity
}

func (tb *Block) IsEmpty() bool {
	return tb.activeCount == 0
}

// Slot returns the raw bytes of the slot at the given offset.
func (tb *Block) Slot(off int) []byte {
	if off < 0 || off >= tb.capacity {
		panic(fmt.Sprintf("block: %d: slot offset out of range: %d", tb.id, off))
	}
	pos := off * tb.tupleLength
	return tb.data[pos : pos+tb.tupleLength]
}

// SlotActive reports whether the slot at off holds an active tuple.
func (tb *Block) SlotActive(off int) bool {
	return tuple.SlotActive(tb.Slot(off))
}

// ScannedOffsets is one past the highest offset ever handed out; offsets at
// or beyond it have never held a tuple.
func (tb *Block) ScannedOffsets() int {
	return tb.nextUnusedOffset
}

func (tb *Block) LastCompactionOffset() int {
	return tb.lastCompactionOffset
}

func (tb *Block) SetLastCompactionOffset(off int) {
	tb.lastCompactionOffset = off
}

func (tb *Block) State() PartitionState {
	return tb.state
}

func (tb *Block) SetState(ps PartitionState) {
	tb.state = ps
}

// Bucket is the index of the density bucket currently holding this block,
// or NoBucket.
func (tb *Block) Bucket() int {
	return tb.bucket
}

func (tb *Block) SetBucket(b int) {
	tb.bucket = b
}

// BucketIndex quantizes a fill level into a bucket index.
func BucketIndex(active, capacity int) int {
	b := active * NumBuckets / capacity
	if b >= NumBuckets {
		b = NumBuckets - 1
	}
	return b
}

// CurrentBucketIndex is the bucket this block belongs in given its fill.
func (tb *Block) CurrentBucketIndex() int {
	return BucketIndex(tb.activeCount, tb.capacity)
}

// NextFreeSlot hands out a free slot offset, preferring reclaimed slots
// over never used ones. It returns the new bucket index when the active
// count change crosses a bucket boundary, else NoBucket.
func (tb *Block) NextFreeSlot() (int, int) {
	var off int
	if n := len(tb.freeList); n > 0 {
		off = tb.freeList[n-1]
		tb.freeList = tb.freeList[:n-1]
	} else {
		if tb.nextUnusedOffset >= tb.capacity {
			panic(fmt.Sprintf("block: %d: next free slot of full block", tb.id))
		}
		off = tb.nextUnusedOffset
		tb.nextUnusedOffset++
	}

	before := tb.CurrentBucketIndex()
	tb.activeCount++
	after := tb.CurrentBucketIndex()
	if before == after {
		return off, NoBucket
	}
	return off, after
}

// FreeSlot reclaims the slot at off, clearing its status byte. It returns
// the new bucket index when the active count change crosses a bucket
// boundary, else NoBucket.
func (tb *Block) FreeSlot(off int) int {
	if tb.activeCount < 1 {
		panic(fmt.Sprintf("block: %d: free slot of empty block", tb.id))
	}

	tb.Slot(off)[0] = 0
	tb.freeList = append(tb.freeList, off)

	before := tb.CurrentBucketIndex()
	tb.activeCount--
	after := tb.CurrentBucketIndex()
	if before == after {
		return NoBucket
	}
	return after
}

// MergeFrom copies active tuples out of src into free slots of tb, calling
// moved for each copy, until tb has no free slots or src is drained. Only
// source offsets below src's last compaction offset are eligible. It
// returns the new bucket indexes of tb and src, or NoBucket where the fill
// change did not cross a bucket boundary.
func (tb *Block) MergeFrom(src *Block, moved func(srcOff, dstOff int)) (int, int) {
	if src == tb {
		panic(fmt.Sprintf("block: %d: merge with itself", tb.id))
	}
	if src.tupleLength != tb.tupleLength {
		panic(fmt.Sprintf("block: merge of blocks with tuple lengths %d and %d", src.tupleLength,
			tb.tupleLength))
	}

	dstBefore := tb.CurrentBucketIndex()
	srcBefore := src.CurrentBucketIndex()

	limit := src.nextUnusedOffset
	if src.lastCompactionOffset < limit {
		limit = src.lastCompactionOffset
	}

	for srcOff := 0; srcOff < limit; srcOff++ {
		if !src.SlotActive(srcOff) {
			continue
		}
		if !tb.HasFreeSlots() {
			break
		}

		dstOff, _ := tb.NextFreeSlot()
		copy(tb.Slot(dstOff), src.Slot(srcOff))

		// Zero the drained slot; stale pool handles must not survive into
		// its next tenant.
		slot := src.Slot(srcOff)
		for ii := range slot {
			slot[ii] = 0
		}
		src.freeList = append(src.freeList, srcOff)
		src.activeCount--

		if moved != nil {
			moved(srcOff, dstOff)
		}
	}

	dstBucket, srcBucket := NoBucket, NoBucket
	if b := tb.CurrentBucketIndex(); b != dstBefore {
		dstBucket = b
	}
	if b := src.CurrentBucketIndex(); b != srcBefore {
		srcBucket = b
	}
	return dstBucket, srcBucket
}

// NextHigherPowerOfTwo rounds n up to a power of two.
func NextHigherPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
