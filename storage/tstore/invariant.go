package tstore

import (
	"fmt"

	"github.com/tansudb/tansu/storage/block"
)

// CheckInvariants walks every block and panics with context on the first
// structural invariant that does not hold. It is meant for tests and for
// debugging sessions; it is not called on any hot path.
func (tbl *Table) CheckInvariants() {
	var active, capacity int64

	tbl.blocks.Ascend(
		func(tb *block.Block) bool {
			active += int64(tb.ActiveCount())
			capacity += int64(tb.Capacity())

			pinned := tb.State() == block.PinnedBySnapshot
			if tb.IsEmpty() && !pinned {
				panic(fmt.Sprintf("tstore: %s: empty block %d not pinned", tbl.name, tb.ID()))
			}

			if pinned {
				if tb.Bucket() != block.NoBucket {
					panic(fmt.Sprintf("tstore: %s: pinned block %d in bucket %d", tbl.name,
						tb.ID(), tb.Bucket()))
				}
				if tbl.partitions[0].Contains(tb) || tbl.partitions[1].Contains(tb) {
					panic(fmt.Sprintf("tstore: %s: pinned block %d in a partition", tbl.name,
						tb.ID()))
				}
				if tbl.blocksWithSpace.Contains(tb) {
					panic(fmt.Sprintf("tstore: %s: pinned block %d in blocks with space",
						tbl.name, tb.ID()))
				}
				return true
			}

			part := partIndex(tb.State())
			if !tbl.partitions[part].Contains(tb) {
				panic(fmt.Sprintf("tstore: %s: block %d not in partition %d", tbl.name, tb.ID(),
					part))
			}
			if tbl.partitions[1-part].Contains(tb) {
				panic(fmt.Sprintf("tstore: %s: block %d in both partitions", tbl.name, tb.ID()))
			}

			want := tb.CurrentBucketIndex()
			if tb.Bucket() != want {
				panic(fmt.Sprintf("tstore: %s: block %d with %d/%d active in bucket %d want %d",
					tbl.name, tb.ID(), tb.ActiveCount(), tb.Capacity(), tb.Bucket(), want))
			}
			if !tbl.buckets[part][want].Contains(tb) {
				panic(fmt.Sprintf("tstore: %s: block %d missing from bucket %d of partition %d",
					tbl.name, tb.ID(), want, part))
			}

			if tb.HasFreeSlots() != tbl.blocksWithSpace.Contains(tb) {
				panic(fmt.Sprintf(
					"tstore: %s: block %d free slots %t but blocks with space %t", tbl.name,
					tb.ID(), tb.HasFreeSlots(), tbl.blocksWithSpace.Contains(tb)))
			}
			return true
		})

	if active != tbl.tupleCount {
		panic(fmt.Sprintf("tstore: %s: %d active tuples in blocks but tuple count %d", tbl.name,
			active, tbl.tupleCount))
	}
	if capacity != tbl.allocatedCount {
		panic(fmt.Sprintf("tstore: %s: %d slots in blocks but allocated count %d", tbl.name,
			capacity, tbl.allocatedCount))
	}

	for part := 0; part < 2; part++ {
		for ii := 0; ii < block.NumBuckets; ii++ {
			tbl.buckets[part][ii].Ascend(
				func(tb *block.Block) bool {
					if !tbl.blocks.Contains(tb) {
						panic(fmt.Sprintf("tstore: %s: bucket %d of partition %d holds removed "+
							"block %d", tbl.name, ii, part, tb.ID()))
					}
					return true
				})
		}
	}
}
