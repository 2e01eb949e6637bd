package tstore

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/tansudb/tansu/storage/block"
)

// compactWithinPartition runs one compaction pass over the bucket array of
// a single snapshot partition: pick the fullest block below the top
// bucket, then drain the lightest blocks into it until it has no free
// slots or no donor remains. Returns false when the partition had no work.
func (tbl *Table) compactWithinPartition(part int) bool {
	bm := &tbl.buckets[part]

	// The top bucket holds full and nearly full blocks; none of them is
	// picked as the target.
	var fullest *block.Block
	for ii := block.NumBuckets - 2; ii >= 0; ii-- {
		if tb := bm[ii].First(); tb != nil {
			fullest = tb
			break
		}
	}
	if fullest == nil {
		return false
	}

	hadWork := false
	fullestChange := block.NoBucket
	for fullest.HasFreeSlots() {
		// Blocks in the top bucket are ineligible donors; without that, two
		// partially compacted blocks can trade the same tuples forever.
		var lightest *block.Block
		for ii := 0; ii < block.NumBuckets-1; ii++ {
			if tb := bm[ii].FirstOther(fullest); tb != nil {
				lightest = tb
				break
			}
		}
		if lightest == nil {
			break
		}

		before := lightest.ActiveCount()
		dstChange, srcChange := fullest.MergeFrom(lightest,
			func(srcOff, dstOff int) {
				from := Ref{tb: lightest, off: srcOff}
				to := Ref{tb: fullest, off: dstOff}
				for _, obs := range tbl.observers {
					obs.Relocate(from, to)
				}
			})
		if dstChange != block.NoBucket {
			fullestChange = dstChange
		}

		if lightest.IsEmpty() {
			tbl.releaseBlock(lightest)
			hadWork = true
		} else {
			if srcChange != block.NoBucket {
				tbl.rebucket(lightest, srcChange)
			}
			if before == lightest.ActiveCount() {
				// The donor's remaining tuples sit above its last
				// compaction offset; nothing else in this partition can
				// donate either, or it would be the lightest.
				break
			}
			hadWork = true
		}
	}

	if fullestChange != block.NoBucket {
		tbl.rebucket(fullest, fullestChange)
	}
	if !fullest.HasFreeSlots() {
		tbl.blocksWithSpace.Remove(fullest)
	}
	return hadWork
}

// IdleCompaction runs a single pass over each non-empty partition.
func (tbl *Table) IdleCompaction() {
	if tbl.partitions[0].Len() > 0 {
		tbl.compactWithinPartition(0)
	}
	if tbl.partitions[1].Len() > 0 {
		tbl.compactWithinPartition(1)
	}
}

// ForcedCompaction loops while the table's compaction predicate holds,
// alternating between the partitions until both report no work.
func (tbl *Table) ForcedCompaction() {
	blocksBefore := tbl.blocks.Len()

	hadWork1, hadWork2 := true, true
	for tbl.compactionPredicate(tbl) {
		work1 := tbl.partitions[0].Len() > 0 && hadWork1
		work2 := tbl.partitions[1].Len() > 0 && hadWork2
		if !work1 && !work2 {
			break
		}
		if work1 {
			hadWork1 = tbl.compactWithinPartition(0)
		}
		if work2 {
			hadWork2 = tbl.compactWithinPartition(1)
		}
	}

	if tbl.blocks.Len() > blocksBefore {
		panic(fmt.Sprintf("tstore: %s: forced compaction grew the table from %d to %d blocks",
			tbl.name, blocksBefore, tbl.blocks.Len()))
	}
	if tbl.blocks.Len() < blocksBefore {
		log.WithFields(log.Fields{
			"table":  tbl.name,
			"before": blocksBefore,
			"after":  tbl.blocks.Len(),
		}).Debug("forced compaction freed blocks")
	}
}
