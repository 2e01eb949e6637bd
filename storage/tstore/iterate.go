package tstore

import (
	"fmt"
	"io"

	"github.com/tansudb/tansu/storage/block"
)

// Iterator walks the active slots of every block the table held at
// construction time, in block id then slot offset order. The block being
// walked is pinned: removed from its partition, bucket, and the blocks
// with space set, so compaction cannot move or free its tuples. Writers
// may keep inserting into other blocks; the pinned block is not handed
// out for inserts until it is released. Tuples inserted after
// construction may or may not be yielded.
type Iterator struct {
	tbl    *Table
	blocks []*block.Block
	idx    int
	off    int

	cur       *block.Block
	curState  block.PartitionState
	releaseTo block.PartitionState
	restore   bool

	// Blocks released early keep a compaction restriction until Close.
	restricted []*block.Block
}

// Iterator returns an iterator that restores each block to the partition
// it was pinned from.
func (tbl *Table) Iterator() *Iterator {
	return &Iterator{
		tbl:     tbl,
		blocks:  tbl.blocks.Blocks(),
		restore: true,
	}
}

// SnapshotIterator returns an iterator that marks each block not pending
// snapshot as it finishes with it, regardless of the partition the block
// was pinned from. Used to stream an activated snapshot.
func (tbl *Table) SnapshotIterator() *Iterator {
	return &Iterator{
		tbl:       tbl,
		blocks:    tbl.blocks.Blocks(),
		releaseTo: block.NotPendingSnapshot,
	}
}

func (it *Iterator) leaveBlock() {
	if it.cur == nil {
		return
	}

	to := it.releaseTo
	if it.restore {
		to = it.curState
	}
	it.tbl.unpinBlock(it.cur, to)
	it.cur = nil
}

// Next returns the Ref of the next active tuple, or io.EOF.
func (it *Iterator) Next() (Ref, error) {
	for {
		if it.cur == nil {
			if it.idx >= len(it.blocks) {
				return Ref{}, io.EOF
			}

			tb := it.blocks[it.idx]
			if !it.tbl.blocks.Contains(tb) {
				// Compacted away before we reached it.
				it.idx++
				continue
			}
			it.curState = it.tbl.pinBlock(tb)
			it.cur = tb
			it.off = 0
		}

		for it.off < it.cur.ScannedOffsets() {
			off := it.off
			it.off++
			if it.cur.SlotActive(off) {
				return Ref{tb: it.cur, off: off}, nil
			}
		}

		it.leaveBlock()
		it.idx++
	}
}

// Release drops the pin on the current block without finishing it; the
// iterator moves on to the next block. The released block returns to
// circulation with its last compaction offset set to the iterator's
// cursor, so compaction only relocates tuples the iterator has already
// visited. The restriction is lifted when the iterator is closed.
func (it *Iterator) Release() {
	if it.cur == nil {
		panic(fmt.Sprintf("tstore: %s: release with no pinned block", it.tbl.name))
	}

	tb := it.cur
	cursor := it.off
	it.leaveBlock()
	it.idx++
	if it.tbl.blocks.Contains(tb) {
		tb.SetLastCompactionOffset(cursor)
		it.restricted = append(it.restricted, tb)
	}
}

// Close releases any pinned block, ends the iteration, and lifts the
// compaction restrictions left by early releases. Closing an already
// closed iterator is harmless.
func (it *Iterator) Close() {
	it.leaveBlock()
	it.idx = len(it.blocks)

	for _, tb := range it.restricted {
		if it.tbl.blocks.Contains(tb) {
			tb.SetLastCompactionOffset(tb.Capacity())
		}
	}
	it.restricted = nil
}
