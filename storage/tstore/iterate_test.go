package tstore_test

import (
	"io"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/tansudb/tansu/sql"
	"github.com/tansudb/tansu/storage/block"
	"github.com/tansudb/tansu/storage/tstore"
)

func tableRows(t *testing.T, tbl *tstore.Table) [][]sql.Value {
	t.Helper()

	var rows [][]sql.Value
	it := tbl.Iterator()
	defer it.Close()
	for {
		rf, err := it.Next()
		if err == io.EOF {
			break
		}
		rows = append(rows, tbl.Tuple(rf).Row(tbl.Pool()))
	}
	return rows
}

func rowIDs(rows [][]sql.Value) map[int64]int {
	ids := map[int64]int{}
	for _, row := range rows {
		ids[int64(row[0].(sql.Int64Value))]++
	}
	return ids
}

func TestIteration(t *testing.T) {
	tbl := makeTable(t, 4, nil)
	defer tbl.Close()

	for ii := int64(0); ii < 11; ii++ {
		insertRow(t, tbl, ii)
	}

	rows := tableRows(t, tbl)
	if int64(len(rows)) != tbl.TupleCount() {
		t.Fatalf("iteration yielded %d rows; TupleCount() is %d", len(rows), tbl.TupleCount())
	}

	// Block insertion order, then slot offset order.
	for ii, row := range rows {
		if sql.Compare(row[0], sql.Int64Value(ii)) != 0 {
			t.Errorf("row %d got id %s want %d", ii, sql.Format(row[0]), ii)
		}
	}
	tbl.CheckInvariants()
}

func TestIteratorPinsBlock(t *testing.T) {
	tbl := makeTable(t, 4, nil)
	defer tbl.Close()

	for ii := int64(0); ii < 5; ii++ {
		insertRow(t, tbl, ii)
	}

	it := tbl.Iterator()
	rf, err := it.Next()
	if err != nil {
		t.Fatalf("Next() failed with %s", err)
	}

	pinned := rf.Block()
	if pinned.State() != block.PinnedBySnapshot {
		t.Errorf("current block in state %s want pinned", pinned.State())
	}
	if pinned.Bucket() != block.NoBucket {
		t.Errorf("pinned block in bucket %d", pinned.Bucket())
	}
	tbl.CheckInvariants()

	// Deleting from the pinned block must not rebucket it; the iterator
	// restores membership on release.
	tbl.DeleteTuple(rf)
	tbl.CheckInvariants()
	if pinned.State() != block.PinnedBySnapshot {
		t.Errorf("pinned block in state %s after delete", pinned.State())
	}

	var count int
	for {
		_, err = it.Next()
		if err == io.EOF {
			break
		}
		count++
	}
	it.Close()

	if count != 4 {
		t.Errorf("iterator yielded %d more tuples want 4", count)
	}
	if pinned.State() != block.NotPendingSnapshot {
		t.Errorf("block in state %s after release", pinned.State())
	}
	if pinned.Bucket() != pinned.CurrentBucketIndex() {
		t.Errorf("block in bucket %d want %d", pinned.Bucket(), pinned.CurrentBucketIndex())
	}
	tbl.CheckInvariants()
}

func TestIteratorWithInserts(t *testing.T) {
	tbl := makeTable(t, 4, nil)
	defer tbl.Close()

	for ii := int64(0); ii < 8; ii++ {
		insertRow(t, tbl, ii)
	}

	// Tuples active at construction are yielded exactly once; tuples
	// inserted afterwards may appear at most once.
	it := tbl.Iterator()
	seen := map[int64]int{}
	var steps int64
	for {
		rf, err := it.Next()
		if err == io.EOF {
			break
		}
		seen[int64(tbl.Tuple(rf).Value(tbl.Pool(), 0).(sql.Int64Value))]++

		insertRow(t, tbl, 100+steps)
		steps++
	}
	it.Close()
	tbl.CheckInvariants()

	for ii := int64(0); ii < 8; ii++ {
		if seen[ii] != 1 {
			t.Errorf("tuple %d yielded %d times want 1", ii, seen[ii])
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("tuple %d yielded %d times", id, n)
		}
	}
}

func TestIteratorCompactionPin(t *testing.T) {
	to := &testObserver{}
	tbl := makeTable(t, 4, &tstore.Options{Observers: []tstore.Observer{to}})
	defer tbl.Close()

	refs := make([]tstore.Ref, 0, 8)
	for ii := int64(0); ii < 8; ii++ {
		refs = append(refs, insertRow(t, tbl, ii))
	}
	tb0 := refs[0].Block()

	// Sparse first block, then pin it with an iterator.
	for ii := 1; ii < 4; ii++ {
		tbl.DeleteTuple(refs[ii])
	}
	it := tbl.Iterator()
	rf, err := it.Next()
	if err != nil || rf.Block() != tb0 {
		t.Fatalf("Next() got %s, %v; want a tuple in the first block", rf, err)
	}

	tbl.IdleCompaction()
	tbl.CheckInvariants()
	for _, mv := range to.relocates {
		if mv[0].Block() == tb0 || mv[1].Block() == tb0 {
			t.Errorf("compaction touched the pinned block: %s -> %s", mv[0], mv[1])
		}
	}
	if tb0.ActiveCount() != 1 {
		t.Errorf("pinned block got %d active want 1", tb0.ActiveCount())
	}

	seen := rowIDs(tableRowsFrom(t, tbl, it))
	if seen[0] != 1 {
		t.Errorf("tuple 0 yielded %d times want 1", seen[0])
	}
	it.Close()
	tbl.CheckInvariants()
}

func tableRowsFrom(t *testing.T, tbl *tstore.Table, it *tstore.Iterator) [][]sql.Value {
	t.Helper()

	rows := [][]sql.Value{{sql.Int64Value(0), nil}} // the tuple already visited
	for {
		rf, err := it.Next()
		if err == io.EOF {
			break
		}
		rows = append(rows, tbl.Tuple(rf).Row(tbl.Pool()))
	}
	return rows
}

func TestIteratorRelease(t *testing.T) {
	to := &testObserver{}
	tbl := makeTable(t, 8,
		&tstore.Options{
			Observers: []tstore.Observer{to},
			CompactionPredicate: func(tbl *tstore.Table) bool {
				return tbl.AllocatedTupleCount() > tbl.TupleCount()
			},
		})
	defer tbl.Close()

	refs := make([]tstore.Ref, 0, 16)
	for ii := int64(0); ii < 16; ii++ {
		refs = append(refs, insertRow(t, tbl, ii))
	}
	tb0 := refs[0].Block()

	// The first block becomes the sparse donor; the second keeps one free
	// slot so it is the merge target.
	tbl.DeleteTuple(refs[9])
	for ii := 0; ii < 4; ii++ {
		tbl.DeleteTuple(refs[ii])
	}

	it := tbl.Iterator()
	for ii := 0; ii < 2; ii++ {
		_, err := it.Next()
		if err != nil {
			t.Fatalf("Next() failed with %s", err)
		}
	}

	// Offsets 0..5 were examined (4 inactive, 2 yielded); only they may be
	// relocated after an early release.
	it.Release()
	tbl.CheckInvariants()
	if tb0.State() != block.NotPendingSnapshot {
		t.Fatalf("released block in state %s", tb0.State())
	}
	if tb0.LastCompactionOffset() != 6 {
		t.Fatalf("LastCompactionOffset() got %d want 6", tb0.LastCompactionOffset())
	}

	tbl.ForcedCompaction()
	tbl.CheckInvariants()
	if len(to.relocates) == 0 {
		t.Error("forced compaction moved nothing")
	}
	for _, mv := range to.relocates {
		if mv[0].Block() != tb0 {
			t.Errorf("relocation from unexpected block: %s -> %s", mv[0], mv[1])
		}
		if mv[0].Offset() >= 6 {
			t.Errorf("compaction moved unvisited tuple %s", mv[0])
		}
	}

	it.Close()
	tbl.CheckInvariants()
	for _, tb := range tbl.Blocks() {
		if tb == tb0 && tb.LastCompactionOffset() != tb.Capacity() {
			t.Errorf("Close() left LastCompactionOffset() at %d", tb.LastCompactionOffset())
		}
	}
}

func TestIteratorSkipsRemovedBlocks(t *testing.T) {
	tbl := makeTable(t, 4, nil)
	defer tbl.Close()

	refs := make([]tstore.Ref, 0, 8)
	for ii := int64(0); ii < 8; ii++ {
		refs = append(refs, insertRow(t, tbl, ii))
	}

	it := tbl.Iterator()

	// Empty the second block before the iterator reaches it.
	for ii := 4; ii < 8; ii++ {
		tbl.DeleteTuple(refs[ii])
	}
	tbl.CheckInvariants()

	seen := rowIDs(tableRowsAll(t, tbl, it))
	it.Close()
	for ii := int64(0); ii < 4; ii++ {
		if seen[ii] != 1 {
			t.Errorf("tuple %d yielded %d times want 1", ii, seen[ii])
		}
	}
	if len(seen) != 4 {
		t.Errorf("iterator yielded %d distinct tuples want 4", len(seen))
	}
}

func tableRowsAll(t *testing.T, tbl *tstore.Table, it *tstore.Iterator) [][]sql.Value {
	t.Helper()

	var rows [][]sql.Value
	for {
		rf, err := it.Next()
		if err == io.EOF {
			break
		}
		rows = append(rows, tbl.Tuple(rf).Row(tbl.Pool()))
	}
	return rows
}

func TestParallelTables(t *testing.T) {
	// The core is single writer per table; parallelism across distinct
	// tables must be safe.
	var group errgroup.Group
	for n := 0; n < 4; n++ {
		n := n
		group.Go(func() error {
			tbl := makeTable(t, 8, nil)
			defer tbl.Close()

			refs := make([]tstore.Ref, 0, 256)
			for ii := int64(0); ii < 256; ii++ {
				rf, err := tbl.InsertTuple([]sql.Value{sql.Int64Value(int64(n)*1000 + ii), nil})
				if err != nil {
					return err
				}
				refs = append(refs, rf)
			}
			for ii := 0; ii < 256; ii += 2 {
				tbl.DeleteTuple(refs[ii])
			}
			tbl.ForcedCompaction()
			tbl.CheckInvariants()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		t.Fatal(err)
	}
}
