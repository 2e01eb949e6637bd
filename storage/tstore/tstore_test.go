package tstore_test

import (
	"math/rand"
	"testing"

	"github.com/tansudb/tansu/sql"
	"github.com/tansudb/tansu/storage/block"
	"github.com/tansudb/tansu/storage/tstore"
	"github.com/tansudb/tansu/storage/tuple"
)

type testObserver struct {
	relocates [][2]tstore.Ref
	removed   []int64
	loaded    int
}

func (to *testObserver) Relocate(old, new tstore.Ref) {
	to.relocates = append(to.relocates, [2]tstore.Ref{old, new})
}

func (to *testObserver) BlockRemoved(tb *block.Block) {
	to.removed = append(to.removed, tb.ID())
}

func (to *testObserver) LoadedTuple(allowExport bool, rf tstore.Ref) {
	to.loaded++
}

func (to *testObserver) Equal(other tstore.Observer) bool {
	_, ok := other.(*testObserver)
	return ok
}

func (to *testObserver) reset() {
	to.relocates = nil
	to.removed = nil
	to.loaded = 0
}

var (
	testColTypes = []sql.ColumnType{sql.Int64ColType, sql.NullStringColType}
	testColNames = []string{"id", "name"}
)

func makeTable(t *testing.T, tuplesPerBlock int, opts *tstore.Options) *tstore.Table {
	t.Helper()

	ts := tuple.NewSchema(testColTypes)
	tbl := tstore.NewTable("test_table", ts.TupleLength()*tuplesPerBlock, opts)
	tbl.Initialize(ts, testColNames, true)
	if tbl.TuplesPerBlock() != tuplesPerBlock {
		t.Fatalf("TuplesPerBlock() got %d want %d", tbl.TuplesPerBlock(), tuplesPerBlock)
	}
	return tbl
}

func insertRow(t *testing.T, tbl *tstore.Table, id int64) tstore.Ref {
	t.Helper()

	rf, err := tbl.InsertTuple([]sql.Value{sql.Int64Value(id), sql.StringValue("name")})
	if err != nil {
		t.Fatalf("InsertTuple(%d) failed with %s", id, err)
	}
	tbl.CheckInvariants()
	return rf
}

func TestDensityBucketing(t *testing.T) {
	tbl := makeTable(t, 4, nil)
	defer tbl.Close()

	refs := make([]tstore.Ref, 0, 5)
	for ii := int64(0); ii < 5; ii++ {
		refs = append(refs, insertRow(t, tbl, ii))
	}

	if tbl.BlockCount() != 2 {
		t.Fatalf("BlockCount() got %d want 2", tbl.BlockCount())
	}
	if tbl.TupleCount() != 5 {
		t.Errorf("TupleCount() got %d want 5", tbl.TupleCount())
	}

	tb0 := refs[0].Block()
	tb1 := refs[4].Block()
	for ii := 1; ii < 4; ii++ {
		if refs[ii].Block() != tb0 {
			t.Errorf("tuple %d not in the first block", ii)
		}
	}
	if tb1 == tb0 {
		t.Fatal("fifth tuple did not start a new block")
	}

	if tb0.ActiveCount() != 4 || tb0.HasFreeSlots() {
		t.Errorf("first block got %d active, free slots %t; want 4, false", tb0.ActiveCount(),
			tb0.HasFreeSlots())
	}
	if tb0.Bucket() != block.NumBuckets-1 {
		t.Errorf("first block in bucket %d want %d", tb0.Bucket(), block.NumBuckets-1)
	}
	if tb1.ActiveCount() != 1 || !tb1.HasFreeSlots() {
		t.Errorf("second block got %d active, free slots %t; want 1, true", tb1.ActiveCount(),
			tb1.HasFreeSlots())
	}
	if tb1.Bucket() != 5 {
		t.Errorf("second block in bucket %d want 5", tb1.Bucket())
	}
}

func TestCompactionRelocates(t *testing.T) {
	to := &testObserver{}
	tbl := makeTable(t, 4,
		&tstore.Options{
			Observers: []tstore.Observer{to},
			CompactionPredicate: func(tbl *tstore.Table) bool {
				return tbl.AllocatedTupleCount() > tbl.TupleCount()
			},
		})
	defer tbl.Close()

	refs := make([]tstore.Ref, 0, 5)
	for ii := int64(0); ii < 5; ii++ {
		refs = append(refs, insertRow(t, tbl, ii))
	}

	tb0 := refs[0].Block()
	tb1 := refs[4].Block()
	for ii := 0; ii < 3; ii++ {
		tbl.DeleteTuple(refs[ii])
		tbl.CheckInvariants()
	}
	if tb0.ActiveCount() != 1 || tb1.ActiveCount() != 1 {
		t.Fatalf("blocks got %d and %d active; want 1 and 1", tb0.ActiveCount(),
			tb1.ActiveCount())
	}

	tbl.ForcedCompaction()
	tbl.CheckInvariants()

	if tbl.BlockCount() != 1 {
		t.Errorf("BlockCount() got %d want 1", tbl.BlockCount())
	}
	if tbl.TupleCount() != 2 {
		t.Errorf("TupleCount() got %d want 2", tbl.TupleCount())
	}
	if len(to.relocates) != 1 {
		t.Fatalf("got %d relocations want 1", len(to.relocates))
	}
	if to.relocates[0][0].Block() != tb1 || to.relocates[0][1].Block() != tb0 {
		t.Errorf("relocation got %s -> %s; want from second block into first",
			to.relocates[0][0], to.relocates[0][1])
	}
	if len(to.removed) != 1 || to.removed[0] != tb1.ID() {
		t.Errorf("removed blocks got %v want [%d]", to.removed, tb1.ID())
	}

	// The two survivors are the tuples that were never deleted.
	rows := tableRows(t, tbl)
	if len(rows) != 2 {
		t.Fatalf("got %d rows want 2", len(rows))
	}
	ids := map[int64]bool{}
	for _, row := range rows {
		ids[int64(row[0].(sql.Int64Value))] = true
	}
	if !ids[3] || !ids[4] {
		t.Errorf("surviving ids got %v want 3 and 4", ids)
	}
}

func TestForcedCompactionIdempotent(t *testing.T) {
	to := &testObserver{}
	tbl := makeTable(t, 4,
		&tstore.Options{
			Observers: []tstore.Observer{to},
			CompactionPredicate: func(tbl *tstore.Table) bool {
				return tbl.AllocatedTupleCount() > tbl.TupleCount()
			},
		})
	defer tbl.Close()

	refs := make([]tstore.Ref, 0, 12)
	for ii := int64(0); ii < 12; ii++ {
		refs = append(refs, insertRow(t, tbl, ii))
	}
	for ii := 0; ii < 12; ii += 2 {
		tbl.DeleteTuple(refs[ii])
		tbl.CheckInvariants()
	}

	tbl.ForcedCompaction()
	tbl.CheckInvariants()
	if tbl.TupleCount() != 6 {
		t.Errorf("TupleCount() got %d want 6", tbl.TupleCount())
	}
	if len(to.removed) == 0 {
		t.Error("first forced compaction removed no blocks")
	}

	to.reset()
	tbl.ForcedCompaction()
	tbl.CheckInvariants()
	if len(to.relocates) != 0 || len(to.removed) != 0 {
		t.Errorf("second forced compaction got %d relocations and %d removals; want none",
			len(to.relocates), len(to.removed))
	}
}

func TestForcedCompactionDefaultPredicate(t *testing.T) {
	tbl := makeTable(t, 4, nil)
	defer tbl.Close()

	refs := make([]tstore.Ref, 0, 64)
	for ii := int64(0); ii < 64; ii++ {
		refs = append(refs, insertRow(t, tbl, ii))
	}
	for ii := 0; ii < 64; ii += 2 {
		tbl.DeleteTuple(refs[ii])
	}
	tbl.CheckInvariants()

	tbl.ForcedCompaction()
	tbl.CheckInvariants()

	// The default predicate must not hold once compaction is done.
	slack := tbl.AllocatedTupleCount() - tbl.TupleCount()
	if slack > int64(3*tbl.TuplesPerBlock()) {
		t.Errorf("forced compaction left %d slack slots", slack)
	}
	if tbl.TupleCount() != 32 {
		t.Errorf("TupleCount() got %d want 32", tbl.TupleCount())
	}
}

func TestEmptyBlockReleased(t *testing.T) {
	to := &testObserver{}
	tbl := makeTable(t, 4, &tstore.Options{Observers: []tstore.Observer{to}})
	defer tbl.Close()

	refs := make([]tstore.Ref, 0, 4)
	for ii := int64(0); ii < 4; ii++ {
		refs = append(refs, insertRow(t, tbl, ii))
	}
	if tbl.BlockCount() != 1 {
		t.Fatalf("BlockCount() got %d want 1", tbl.BlockCount())
	}

	for _, rf := range refs {
		tbl.DeleteTuple(rf)
		tbl.CheckInvariants()
	}
	if tbl.BlockCount() != 0 {
		t.Errorf("BlockCount() got %d want 0", tbl.BlockCount())
	}
	if tbl.TupleCount() != 0 {
		t.Errorf("TupleCount() got %d want 0", tbl.TupleCount())
	}
	if len(to.removed) != 1 {
		t.Errorf("got %d removed blocks want 1", len(to.removed))
	}
	if tbl.AllocatedTupleCount() != 0 {
		t.Errorf("AllocatedTupleCount() got %d want 0", tbl.AllocatedTupleCount())
	}
}

func TestChurnInvariants(t *testing.T) {
	to := &testObserver{}
	live := map[tstore.Ref]int64{}

	tbl := makeTable(t, 8, &tstore.Options{Observers: []tstore.Observer{to}})
	defer tbl.Close()

	// Keep external refs valid across compaction the way an index would:
	// apply relocations as they are reported.
	applyRelocates := func() {
		for _, mv := range to.relocates {
			id, ok := live[mv[0]]
			if !ok {
				t.Fatalf("relocation of unknown tuple %s", mv[0])
			}
			delete(live, mv[0])
			live[mv[1]] = id
		}
		to.relocates = nil
	}

	rnd := rand.New(rand.NewSource(0))
	var nextID int64
	for step := 0; step < 2000; step++ {
		switch op := rnd.Intn(10); {
		case op < 5:
			rf, err := tbl.InsertTuple([]sql.Value{sql.Int64Value(nextID), nil})
			if err != nil {
				t.Fatalf("InsertTuple failed with %s", err)
			}
			live[rf] = nextID
			nextID++
		case op < 8:
			for rf := range live {
				tbl.DeleteTuple(rf)
				delete(live, rf)
				break
			}
		case op < 9:
			tbl.IdleCompaction()
			applyRelocates()
		default:
			tbl.ForcedCompaction()
			applyRelocates()
		}
		tbl.CheckInvariants()

		if tbl.TupleCount() != int64(len(live)) {
			t.Fatalf("step %d: TupleCount() got %d want %d", step, tbl.TupleCount(), len(live))
		}
	}

	// Every live ref must still read back its id.
	for rf, id := range live {
		tt := tbl.Tuple(rf)
		if !tt.IsActive() {
			t.Fatalf("live tuple %s not active", rf)
		}
		if sql.Compare(tt.Value(tbl.Pool(), 0), sql.Int64Value(id)) != 0 {
			t.Fatalf("tuple %s got id %s want %d", rf, sql.Format(tt.Value(tbl.Pool(), 0)), id)
		}
	}
}

func TestSnapshotPartitions(t *testing.T) {
	tbl := makeTable(t, 4, nil)
	defer tbl.Close()

	for ii := int64(0); ii < 10; ii++ {
		insertRow(t, tbl, ii)
	}

	tbl.ActivateSnapshot()
	tbl.CheckInvariants()
	if !tbl.SnapshotActive() {
		t.Error("SnapshotActive() got false")
	}
	for _, tb := range tbl.Blocks() {
		if tb.State() != block.PendingSnapshot {
			t.Errorf("block %d in state %s want pending-snapshot", tb.ID(), tb.State())
		}
	}

	// New blocks are not part of the snapshot.
	var rf tstore.Ref
	for ii := int64(10); ii < 14; ii++ {
		rf = insertRow(t, tbl, ii)
	}
	if rf.Block().State() != block.NotPendingSnapshot {
		t.Errorf("new block in state %s want not-pending-snapshot", rf.Block().State())
	}

	tbs := tbl.Blocks()
	tbl.MarkBlockNotPendingSnapshot(tbs[0])
	tbl.CheckInvariants()
	if tbs[0].State() != block.NotPendingSnapshot {
		t.Errorf("marked block in state %s want not-pending-snapshot", tbs[0].State())
	}
	tbl.MarkBlockPendingSnapshot(tbs[0])
	tbl.CheckInvariants()

	tbl.DeactivateSnapshot()
	tbl.CheckInvariants()
	for _, tb := range tbl.Blocks() {
		if tb.State() != block.NotPendingSnapshot {
			t.Errorf("block %d in state %s after deactivate", tb.ID(), tb.State())
		}
	}
}

func TestCompactionStaysInPartition(t *testing.T) {
	to := &testObserver{}
	tbl := makeTable(t, 4, &tstore.Options{Observers: []tstore.Observer{to}})
	defer tbl.Close()

	refs := make([]tstore.Ref, 0, 8)
	for ii := int64(0); ii < 8; ii++ {
		refs = append(refs, insertRow(t, tbl, ii))
	}

	// One sparse block per partition: compaction must not merge across.
	tbl.ActivateSnapshot()
	tbl.MarkBlockNotPendingSnapshot(refs[0].Block())
	for ii := 1; ii < 4; ii++ {
		tbl.DeleteTuple(refs[ii])
	}
	for ii := 5; ii < 8; ii++ {
		tbl.DeleteTuple(refs[ii])
	}
	tbl.CheckInvariants()

	tbl.IdleCompaction()
	tbl.CheckInvariants()
	if len(to.relocates) != 0 {
		t.Errorf("idle compaction relocated %d tuples across partitions", len(to.relocates))
	}
	if tbl.BlockCount() != 2 {
		t.Errorf("BlockCount() got %d want 2", tbl.BlockCount())
	}
	tbl.DeactivateSnapshot()
}

func TestUndoPins(t *testing.T) {
	tbl := makeTable(t, 4, nil)
	defer tbl.Close()

	rf := insertRow(t, tbl, 1)
	tbl.PinTupleForUndo(rf)
	if tbl.TuplesPinnedByUndo() != 1 {
		t.Errorf("TuplesPinnedByUndo() got %d want 1", tbl.TuplesPinnedByUndo())
	}
	if !tbl.Tuple(rf).IsPendingDeleteOnUndoRelease() {
		t.Error("tuple not flagged pending delete on undo release")
	}

	tbl.ReleaseUndoPin(rf, false)
	if tbl.TuplesPinnedByUndo() != 0 || tbl.TupleCount() != 1 {
		t.Error("releasing without delete changed the tuple")
	}

	tbl.PinTupleForUndo(rf)
	tbl.ReleaseUndoPin(rf, true)
	if tbl.TupleCount() != 0 {
		t.Errorf("TupleCount() got %d want 0", tbl.TupleCount())
	}
	tbl.CheckInvariants()
}

func TestRefcount(t *testing.T) {
	tbl := makeTable(t, 4, nil)

	tbl.Acquire()
	func() {
		defer func() {
			if recover() == nil {
				t.Error("Close() of referenced table did not panic")
			}
		}()
		tbl.Close()
	}()

	tbl.Release()
	tbl.Close()
}

func TestInitializeWithBlocks(t *testing.T) {
	tbl := makeTable(t, 4, nil)
	defer tbl.Close()
	insertRow(t, tbl, 1)

	defer func() {
		if recover() == nil {
			t.Error("Initialize() of populated table did not panic")
		}
	}()
	tbl.Initialize(tuple.NewSchema(testColTypes), testColNames, true)
}

func TestOneTupleBlocks(t *testing.T) {
	ts := tuple.NewSchema(testColTypes)
	tbl := tstore.NewTable("memcheck", 1024, &tstore.Options{OneTupleBlocks: true})
	tbl.Initialize(ts, testColNames, true)
	defer tbl.Close()

	if tbl.TuplesPerBlock() != 1 {
		t.Fatalf("TuplesPerBlock() got %d want 1", tbl.TuplesPerBlock())
	}
	for ii := int64(0); ii < 5; ii++ {
		insertRow(t, tbl, ii)
	}
	if tbl.BlockCount() != 5 {
		t.Errorf("BlockCount() got %d want 5", tbl.BlockCount())
	}
}

func TestMmapBlocks(t *testing.T) {
	ts := tuple.NewSchema(testColTypes)
	tbl := tstore.NewTable("mapped", ts.TupleLength()*4,
		&tstore.Options{Allocator: block.MmapAllocator()})
	tbl.Initialize(ts, testColNames, true)
	defer tbl.Close()

	for ii := int64(0); ii < 100; ii++ {
		insertRow(t, tbl, ii)
	}
	if tbl.TupleCount() != 100 {
		t.Errorf("TupleCount() got %d want 100", tbl.TupleCount())
	}
	rows := tableRows(t, tbl)
	if len(rows) != 100 {
		t.Errorf("got %d rows want 100", len(rows))
	}
}
