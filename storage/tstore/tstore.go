// Package tstore implements the in-memory tuple store backing a table:
// fixed capacity blocks of slots, density bucketed free space tracking,
// snapshot aware iteration, and online compaction.
package tstore

import (
	"fmt"

	"github.com/tansudb/tansu/config"
	"github.com/tansudb/tansu/sql"
	"github.com/tansudb/tansu/storage/block"
	"github.com/tansudb/tansu/storage/tuple"
)

var (
	// DefaultAllocationTarget is the default block allocation size in bytes.
	DefaultAllocationTarget = 2 * 1024 * 1024

	// CompactionSlackBlocks controls the default compaction predicate:
	// forced compaction keeps going while more than this many blocks worth
	// of slots are allocated but inactive.
	CompactionSlackBlocks = 3
)

func init() {
	config.IntParam(&DefaultAllocationTarget, "block_bytes", DefaultAllocationTarget,
		config.Default)
	config.IntParam(&CompactionSlackBlocks, "compaction_slack_blocks", CompactionSlackBlocks,
		config.Default)
}

// Ref identifies a tuple slot: the block holding it and the slot offset
// within the block. A Ref is stable from allocation until the slot is
// freed or compaction moves it; moves are reported to observers.
type Ref struct {
	tb  *block.Block
	off int
}

func (rf Ref) IsNil() bool {
	return rf.tb == nil
}

func (rf Ref) Block() *block.Block {
	return rf.tb
}

func (rf Ref) Offset() int {
	return rf.off
}

func (rf Ref) String() string {
	if rf.tb == nil {
		return "nil"
	}
	return fmt.Sprintf("%d:%d", rf.tb.ID(), rf.off)
}

// Observer is how external index structures follow the physical life of
// tuples: compaction moves, block frees, and bulk loads.
type Observer interface {
	// Relocate is called for each tuple compaction moves.
	Relocate(old, new Ref)

	// BlockRemoved is called before a block's memory is freed.
	BlockRemoved(tb *block.Block)

	// LoadedTuple is called for each tuple inserted by LoadTuplesFrom and
	// LoadTuplesFromNoHeader.
	LoadedTuple(allowExport bool, rf Ref)

	Equal(other Observer) bool
}

type Options struct {
	DatabaseID int64
	TableType  string

	Allocator block.Allocator
	Pool      *tuple.Pool
	Observers []Observer

	// CompactionPredicate is queried by ForcedCompaction; nil selects the
	// default slack based predicate.
	CompactionPredicate func(tbl *Table) bool

	// OneTupleBlocks forces one tuple per block, which makes memory error
	// tooling attribute failures to individual tuples.
	OneTupleBlocks bool
}

// Table owns the blocks of one table, the per partition density buckets,
// the set of blocks with free slots, and all tuple accounting. A Table is
// not internally synchronized: a single mutating operation at a time, with
// snapshot iterators as the only concurrent readers.
type Table struct {
	dbid      int64
	name      string
	tableType string

	schema      *tuple.Schema
	ownsSchema  bool
	columnNames []string

	allocTarget     int
	tupleLength     int
	tuplesPerBlock  int
	blockAllocBytes int
	oneTupleBlocks  bool

	alloc block.Allocator
	pool  *tuple.Pool

	nextBlockID     int64
	blocks          *block.Set
	blocksWithSpace *block.Set
	partitions      [2]*block.Set
	buckets         [2][block.NumBuckets]*block.Set

	tupleCount         int64
	allocatedCount     int64
	tuplesPinnedByUndo int64
	nonInlinedBytes    int64

	tempTuple tuple.Tuple

	headerCache []byte

	observers           []Observer
	compactionPredicate func(tbl *Table) bool

	snapshotActive bool
	refcount       int
}

func NewTable(name string, allocationTarget int, opts *Options) *Table {
	if opts == nil {
		opts = &Options{}
	}
	if allocationTarget < 1 {
		allocationTarget = DefaultAllocationTarget
	}

	tbl := &Table{
		dbid:                opts.DatabaseID,
		name:                name,
		tableType:           opts.TableType,
		allocTarget:         allocationTarget,
		oneTupleBlocks:      opts.OneTupleBlocks,
		alloc:               opts.Allocator,
		pool:                opts.Pool,
		observers:           opts.Observers,
		compactionPredicate: opts.CompactionPredicate,
	}
	if tbl.tableType == "" {
		tbl.tableType = "PersistentTable"
	}
	if tbl.alloc == nil {
		tbl.alloc = block.HeapAllocator()
	}
	if tbl.pool == nil {
		tbl.pool = tuple.NewPool()
	}
	if tbl.compactionPredicate == nil {
		tbl.compactionPredicate = defaultCompactionPredicate
	}
	return tbl
}

func defaultCompactionPredicate(tbl *Table) bool {
	return tbl.allocatedCount-tbl.tupleCount > int64(CompactionSlackBlocks*tbl.tuplesPerBlock)
}

// Initialize gives the table its schema and column names. No blocks may
// exist; a table is initialized exactly once before use.
func (tbl *Table) Initialize(ts *tuple.Schema, columnNames []string, ownsSchema bool) {
	if len(columnNames) != ts.ColumnCount() {
		panic(fmt.Sprintf("tstore: %s: %d column names for %d columns", tbl.name,
			len(columnNames), ts.ColumnCount()))
	}
	if tbl.blocks != nil && tbl.blocks.Len() > 0 {
		panic(fmt.Sprintf("tstore: %s: initialize of table with %d blocks", tbl.name,
			tbl.blocks.Len()))
	}

	tbl.schema = ts
	tbl.ownsSchema = ownsSchema
	tbl.columnNames = append(make([]string, 0, len(columnNames)), columnNames...)
	tbl.tupleLength = ts.TupleLength()

	if tbl.oneTupleBlocks || tbl.allocTarget/tbl.tupleLength < 1 {
		tbl.blockAllocBytes = tbl.alloc.RoundSize(tbl.tupleLength)
	} else {
		tbl.blockAllocBytes = tbl.alloc.RoundSize(tbl.allocTarget)
	}
	tbl.tuplesPerBlock = tbl.blockAllocBytes / tbl.tupleLength
	if tbl.oneTupleBlocks {
		tbl.tuplesPerBlock = 1
	}

	tbl.blocks = block.NewSet()
	tbl.blocksWithSpace = block.NewSet()
	for part := 0; part < 2; part++ {
		tbl.partitions[part] = block.NewSet()
		for ii := 0; ii < block.NumBuckets; ii++ {
			tbl.buckets[part][ii] = block.NewSet()
		}
	}

	tbl.tempTuple = tuple.MakeTuple(ts, make([]byte, tbl.tupleLength))
	tbl.tempTuple.SetActive(true)

	tbl.tupleCount = 0
	tbl.headerCache = nil
}

func (tbl *Table) Name() string {
	return tbl.name
}

func (tbl *Table) DatabaseID() int64 {
	return tbl.dbid
}

func (tbl *Table) TableType() string {
	return tbl.tableType
}

func (tbl *Table) Schema() *tuple.Schema {
	return tbl.schema
}

func (tbl *Table) Pool() *tuple.Pool {
	return tbl.pool
}

func (tbl *Table) ColumnNames() []string {
	return tbl.columnNames
}

func (tbl *Table) ColumnIndex(name string) int {
	for cdx, nam := range tbl.columnNames {
		if nam == name {
			return cdx
		}
	}
	return -1
}

func (tbl *Table) TupleCount() int64 {
	return tbl.tupleCount
}

func (tbl *Table) AllocatedTupleCount() int64 {
	return tbl.allocatedCount
}

func (tbl *Table) BlockCount() int {
	return tbl.blocks.Len()
}

// Blocks returns the table's blocks in id order; snapshot controllers use
// it to mark blocks pending.
func (tbl *Table) Blocks() []*block.Block {
	return tbl.blocks.Blocks()
}

func (tbl *Table) TuplesPerBlock() int {
	return tbl.tuplesPerBlock
}

func (tbl *Table) NonInlinedMemorySize() int64 {
	return tbl.nonInlinedBytes
}

func (tbl *Table) TuplesPinnedByUndo() int64 {
	return tbl.tuplesPinnedByUndo
}

func (tbl *Table) Observers() []Observer {
	return tbl.observers
}

// TempTuple borrows the table's scratch slot, used to stage a row outside
// any block. It is exclusively owned by the table; callers must serialize
// its use with mutating operations.
func (tbl *Table) TempTuple() tuple.Tuple {
	return tbl.tempTuple
}

// Tuple binds the slot at rf to the table's schema.
func (tbl *Table) Tuple(rf Ref) tuple.Tuple {
	return tuple.MakeTuple(tbl.schema, rf.tb.Slot(rf.off))
}

func partIndex(ps block.PartitionState) int {
	switch ps {
	case block.NotPendingSnapshot:
		return 0
	case block.PendingSnapshot:
		return 1
	}

	panic(fmt.Sprintf("tstore: no partition for block state %s", ps))
}

func (tbl *Table) allocateNextBlock() (*block.Block, error) {
	data, err := tbl.alloc.Alloc(tbl.blockAllocBytes)
	if err != nil {
		return nil, err
	}

	tbl.nextBlockID++
	tb := block.New(tbl.nextBlockID, data, tbl.tupleLength)
	tbl.blocks.Insert(tb)
	tbl.partitions[0].Insert(tb)
	tbl.buckets[0][0].Insert(tb)
	tb.SetBucket(0)
	tbl.allocatedCount += int64(tb.Capacity())
	return tb, nil
}

// rebucket moves tb to bucket b of the array matching its partition; a
// pinned block is left alone, the iterator rebuckets it on release.
func (tbl *Table) rebucket(tb *block.Block, b int) {
	if tb.State() == block.PinnedBySnapshot {
		return
	}

	part := partIndex(tb.State())
	if tb.Bucket() != block.NoBucket {
		tbl.buckets[part][tb.Bucket()].Remove(tb)
	}
	tbl.buckets[part][b].Insert(tb)
	tb.SetBucket(b)
}

// NextFreeTuple hands out a free slot, allocating a new block when no
// block has space. The caller writes the payload and sets the active flag;
// it is also responsible for the table tuple count.
func (tbl *Table) NextFreeTuple() (Ref, error) {
	if tbl.schema == nil {
		panic(fmt.Sprintf("tstore: %s: table not initialized", tbl.name))
	}

	if tbl.blocksWithSpace.Len() > 0 {
		tb := tbl.blocksWithSpace.First()
		off, nb := tb.NextFreeSlot()
		if nb != block.NoBucket {
			tbl.rebucket(tb, nb)
		}
		if !tb.HasFreeSlots() {
			tbl.blocksWithSpace.Remove(tb)
		}
		return Ref{tb: tb, off: off}, nil
	}

	tb, err := tbl.allocateNextBlock()
	if err != nil {
		return Ref{}, err
	}

	off, nb := tb.NextFreeSlot()
	if nb != block.NoBucket {
		tbl.rebucket(tb, nb)
	}
	if tb.HasFreeSlots() {
		tbl.blocksWithSpace.Insert(tb)
	}
	return Ref{tb: tb, off: off}, nil
}

// InsertTuple stores row in a free slot and returns its Ref.
func (tbl *Table) InsertTuple(row []sql.Value) (Ref, error) {
	rf, err := tbl.NextFreeTuple()
	if err != nil {
		return Ref{}, err
	}

	t := tbl.Tuple(rf)
	t.ClearHeader()
	tbl.nonInlinedBytes += int64(t.SetRow(tbl.pool, row))
	t.SetActive(true)
	tbl.tupleCount++
	return rf, nil
}

// InsertTempTuple stores the staged temp tuple's row; the usual flow is
// TempTuple, fill in columns, InsertTempTuple.
func (tbl *Table) InsertTempTuple() (Ref, error) {
	return tbl.InsertTuple(tbl.tempTuple.Row(tbl.pool))
}

// DeleteTuple frees the slot at rf, releasing its out of line storage and
// the whole block if the block becomes empty.
func (tbl *Table) DeleteTuple(rf Ref) {
	t := tbl.Tuple(rf)
	if !t.IsActive() {
		panic(fmt.Sprintf("tstore: %s: delete of inactive tuple %s", tbl.name, rf))
	}

	tbl.abandonSlot(rf)
	tbl.tupleCount--
}

// abandonSlot returns the slot at rf to its block's free list without
// touching the table tuple count.
func (tbl *Table) abandonSlot(rf Ref) {
	t := tbl.Tuple(rf)
	tbl.nonInlinedBytes -= int64(t.FreeValues(tbl.pool))
	nb := rf.tb.FreeSlot(rf.off)

	if rf.tb.IsEmpty() && rf.tb.State() != block.PinnedBySnapshot {
		tbl.releaseBlock(rf.tb)
		return
	}

	if nb != block.NoBucket {
		tbl.rebucket(rf.tb, nb)
	}
	if rf.tb.State() != block.PinnedBySnapshot && !tbl.blocksWithSpace.Contains(rf.tb) {
		tbl.blocksWithSpace.Insert(rf.tb)
	}
}

// releaseBlock drops tb from every collection, notifies observers, and
// frees its memory.
func (tbl *Table) releaseBlock(tb *block.Block) {
	for _, obs := range tbl.observers {
		obs.BlockRemoved(tb)
	}

	tbl.blocks.Remove(tb)
	tbl.blocksWithSpace.Remove(tb)
	if tb.State() != block.PinnedBySnapshot {
		part := partIndex(tb.State())
		tbl.partitions[part].Remove(tb)
		if tb.Bucket() != block.NoBucket {
			tbl.buckets[part][tb.Bucket()].Remove(tb)
			tb.SetBucket(block.NoBucket)
		}
	}
	tbl.allocatedCount -= int64(tb.Capacity())

	err := tbl.alloc.Free(tb.Data())
	if err != nil {
		panic(fmt.Sprintf("tstore: %s: free of block %d failed: %s", tbl.name, tb.ID(), err))
	}
}

// pinBlock removes tb from its partition, bucket, and the blocks with
// space set for the duration of an iterator's visit. It returns the
// partition state to restore on release.
func (tbl *Table) pinBlock(tb *block.Block) block.PartitionState {
	prev := tb.State()
	part := partIndex(prev)
	tbl.partitions[part].Remove(tb)
	if tb.Bucket() != block.NoBucket {
		tbl.buckets[part][tb.Bucket()].Remove(tb)
		tb.SetBucket(block.NoBucket)
	}
	tbl.blocksWithSpace.Remove(tb)
	tb.SetState(block.PinnedBySnapshot)
	return prev
}

// unpinBlock returns tb to the partition for state to, in the bucket
// matching its current fill. An empty block is released instead.
func (tbl *Table) unpinBlock(tb *block.Block, to block.PartitionState) {
	if tb.State() != block.PinnedBySnapshot {
		panic(fmt.Sprintf("tstore: %s: unpin of block %d in state %s", tbl.name, tb.ID(),
			tb.State()))
	}

	if tb.IsEmpty() {
		tbl.releaseBlock(tb)
		return
	}

	tb.SetState(to)
	part := partIndex(to)
	tbl.partitions[part].Insert(tb)
	b := tb.CurrentBucketIndex()
	tbl.buckets[part][b].Insert(tb)
	tb.SetBucket(b)
	if tb.HasFreeSlots() {
		tbl.blocksWithSpace.Insert(tb)
	}
	tb.SetLastCompactionOffset(tb.Capacity())
}

// MarkBlockPendingSnapshot moves tb to the pending snapshot partition.
func (tbl *Table) MarkBlockPendingSnapshot(tb *block.Block) {
	tbl.markBlock(tb, 1, block.PendingSnapshot)
}

// MarkBlockNotPendingSnapshot moves tb to the not pending partition.
func (tbl *Table) MarkBlockNotPendingSnapshot(tb *block.Block) {
	tbl.markBlock(tb, 0, block.NotPendingSnapshot)
}

func (tbl *Table) markBlock(tb *block.Block, part int, to block.PartitionState) {
	if !tbl.blocks.Contains(tb) {
		panic(fmt.Sprintf("tstore: %s: mark of block %d not owned by table", tbl.name, tb.ID()))
	}
	if tb.State() == block.PinnedBySnapshot {
		panic(fmt.Sprintf("tstore: %s: mark of pinned block %d", tbl.name, tb.ID()))
	}
	cur := partIndex(tb.State())
	if cur == part {
		return
	}

	tbl.partitions[cur].Remove(tb)
	if tb.Bucket() != block.NoBucket {
		tbl.buckets[cur][tb.Bucket()].Remove(tb)
	}
	tb.SetState(to)
	tbl.partitions[part].Insert(tb)
	b := tb.CurrentBucketIndex()
	tbl.buckets[part][b].Insert(tb)
	tb.SetBucket(b)
}

// ActivateSnapshot moves every block to the pending snapshot partition; a
// snapshot iterator then marks each block not pending as it finishes with
// it. Newly allocated blocks stay not pending.
func (tbl *Table) ActivateSnapshot() {
	if tbl.snapshotActive {
		panic(fmt.Sprintf("tstore: %s: snapshot already active", tbl.name))
	}

	for _, tb := range tbl.partitions[0].Blocks() {
		tbl.MarkBlockPendingSnapshot(tb)
	}
	tbl.snapshotActive = true
}

// DeactivateSnapshot ends the snapshot, returning any unstreamed blocks to
// the not pending partition.
func (tbl *Table) DeactivateSnapshot() {
	if !tbl.snapshotActive {
		panic(fmt.Sprintf("tstore: %s: no snapshot active", tbl.name))
	}

	for _, tb := range tbl.partitions[1].Blocks() {
		tbl.MarkBlockNotPendingSnapshot(tb)
	}
	tbl.snapshotActive = false
}

func (tbl *Table) SnapshotActive() bool {
	return tbl.snapshotActive
}

// PinTupleForUndo marks the tuple at rf for deletion when the surrounding
// undo log releases it; the tuple stays visible until then.
func (tbl *Table) PinTupleForUndo(rf Ref) {
	t := tbl.Tuple(rf)
	if !t.IsActive() {
		panic(fmt.Sprintf("tstore: %s: undo pin of inactive tuple %s", tbl.name, rf))
	}
	if t.IsPendingDeleteOnUndoRelease() {
		panic(fmt.Sprintf("tstore: %s: tuple %s already pinned by undo", tbl.name, rf))
	}

	t.SetPendingDeleteOnUndoRelease(true)
	tbl.tuplesPinnedByUndo++
}

// ReleaseUndoPin drops the undo pin on rf; when del is true the tuple is
// deleted as well.
func (tbl *Table) ReleaseUndoPin(rf Ref, del bool) {
	t := tbl.Tuple(rf)
	if !t.IsPendingDeleteOnUndoRelease() {
		panic(fmt.Sprintf("tstore: %s: tuple %s not pinned by undo", tbl.name, rf))
	}

	t.SetPendingDeleteOnUndoRelease(false)
	tbl.tuplesPinnedByUndo--
	if del {
		tbl.DeleteTuple(rf)
	}
}

// Acquire takes a shared ownership reference on the table.
func (tbl *Table) Acquire() {
	tbl.refcount++
}

// Release drops a shared ownership reference.
func (tbl *Table) Release() {
	if tbl.refcount < 1 {
		panic(fmt.Sprintf("tstore: %s: release of unreferenced table", tbl.name))
	}
	tbl.refcount--
}

// Close frees every block. The table must not be shared: all references
// taken with Acquire must have been released.
func (tbl *Table) Close() {
	if tbl.refcount != 0 {
		panic(fmt.Sprintf("tstore: %s: close of table with refcount %d", tbl.name, tbl.refcount))
	}
	if tbl.blocks == nil {
		return
	}

	for _, tb := range tbl.blocks.Blocks() {
		for off := 0; off < tb.ScannedOffsets(); off++ {
			if tb.SlotActive(off) {
				t := tuple.MakeTuple(tbl.schema, tb.Slot(off))
				tbl.nonInlinedBytes -= int64(t.FreeValues(tbl.pool))
			}
		}
		tbl.releaseBlock(tb)
	}
	tbl.tupleCount = 0
	tbl.schema = nil
}
