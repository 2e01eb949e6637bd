package block

import (
	"github.com/google/btree"
)

// Less orders blocks by id so a Block can be a btree item directly; a block
// may be a member of several sets at once.
func (tb *Block) Less(item btree.Item) bool {
	return tb.id < item.(*Block).id
}

// Set is an ordered set of blocks keyed by block id. It backs the block
// map, the blocks-with-space set, the snapshot partitions, and every
// density bucket.
type Set struct {
	tr *btree.BTree
}

func NewSet() *Set {
	return &Set{tr: btree.New(8)}
}

func (s *Set) Len() int {
	return s.tr.Len()
}

func (s *Set) Insert(tb *Block) {
	s.tr.ReplaceOrInsert(tb)
}

func (s *Set) Remove(tb *Block) {
	s.tr.Delete(tb)
}

func (s *Set) Contains(tb *Block) bool {
	return s.tr.Has(tb)
}

// First returns the member with the smallest id, or nil.
func (s *Set) First() *Block {
	item := s.tr.Min()
	if item == nil {
		return nil
	}
	return item.(*Block)
}

// FirstOther returns the member with the smallest id other than not, or
// nil.
func (s *Set) FirstOther(not *Block) *Block {
	var found *Block
	s.tr.Ascend(
		func(item btree.Item) bool {
			tb := item.(*Block)
			if tb == not {
				return true
			}
			found = tb
			return false
		})
	return found
}

// Ascend visits members in id order while fn returns true.
func (s *Set) Ascend(fn func(tb *Block) bool) {
	s.tr.Ascend(
		func(item btree.Item) bool {
			return fn(item.(*Block))
		})
}

// Blocks returns the members in id order.
func (s *Set) Blocks() []*Block {
	tbs := make([]*Block, 0, s.tr.Len())
	s.Ascend(
		func(tb *Block) bool {
			tbs = append(tbs, tb)
			return true
		})
	return tbs
}
