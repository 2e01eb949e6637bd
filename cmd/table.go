package cmd

import (
	"github.com/tansudb/tansu/flags"
	"github.com/tansudb/tansu/sql"
	"github.com/tansudb/tansu/storage/block"
	"github.com/tansudb/tansu/storage/tstore"
	"github.com/tansudb/tansu/storage/tuple"
)

// demoTable builds the table the repl and bench commands operate on.
func demoTable() *tstore.Table {
	opts := &tstore.Options{
		TableType:      "PersistentTable",
		OneTupleBlocks: flgs.GetFlag(flags.OneTupleBlocks),
	}
	if flgs.GetFlag(flags.MmapBlocks) {
		opts.Allocator = block.MmapAllocator()
	}

	colTypes := []sql.ColumnType{
		sql.Int64ColType,
		sql.NullStringColType,
		sql.NullFloatColType,
		sql.BoolColType,
	}
	columnNames := []string{"id", "name", "val", "ok"}

	tbl := tstore.NewTable("demo", 0, opts)
	tbl.Initialize(tuple.NewSchema(colTypes), columnNames, true)
	return tbl
}
