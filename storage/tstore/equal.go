package tstore

import (
	"io"
)

// Equal reports whether two tables hold the same schema, metadata,
// observers, and tuples, comparing tuples pairwise in iteration order.
func (tbl *Table) Equal(other *Table) bool {
	if tbl.schema.ColumnCount() != other.schema.ColumnCount() {
		return false
	}
	if len(tbl.observers) != len(other.observers) {
		return false
	}
	if tbl.tupleCount != other.tupleCount {
		return false
	}
	if tbl.dbid != other.dbid || tbl.name != other.name || tbl.tableType != other.tableType {
		return false
	}

	for odx := range tbl.observers {
		if !tbl.observers[odx].Equal(other.observers[odx]) {
			return false
		}
	}

	if !tbl.schema.Equal(other.schema) {
		return false
	}

	it := tbl.Iterator()
	defer it.Close()
	oit := other.Iterator()
	defer oit.Close()
	for {
		rf, err := it.Next()
		if err == io.EOF {
			break
		}
		orf, oerr := oit.Next()
		if oerr == io.EOF {
			return false
		}
		if !tbl.Tuple(rf).Equal(tbl.pool, other.Tuple(orf), other.pool) {
			return false
		}
	}
	return true
}
