package tuple

import (
	"fmt"

	"github.com/tansudb/tansu/sql"
)

// HeaderSize is the number of bytes of slot header preceding the column
// payload: a single status byte.
const HeaderSize = 1

// Schema describes the fixed physical layout of a tuple slot: per column
// offsets and widths, and the set of columns stored out of line in a Pool.
// A Schema is immutable once built.
type Schema struct {
	colTypes []sql.ColumnType
	offsets  []int
	varCols  []int
	length   int
}

func columnWidth(ct sql.ColumnType) int {
	switch ct.Type {
	case sql.BooleanType:
		return 1
	case sql.IntegerType:
		switch ct.Size {
		case 2:
			return 2
		case 4:
			return 4
		}
		return 8
	case sql.FloatType:
		return 8
	case sql.StringType, sql.BytesType:
		return handleWidth
	}

	panic(fmt.Sprintf("tuple: expected a valid data type; got %v", ct.Type))
}

func NewSchema(colTypes []sql.ColumnType) *Schema {
	if len(colTypes) == 0 {
		panic("tuple: schema with zero columns")
	}

	ts := Schema{
		colTypes: append(make([]sql.ColumnType, 0, len(colTypes)), colTypes...),
		offsets:  make([]int, len(colTypes)),
	}

	off := HeaderSize
	for col, ct := range ts.colTypes {
		ts.offsets[col] = off
		off += columnWidth(ct)
		if ct.Type == sql.StringType || ct.Type == sql.BytesType {
			ts.varCols = append(ts.varCols, col)
		}
	}
	ts.length = off

	return &ts
}

func (ts *Schema) ColumnCount() int {
	return len(ts.colTypes)
}

// TupleLength is the slot length in bytes, header included.
func (ts *Schema) TupleLength() int {
	return ts.length
}

func (ts *Schema) ColumnType(col int) sql.ColumnType {
	return ts.colTypes[col]
}

func (ts *Schema) ColumnTypes() []sql.ColumnType {
	return ts.colTypes
}

func (ts *Schema) ColumnOffset(col int) int {
	return ts.offsets[col]
}

// ColumnWidth is the number of slot bytes column col occupies.
func (ts *Schema) ColumnWidth(col int) int {
	if col+1 < len(ts.offsets) {
		return ts.offsets[col+1] - ts.offsets[col]
	}
	return ts.length - ts.offsets[col]
}

// VarColumns returns the numbers of the columns stored out of line.
func (ts *Schema) VarColumns() []int {
	return ts.varCols
}

func (ts *Schema) Equal(ots *Schema) bool {
	if ots == nil || len(ts.colTypes) != len(ots.colTypes) {
		return false
	}
	for col, ct := range ts.colTypes {
		oct := ots.colTypes[col]
		if ct.Type != oct.Type || ct.Size != oct.Size || ct.Fixed != oct.Fixed ||
			ct.NotNull != oct.NotNull {

			return false
		}
	}
	return true
}
