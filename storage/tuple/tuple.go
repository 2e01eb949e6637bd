package tuple

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tansudb/tansu/sql"
)

const (
	activeFlag                     = 0x01
	dirtyFlag                      = 0x02
	pendingDeleteFlag              = 0x04
	pendingDeleteOnUndoReleaseFlag = 0x08

	handleWidth = 4

	nullBool = 0x80
)

// Null sentinels for fixed width columns.
var (
	nullInt16     = int64(math.MinInt16)
	nullInt32     = int64(math.MinInt32)
	nullInt64     = int64(math.MinInt64)
	nullFloatBits = math.Float64bits(-math.MaxFloat64)
)

// SlotActive reports whether the slot beginning at slot[0] holds an active
// tuple; it lets the block layer test occupancy without a schema.
func SlotActive(slot []byte) bool {
	return slot[0]&activeFlag != 0
}

// Tuple is a borrowed view of a slot: one status byte followed by the
// schema defined column payload. A Tuple never owns the slot.
type Tuple struct {
	ts   *Schema
	data []byte
}

func MakeTuple(ts *Schema, data []byte) Tuple {
	if len(data) != ts.TupleLength() {
		panic(fmt.Sprintf("tuple: slot length %d does not match schema length %d", len(data),
			ts.TupleLength()))
	}
	return Tuple{ts: ts, data: data}
}

func (t Tuple) IsNil() bool {
	return t.data == nil
}

func (t Tuple) Schema() *Schema {
	return t.ts
}

func (t Tuple) Data() []byte {
	return t.data
}

func (t Tuple) flag(f byte) bool {
	return t.data[0]&f != 0
}

func (t Tuple) setFlag(f byte, b bool) {
	if b {
		t.data[0] |= f
	} else {
		t.data[0] &^= f
	}
}

func (t Tuple) IsActive() bool        { return t.flag(activeFlag) }
func (t Tuple) SetActive(b bool)      { t.setFlag(activeFlag, b) }
func (t Tuple) IsDirty() bool         { return t.flag(dirtyFlag) }
func (t Tuple) SetDirty(b bool)       { t.setFlag(dirtyFlag, b) }
func (t Tuple) IsPendingDelete() bool { return t.flag(pendingDeleteFlag) }
func (t Tuple) SetPendingDelete(b bool) {
	t.setFlag(pendingDeleteFlag, b)
}
func (t Tuple) IsPendingDeleteOnUndoRelease() bool {
	return t.flag(pendingDeleteOnUndoReleaseFlag)
}
func (t Tuple) SetPendingDeleteOnUndoRelease(b bool) {
	t.setFlag(pendingDeleteOnUndoReleaseFlag, b)
}

// ClearHeader resets all status flags.
func (t Tuple) ClearHeader() {
	t.data[0] = 0
}

func nullInt(width int) int64 {
	switch width {
	case 2:
		return nullInt16
	case 4:
		return nullInt32
	}
	return nullInt64
}

func (t Tuple) intAt(off, width int) int64 {
	switch width {
	case 2:
		return int64(int16(binary.BigEndian.Uint16(t.data[off:])))
	case 4:
		return int64(int32(binary.BigEndian.Uint32(t.data[off:])))
	}
	return int64(binary.BigEndian.Uint64(t.data[off:]))
}

func (t Tuple) putIntAt(off, width int, i int64) {
	switch width {
	case 2:
		binary.BigEndian.PutUint16(t.data[off:], uint16(i))
	case 4:
		binary.BigEndian.PutUint32(t.data[off:], uint32(i))
	default:
		binary.BigEndian.PutUint64(t.data[off:], uint64(i))
	}
}

func (t Tuple) handleAt(col int) Handle {
	return Handle(binary.BigEndian.Uint32(t.data[t.ts.ColumnOffset(col):]))
}

func (t Tuple) putHandleAt(col int, h Handle) {
	binary.BigEndian.PutUint32(t.data[t.ts.ColumnOffset(col):], uint32(h))
}

// Value decodes column col; a null column decodes as nil.
func (t Tuple) Value(pool *Pool, col int) sql.Value {
	ct := t.ts.ColumnType(col)
	off := t.ts.ColumnOffset(col)

	switch ct.Type {
	case sql.BooleanType:
		b := t.data[off]
		if b == nullBool {
			return nil
		}
		return sql.BoolValue(b != 0)
	case sql.IntegerType:
		w := columnWidth(ct)
		i := t.intAt(off, w)
		if i == nullInt(w) {
			return nil
		}
		return sql.Int64Value(i)
	case sql.FloatType:
		bits := binary.BigEndian.Uint64(t.data[off:])
		if bits == nullFloatBits {
			return nil
		}
		return sql.Float64Value(math.Float64frombits(bits))
	case sql.StringType:
		h := t.handleAt(col)
		if h == 0 {
			return nil
		}
		return sql.StringValue(pool.Bytes(h))
	case sql.BytesType:
		h := t.handleAt(col)
		if h == 0 {
			return nil
		}
		return sql.BytesValue(pool.Bytes(h))
	}

	panic(fmt.Sprintf("tuple: expected a valid data type; got %v", ct.Type))
}

// SetValue encodes v into column col and returns the change in non-inlined
// bytes held on the owning table's behalf.
func (t Tuple) SetValue(pool *Pool, col int, v sql.Value) int {
	ct := t.ts.ColumnType(col)
	off := t.ts.ColumnOffset(col)

	if v == nil {
		if ct.NotNull {
			panic(fmt.Sprintf("tuple: column %d may not be null", col))
		}
		switch ct.Type {
		case sql.BooleanType:
			t.data[off] = nullBool
		case sql.IntegerType:
			w := columnWidth(ct)
			t.putIntAt(off, w, nullInt(w))
		case sql.FloatType:
			binary.BigEndian.PutUint64(t.data[off:], nullFloatBits)
		case sql.StringType, sql.BytesType:
			delta := -pool.Free(t.handleAt(col))
			t.putHandleAt(col, 0)
			return delta
		}
		return 0
	}

	switch ct.Type {
	case sql.BooleanType:
		b, ok := v.(sql.BoolValue)
		if !ok {
			panic(fmt.Sprintf("tuple: column %d: want boolean got %s", col, sql.Format(v)))
		}
		if b {
			t.data[off] = 1
		} else {
			t.data[off] = 0
		}
	case sql.IntegerType:
		i, ok := v.(sql.Int64Value)
		if !ok {
			panic(fmt.Sprintf("tuple: column %d: want integer got %s", col, sql.Format(v)))
		}
		t.putIntAt(off, columnWidth(ct), int64(i))
	case sql.FloatType:
		f, ok := v.(sql.Float64Value)
		if !ok {
			panic(fmt.Sprintf("tuple: column %d: want float got %s", col, sql.Format(v)))
		}
		binary.BigEndian.PutUint64(t.data[off:], math.Float64bits(float64(f)))
	case sql.StringType:
		s, ok := v.(sql.StringValue)
		if !ok {
			panic(fmt.Sprintf("tuple: column %d: want string got %s", col, sql.Format(v)))
		}
		return t.setVar(pool, col, []byte(s))
	case sql.BytesType:
		b, ok := v.(sql.BytesValue)
		if !ok {
			panic(fmt.Sprintf("tuple: column %d: want bytes got %s", col, sql.Format(v)))
		}
		return t.setVar(pool, col, []byte(b))
	default:
		panic(fmt.Sprintf("tuple: expected a valid data type; got %v", ct.Type))
	}

	return 0
}

func (t Tuple) setVar(pool *Pool, col int, b []byte) int {
	delta := -pool.Free(t.handleAt(col))
	t.putHandleAt(col, pool.Alloc(b))
	return delta + len(b)
}

// SetRow encodes an entire row; returns the change in non-inlined bytes.
func (t Tuple) SetRow(pool *Pool, row []sql.Value) int {
	if len(row) != t.ts.ColumnCount() {
		panic(fmt.Sprintf("tuple: row has %d values; schema has %d columns", len(row),
			t.ts.ColumnCount()))
	}

	var delta int
	for col := range row {
		delta += t.SetValue(pool, col, row[col])
	}
	return delta
}

func (t Tuple) Row(pool *Pool) []sql.Value {
	row := make([]sql.Value, t.ts.ColumnCount())
	for col := range row {
		row[col] = t.Value(pool, col)
	}
	return row
}

// FreeValues releases the out of line storage referenced by this slot and
// returns the number of bytes released. The slot payload is left as is; the
// caller is expected to free or overwrite the slot.
func (t Tuple) FreeValues(pool *Pool) int {
	var freed int
	for _, col := range t.ts.VarColumns() {
		freed += pool.Free(t.handleAt(col))
		t.putHandleAt(col, 0)
	}
	return freed
}

// Equal compares the column values of two tuples; flags are not compared.
func (t Tuple) Equal(pool *Pool, ot Tuple, opool *Pool) bool {
	if !t.ts.Equal(ot.ts) {
		return false
	}
	for col := 0; col < t.ts.ColumnCount(); col++ {
		if sql.Compare(t.Value(pool, col), ot.Value(opool, col)) != 0 {
			return false
		}
	}
	return true
}
