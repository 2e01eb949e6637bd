package tstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"strings"

	"github.com/tansudb/tansu/sql"
	"github.com/tansudb/tansu/storage"
	"github.com/tansudb/tansu/storage/tuple"
)

// The serialized table format, all integers big-endian:
//
//	[int32 totalSize]  [column header]  [int32 tupleCount]  [tuple ...]
//
// with the column header being
//
//	[int32 headerSize]  [int8 status = -128]  [int16 columnCount]
//	[int8 x columnCount]  [(int32 len, bytes) x columnCount]
//
// Length prefixes do not count their own four bytes. Column names are
// ASCII; tuple payload may contain UTF-8. Variable length columns are
// emitted inline as (int32 len, bytes) with len -1 for null.

const headerStatus = int8(-128)

type writer struct {
	buf []byte
}

func (w *writer) int32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) int16(v int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) int8(v int8) {
	w.buf = append(w.buf, byte(v))
}

func (w *writer) bytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// reserveInt32 writes a placeholder length prefix and returns its position
// for int32At once the length is known.
func (w *writer) reserveInt32() int {
	pos := len(w.buf)
	w.int32(-1)
	return pos
}

func (w *writer) int32At(pos int, v int32) {
	binary.BigEndian.PutUint32(w.buf[pos:], uint32(v))
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return storage.NewError(storage.Deserialization,
			"tstore: truncated input: need %d bytes at %d of %d", n, r.pos, len(r.buf))
	}
	return nil
}

func (r *reader) int32() (int32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *reader) int16() (int16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	return v, nil
}

func (r *reader) int8() (int8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := int8(r.buf[r.pos])
	r.pos++
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// serializeColumnHeader appends the column header, building and caching it
// on first use; the cache is never invalidated, schemas are immutable.
func (tbl *Table) serializeColumnHeader(w *writer) {
	if tbl.headerCache != nil {
		w.bytes(tbl.headerCache)
		return
	}

	start := len(w.buf)
	pos := w.reserveInt32()
	w.int8(headerStatus)
	w.int16(int16(tbl.schema.ColumnCount()))
	for col := 0; col < tbl.schema.ColumnCount(); col++ {
		w.int8(tbl.schema.ColumnType(col).TypeCode())
	}
	for _, nam := range tbl.columnNames {
		w.int32(int32(len(nam)))
		w.bytes([]byte(nam))
	}
	w.int32At(pos, int32(len(w.buf)-start-4))

	tbl.headerCache = append(make([]byte, 0, len(w.buf)-start), w.buf[start:]...)
}

func (tbl *Table) serializeTuple(w *writer, t tuple.Tuple) {
	ts := tbl.schema
	for col := 0; col < ts.ColumnCount(); col++ {
		ct := ts.ColumnType(col)
		switch ct.Type {
		case sql.StringType, sql.BytesType:
			var b []byte
			switch v := t.Value(tbl.pool, col).(type) {
			case nil:
				w.int32(-1)
				continue
			case sql.StringValue:
				b = []byte(v)
			case sql.BytesValue:
				b = []byte(v)
			}
			w.int32(int32(len(b)))
			w.bytes(b)
		default:
			off := ts.ColumnOffset(col)
			w.bytes(t.Data()[off : off+ts.ColumnWidth(col)])
		}
	}
}

// SerializeTo writes the whole table: column header and every active tuple
// in iteration order.
func (tbl *Table) SerializeTo(out io.Writer) error {
	w := &writer{}
	pos := w.reserveInt32()
	tbl.serializeColumnHeader(w)
	w.int32(int32(tbl.tupleCount))

	var written int64
	it := tbl.Iterator()
	defer it.Close()
	for {
		rf, err := it.Next()
		if err == io.EOF {
			break
		}
		tbl.serializeTuple(w, tbl.Tuple(rf))
		written++
	}
	if written != tbl.tupleCount {
		panic(fmt.Sprintf("tstore: %s: serialized %d of %d tuples", tbl.name, written,
			tbl.tupleCount))
	}

	w.int32At(pos, int32(len(w.buf)-4))
	_, err := out.Write(w.buf)
	return err
}

// SerializeTuplesTo writes only the listed tuples, column header included;
// used for error reporting payloads and snapshot chunks.
func (tbl *Table) SerializeTuplesTo(out io.Writer, refs []Ref) error {
	w := &writer{}
	pos := w.reserveInt32()
	tbl.serializeColumnHeader(w)
	w.int32(int32(len(refs)))
	for _, rf := range refs {
		tbl.serializeTuple(w, tbl.Tuple(rf))
	}
	w.int32At(pos, int32(len(w.buf)-4))

	_, err := out.Write(w.buf)
	return err
}

// ApproximateSerializedSize returns an over-estimate of the bytes
// SerializeTo will produce: each tuple serializes to at most its slot
// length plus its out of line payload, and the out of line payload of the
// whole table is its non-inlined byte count.
func (tbl *Table) ApproximateSerializedSize() int64 {
	header := int64(len(tbl.headerCache))
	if header == 0 {
		header = 4 + 1 + 2 + int64(tbl.schema.ColumnCount())
		for _, nam := range tbl.columnNames {
			header += 4 + int64(len(nam))
		}
	}

	return 4 + header + 4 + tbl.tupleCount*int64(tbl.tupleLength) + tbl.nonInlinedBytes
}

func (tbl *Table) expectedColumns() string {
	var sb strings.Builder
	for col := 0; col < tbl.schema.ColumnCount(); col++ {
		fmt.Fprintf(&sb, "  column %d: %s, type = %s\n", col, tbl.columnNames[col],
			sql.TypeCodeName(tbl.schema.ColumnType(col).TypeCode()))
	}
	return sb.String()
}

// deserializeTuple fills the slot behind t from r, charging non-inlined
// bytes to the table.
func (tbl *Table) deserializeTuple(r *reader, t tuple.Tuple) error {
	ts := tbl.schema
	for col := 0; col < ts.ColumnCount(); col++ {
		ct := ts.ColumnType(col)
		switch ct.Type {
		case sql.StringType, sql.BytesType:
			n, err := r.int32()
			if err != nil {
				return err
			}
			if n == -1 {
				if ct.NotNull {
					return storage.NewError(storage.Deserialization,
						"tstore: %s: null for not null column %d (%s)", tbl.name, col,
						tbl.columnNames[col])
				}
				tbl.nonInlinedBytes += int64(t.SetValue(tbl.pool, col, nil))
				continue
			}
			if n < 0 {
				return storage.NewError(storage.Deserialization,
					"tstore: %s: bad length %d for column %d (%s)", tbl.name, n, col,
					tbl.columnNames[col])
			}
			b, err := r.bytes(int(n))
			if err != nil {
				return err
			}
			var v sql.Value
			if ct.Type == sql.StringType {
				v = sql.StringValue(b)
			} else {
				v = sql.BytesValue(b)
			}
			tbl.nonInlinedBytes += int64(t.SetValue(tbl.pool, col, v))
		default:
			b, err := r.bytes(ts.ColumnWidth(col))
			if err != nil {
				return err
			}
			copy(t.Data()[ts.ColumnOffset(col):], b)
		}
	}
	return nil
}

func (tbl *Table) loadTuples(allowExport bool, r *reader) error {
	count, err := r.int32()
	if err != nil {
		return err
	}
	if count < 0 {
		return storage.NewError(storage.Deserialization, "tstore: %s: bad tuple count: %d",
			tbl.name, count)
	}

	for ii := int32(0); ii < count; ii++ {
		rf, err := tbl.NextFreeTuple()
		if err != nil {
			tbl.tupleCount += int64(ii)
			return err
		}

		t := tbl.Tuple(rf)
		t.ClearHeader()
		err = tbl.deserializeTuple(r, t)
		if err != nil {
			tbl.abandonSlot(rf)
			tbl.tupleCount += int64(ii)
			return err
		}
		t.SetActive(true)
		t.SetDirty(false)
		t.SetPendingDelete(false)
		t.SetPendingDeleteOnUndoRelease(false)

		for _, obs := range tbl.observers {
			obs.LoadedTuple(allowExport, rf)
		}
	}

	tbl.tupleCount += int64(count)
	return nil
}

// LoadTuplesFrom reads a serialized table produced by SerializeTo or
// SerializeTuplesTo, validates its column header against the table's
// schema, and inserts every tuple.
func (tbl *Table) LoadTuplesFrom(allowExport bool, in io.Reader) error {
	var prefix [4]byte
	_, err := io.ReadFull(in, prefix[:])
	if err != nil {
		return storage.NewError(storage.Deserialization, "tstore: %s: reading size prefix: %s",
			tbl.name, err)
	}
	total := int32(binary.BigEndian.Uint32(prefix[:]))
	if total < 0 {
		return storage.NewError(storage.Deserialization, "tstore: %s: bad total size: %d",
			tbl.name, total)
	}

	buf := make([]byte, total)
	_, err = io.ReadFull(in, buf)
	if err != nil {
		return storage.NewError(storage.Deserialization, "tstore: %s: reading %d bytes: %s",
			tbl.name, total, err)
	}
	r := &reader{buf: buf}

	headerSize, err := r.int32()
	if err != nil {
		return err
	}
	if headerSize < 3 || int(headerSize) > len(buf)-r.pos {
		return storage.NewError(storage.Deserialization, "tstore: %s: bad header size: %d",
			tbl.name, headerSize)
	}
	status, err := r.int8()
	if err != nil {
		return err
	}
	if status != headerStatus {
		return storage.NewError(storage.Deserialization, "tstore: %s: bad header status: %d",
			tbl.name, status)
	}

	colCount, err := r.int16()
	if err != nil {
		return err
	}
	if colCount < 1 {
		return storage.NewError(storage.Deserialization, "tstore: %s: bad column count: %d",
			tbl.name, colCount)
	}

	codes := make([]int8, colCount)
	for col := range codes {
		codes[col], err = r.int8()
		if err != nil {
			return err
		}
	}
	names := make([]string, colCount)
	for col := range names {
		n, err := r.int32()
		if err != nil {
			return err
		}
		if n < 0 {
			return storage.NewError(storage.Deserialization,
				"tstore: %s: bad column name length: %d", tbl.name, n)
		}
		b, err := r.bytes(int(n))
		if err != nil {
			return err
		}
		names[col] = string(b)
	}

	mismatch := int(colCount) != tbl.schema.ColumnCount()
	if !mismatch {
		for col := range codes {
			if codes[col] != tbl.schema.ColumnType(col).TypeCode() {
				mismatch = true
				break
			}
		}
	}
	if mismatch {
		var sb strings.Builder
		fmt.Fprintf(&sb, "tstore: %s: column mismatch: expecting %d columns, %d given\n",
			tbl.name, tbl.schema.ColumnCount(), colCount)
		sb.WriteString("expecting the following columns:\n")
		sb.WriteString(tbl.expectedColumns())
		sb.WriteString("the following columns are given:\n")
		for col := range names {
			fmt.Fprintf(&sb, "  column %d: %s, type = %s\n", col, names[col],
				sql.TypeCodeName(codes[col]))
		}
		return &storage.Error{Kind: storage.SchemaMismatch, Message: sb.String()}
	}

	return tbl.loadTuples(allowExport, r)
}

// LoadTuplesFromNoHeader reads [int32 tupleCount][tuple ...] with no column
// header; the tuples must match the table's schema.
func (tbl *Table) LoadTuplesFromNoHeader(allowExport bool, in io.Reader) error {
	buf, err := ioutil.ReadAll(in)
	if err != nil {
		return storage.NewError(storage.Deserialization, "tstore: %s: reading tuples: %s",
			tbl.name, err)
	}
	return tbl.loadTuples(allowExport, &reader{buf: buf})
}
