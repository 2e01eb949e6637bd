package tstore

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/tansudb/tansu/sql"
)

// DebugDump renders the table's metadata, columns, and rows for debugging.
func (tbl *Table) DebugDump(out io.Writer) {
	fmt.Fprintf(out, "%s(%s):\n", tbl.tableType, tbl.name)
	fmt.Fprintf(out, "    active tuples: %d\n", tbl.tupleCount)
	fmt.Fprintf(out, "    allocated tuples: %d\n", tbl.allocatedCount)
	fmt.Fprintf(out, "    blocks: %d\n", tbl.blocks.Len())
	fmt.Fprintf(out, "    non-inlined bytes: %d\n", tbl.nonInlinedBytes)

	for col := 0; col < tbl.schema.ColumnCount(); col++ {
		fmt.Fprintf(out, "    column %d: %s %s\n", col, tbl.columnNames[col],
			tbl.schema.ColumnType(col).DataType())
	}

	tw := tablewriter.NewWriter(out)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader(tbl.columnNames)

	row := make([]string, tbl.schema.ColumnCount())
	it := tbl.Iterator()
	defer it.Close()
	for {
		rf, err := it.Next()
		if err == io.EOF {
			break
		}

		t := tbl.Tuple(rf)
		for cdx := range row {
			v := t.Value(tbl.pool, cdx)
			if s, ok := v.(sql.StringValue); ok {
				row[cdx] = string(s)
			} else {
				row[cdx] = sql.Format(v)
			}
		}
		tw.Append(row)
	}
	tw.Render()
	fmt.Fprintf(out, "(%d rows)\n", tw.NumLines())
}
